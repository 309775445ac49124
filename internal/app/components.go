package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/access"
	"github.com/alanyoungcy/outcomeledger/internal/config"
	"github.com/alanyoungcy/outcomeledger/internal/crypto"
	"github.com/alanyoungcy/outcomeledger/internal/custody"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
	"github.com/alanyoungcy/outcomeledger/internal/engine/memengine"
	"github.com/alanyoungcy/outcomeledger/internal/feed"
	"github.com/alanyoungcy/outcomeledger/internal/journal"
	"github.com/alanyoungcy/outcomeledger/internal/ledger"
	"github.com/alanyoungcy/outcomeledger/internal/oracle/memoracle"
	"github.com/alanyoungcy/outcomeledger/internal/token"
)

// Components are the ledger, its custodian and the in-process collaborators
// they settle against.
type Components struct {
	Registry   *token.Registry
	Collateral *token.Token
	Faucet     *token.MintBurnHandle
	Engine     *memengine.Engine
	Custodian  *custody.Custodian
	Oracle     *memoracle.Oracle
	Ledger     *ledger.Ledger
	Journal    *journal.Journal

	// Feed carries signed oracle callbacks to the ledger in full mode.
	Feed *feed.ResolutionFeed
}

// Build assembles the ledger components on top of deps. In memory mode the
// oracle calls the ledger directly; in full mode every callback is signed,
// appended to the callback stream and verified by the feed before it reaches
// the ledger.
func Build(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*Components, error) {
	ledgerAddr := config.Address(cfg.Ledger.Address)
	collateralAddr := config.Address(cfg.Ledger.Collateral)

	if err := requireFreshLedger(ctx, deps.MarketStore); err != nil {
		return nil, err
	}

	minBond, err := config.Amount(cfg.Oracle.MinBond)
	if err != nil {
		return nil, fmt.Errorf("build: oracle min_bond: %w", err)
	}

	reg := token.NewRegistry()
	collateral, faucet := token.NewMintable(collateralAddr, cfg.Ledger.CollateralSymbol, uint8(cfg.Ledger.CollateralDecimals))
	if err := reg.Register(collateral); err != nil {
		return nil, fmt.Errorf("build: register collateral: %w", err)
	}

	j := journal.New(deps.SignalBus, deps.AuditStore, logger)

	engineAddr := config.Address(cfg.Custody.EngineAddress)
	eng := memengine.New(engineAddr, reg, token.NewAddressAllocator(engineAddr, 1))
	cust := custody.New(
		custody.Config{Address: config.Address(cfg.Custody.Address), LockTTL: cfg.Custody.LockTTL.Duration},
		eng, reg, deps.PoolStore, deps.PositionStore, deps.LockManager, j, logger,
	)

	var signer *crypto.CallbackSigner
	oracleAddr := config.Address(cfg.Oracle.Address)
	if cfg.Mode == config.ModeFull {
		signer, err = crypto.LoadCallbackSigner(crypto.KeyConfig{
			RawPrivateKey:    cfg.Oracle.PrivateKey,
			EncryptedKeyPath: cfg.Oracle.EncryptedKeyPath,
			KeyPassword:      cfg.Oracle.KeyPassword,
		}, cfg.Oracle.ChainID)
		if err != nil {
			return nil, fmt.Errorf("build: callback signer: %w", err)
		}
		// The ledger only honours callbacks sent by its oracle.
		oracleAddr = signer.Address()
	}
	orc := memoracle.New(oracleAddr, reg, minBond, logger,
		memoracle.WithDefaultLiveness(cfg.Oracle.Liveness.Duration))

	ldeps := ledger.Deps{
		Assets:     reg,
		Addresses:  token.NewAddressAllocator(ledgerAddr, cfg.Ledger.DeployNonce),
		Oracle:     orc,
		Custodian:  cust,
		Markets:    deps.MarketStore,
		Assertions: deps.AssertionStore,
		Locks:      deps.LockManager,
		Journal:    j,
	}
	if cfg.Access.Enabled {
		ldeps.Gate = access.NewGate(config.Address(cfg.Access.Owner), addresses(cfg.Access.Whitelist))
	}
	l := ledger.New(ledger.Config{
		Address:        ledgerAddr,
		Collateral:     collateralAddr,
		MarketIDWindow: cfg.Ledger.MarketIDWindow.Duration,
		DefaultFeeTier: uint32(cfg.Ledger.DefaultFeeTier),
		Liveness:       cfg.Oracle.Liveness.Duration,
		Identifier:     cfg.Ledger.Identifier,
		LockTTL:        cfg.Ledger.LockTTL.Duration,
	}, ldeps, logger)

	c := &Components{
		Registry:   reg,
		Collateral: collateral,
		Faucet:     faucet,
		Engine:     eng,
		Custodian:  cust,
		Oracle:     orc,
		Ledger:     l,
		Journal:    j,
	}

	if signer == nil {
		orc.Register(ledgerAddr, l)
	} else {
		orc.Register(ledgerAddr, feed.NewSignedPublisher(deps.SignalBus, signer, logger))
		c.Feed = feed.NewResolutionFeed(deps.SignalBus,
			crypto.NewVerifier(cfg.Oracle.ChainID, cfg.Oracle.CallbackMaxAge.Duration), l, logger)
		c.Feed.SetPollInterval(cfg.Oracle.FeedPollInterval.Duration)
	}

	if err := fundAccounts(ctx, cfg, faucet); err != nil {
		return nil, err
	}
	return c, nil
}

// requireFreshLedger refuses to start over stored markets. Token balances,
// pools and position handles are held in process, so markets persisted by an
// earlier run could not be minted, redeemed or settled, and fresh pool
// addresses and handles would collide with the stored ones.
func requireFreshLedger(ctx context.Context, markets domain.MarketStore) error {
	existing, err := markets.List(ctx, domain.ListOpts{Limit: 1})
	if err != nil {
		return fmt.Errorf("build: list markets: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("build: market store already holds %s: %w", existing[0].ID.Hex(), domain.ErrUnrecoverableState)
	}
	return nil
}

// fundAccounts mints the configured starting balance to each devnet account.
func fundAccounts(ctx context.Context, cfg *config.Config, faucet *token.MintBurnHandle) error {
	amount, err := config.Amount(cfg.Devnet.InitialBalance)
	if err != nil {
		return fmt.Errorf("build: devnet initial_balance: %w", err)
	}
	if amount.Sign() == 0 {
		return nil
	}
	for _, who := range addresses(cfg.Devnet.Accounts) {
		if err := faucet.Mint(ctx, who, new(big.Int).Set(amount)); err != nil {
			return fmt.Errorf("build: fund %s: %w", who.Hex(), err)
		}
	}
	return nil
}

func addresses(in []string) []common.Address {
	out := make([]common.Address, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, config.Address(s))
		}
	}
	return out
}
