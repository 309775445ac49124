// Package ledger implements the market ledger: it opens binary outcome
// markets, mints and redeems fully collateralized outcome token pairs,
// submits bonded outcome assertions to the oracle and settles token holders
// once the oracle has resolved a market.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/claim"
	"github.com/alanyoungcy/outcomeledger/internal/custody"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
	"github.com/alanyoungcy/outcomeledger/internal/journal"
	"github.com/alanyoungcy/outcomeledger/internal/token"
)

const (
	defaultLockTTL        = 30 * time.Second
	defaultLiveness       = 7200 * time.Second
	defaultMarketIDWindow = 12 * time.Second
)

// Config configures a Ledger.
type Config struct {
	// Address is the ledger account: it holds collateral, rewards and bonds
	// and is the oracle callback recipient.
	Address    common.Address
	Collateral common.Address

	// MarketIDWindow is the width of the context window hashed into market
	// ids. Identical descriptions opened within one window collide.
	MarketIDWindow time.Duration
	DefaultFeeTier uint32
	Liveness       time.Duration
	Identifier     string
	LockTTL        time.Duration
}

// TokenRegistry resolves assets and accepts newly created outcome tokens.
type TokenRegistry interface {
	domain.AssetRegistry
	Register(a domain.Asset) error
}

// AddressSource hands out fresh outcome token addresses.
type AddressSource interface {
	Next() common.Address
}

// Custodian is the part of the position custodian the ledger drives.
type Custodian interface {
	Address() common.Address
	EnsurePool(ctx context.Context, tokenA, tokenB common.Address, feeTier uint32, marketID common.Hash) (common.Address, error)
	AddLiquidity(ctx context.Context, payer common.Address, req custody.AddLiquidityRequest) (custody.LiquidityResult, error)
}

// Gate decides who may open markets.
type Gate interface {
	Check(addr common.Address) error
}

// Deps are the Ledger's collaborators. Gate may be nil.
type Deps struct {
	Assets     TokenRegistry
	Addresses  AddressSource
	Oracle     domain.Oracle
	Custodian  Custodian
	Markets    domain.MarketStore
	Assertions domain.AssertionStore
	Locks      domain.LockManager
	Gate       Gate
	Journal    *journal.Journal
}

// outcomeHandles are the mint/burn capabilities for one market's legs.
type outcomeHandles struct {
	leg1, leg2 *token.MintBurnHandle
}

// Ledger implements the market ledger.
type Ledger struct {
	cfg        Config
	identifier [32]byte

	assets     TokenRegistry
	addrs      AddressSource
	oracle     domain.Oracle
	custodian  Custodian
	markets    domain.MarketStore
	assertions domain.AssertionStore
	locks      domain.LockManager
	gate       Gate
	journal    *journal.Journal
	logger     *slog.Logger
	now        func() time.Time

	handlesMu sync.RWMutex
	handles   map[common.Hash]outcomeHandles
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger.
func New(cfg Config, deps Deps, logger *slog.Logger, opts ...Option) *Ledger {
	if cfg.MarketIDWindow <= 0 {
		cfg.MarketIDWindow = defaultMarketIDWindow
	}
	if cfg.DefaultFeeTier == 0 {
		cfg.DefaultFeeTier = claim.FeeTierMedium
	}
	if cfg.Liveness <= 0 {
		cfg.Liveness = defaultLiveness
	}
	if cfg.Identifier == "" {
		cfg.Identifier = claim.DefaultIdentifier
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	l := &Ledger{
		cfg:        cfg,
		identifier: claim.Identifier(cfg.Identifier),
		assets:     deps.Assets,
		addrs:      deps.Addresses,
		oracle:     deps.Oracle,
		custodian:  deps.Custodian,
		markets:    deps.Markets,
		assertions: deps.Assertions,
		locks:      deps.Locks,
		gate:       deps.Gate,
		journal:    deps.Journal,
		logger:     logger.With(slog.String("component", "ledger")),
		now:        time.Now,
		handles:    make(map[common.Hash]outcomeHandles),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ domain.ResolutionHandler = (*Ledger)(nil)

// Address is the ledger account.
func (l *Ledger) Address() common.Address { return l.cfg.Address }

// CollateralAddress is the collateral asset.
func (l *Ledger) CollateralAddress() common.Address { return l.cfg.Collateral }

func (l *Ledger) lock(ctx context.Context, marketID common.Hash) (func(), error) {
	unlock, err := l.locks.Acquire(ctx, "ledger:"+marketID.Hex(), l.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("ledger: lock market %s: %w", marketID.Hex(), err)
	}
	return unlock, nil
}

func (l *Ledger) collateral() (domain.Asset, error) {
	a, err := l.assets.Asset(l.cfg.Collateral)
	if err != nil {
		return nil, fmt.Errorf("ledger: collateral: %w", err)
	}
	return a, nil
}

// market loads a market, mapping a miss to domain.ErrMarketDoesNotExist.
func (l *Ledger) market(ctx context.Context, id common.Hash) (domain.Market, error) {
	m, err := l.markets.GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Market{}, fmt.Errorf("ledger: market %s: %w", id.Hex(), domain.ErrMarketDoesNotExist)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger: get market %s: %w", id.Hex(), err)
	}
	return m, nil
}

func (l *Ledger) outcomeHandles(id common.Hash) (outcomeHandles, error) {
	l.handlesMu.RLock()
	defer l.handlesMu.RUnlock()
	h, ok := l.handles[id]
	if !ok {
		return outcomeHandles{}, fmt.Errorf("ledger: outcome tokens for market %s not loaded: %w", id.Hex(), domain.ErrMarketDoesNotExist)
	}
	return h, nil
}

// pull moves amount of a from owner to the ledger using the ledger's allowance.
func (l *Ledger) pull(ctx context.Context, a domain.Asset, owner common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := a.TransferFrom(ctx, l.cfg.Address, owner, l.cfg.Address, amount); err != nil {
		return fmt.Errorf("ledger: pull %s %s from %s: %w", amount, a.Symbol(), owner.Hex(), err)
	}
	return nil
}

// pay moves amount of a out of the ledger.
func (l *Ledger) pay(ctx context.Context, a domain.Asset, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	if err := a.Transfer(ctx, l.cfg.Address, to, amount); err != nil {
		return fmt.Errorf("ledger: pay %s %s to %s: %w", amount, a.Symbol(), to.Hex(), err)
	}
	return nil
}

// compensate runs an undo step on a path that is already failing.
func (l *Ledger) compensate(ctx context.Context, what string, err error) {
	if err != nil {
		l.logger.ErrorContext(ctx, "ledger: compensation failed",
			slog.String("step", what),
			slog.String("error", err.Error()),
		)
	}
}

// resetApproval zeroes the ledger's allowance to spender. A failure leaves
// a stale allowance behind and is only logged.
func (l *Ledger) resetApproval(ctx context.Context, a domain.Asset, spender common.Address) {
	if err := a.Approve(ctx, l.cfg.Address, spender, new(big.Int)); err != nil {
		l.logger.WarnContext(ctx, "ledger: reset approval failed",
			slog.String("token", a.Symbol()),
			slog.String("spender", spender.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// GetMarket returns a market.
func (l *Ledger) GetMarket(ctx context.Context, id common.Hash) (domain.Market, error) {
	return l.market(ctx, id)
}

// ListMarkets lists markets newest first.
func (l *Ledger) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	list, err := l.markets.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: list markets: %w", err)
	}
	return list, nil
}

// MarketState returns the market's lifecycle state.
func (l *Ledger) MarketState(ctx context.Context, id common.Hash) (domain.MarketState, error) {
	m, err := l.market(ctx, id)
	if err != nil {
		return "", err
	}
	return m.State(), nil
}

// Collateral is the collateral locked behind the market's outstanding pairs.
func (l *Ledger) Collateral(ctx context.Context, id common.Hash) (*big.Int, error) {
	m, err := l.market(ctx, id)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(m.Collateral), nil
}

// Supply returns the total supply of both legs.
func (l *Ledger) Supply(ctx context.Context, id common.Hash) (*big.Int, *big.Int, error) {
	h, err := l.outcomeHandles(id)
	if err != nil {
		return nil, nil, err
	}
	s1, err := h.leg1.Token().TotalSupply(ctx)
	if err != nil {
		return nil, nil, err
	}
	s2, err := h.leg2.Token().TotalSupply(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s1, s2, nil
}

// PendingAssertion returns the market's live assertion, if any.
func (l *Ledger) PendingAssertion(ctx context.Context, id common.Hash) (domain.PendingAssertion, error) {
	a, err := l.assertions.GetByMarket(ctx, id)
	if err != nil {
		return domain.PendingAssertion{}, fmt.Errorf("ledger: pending assertion %s: %w", id.Hex(), err)
	}
	return a, nil
}
