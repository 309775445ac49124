// Package memoracle is an in-process optimistic truth oracle. Assertions are
// bonded, can be disputed during their liveness window, and are resolved by
// Settle (undisputed) or ResolveDispute. Verdicts are delivered to the
// handler registered for the assertion's callback recipient.
package memoracle

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// Status of an assertion inside the oracle.
type Status string

const (
	StatusPending  Status = "pending"
	StatusDisputed Status = "disputed"
	StatusSettled  Status = "settled"
)

// Assertion is the oracle's view of a submitted claim.
type Assertion struct {
	ID                common.Hash
	Claim             string
	Asserter          common.Address
	CallbackRecipient common.Address
	Currency          common.Address
	Bond              *big.Int
	Identifier        [32]byte
	CreatedAt         time.Time
	ExpiresAt         time.Time
	Disputer          common.Address
	Status            Status
	Truthful          bool
}

type entry struct {
	Assertion
	busy bool
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Oracle) { o.now = now }
}

// WithDefaultLiveness is used when a request carries no liveness.
func WithDefaultLiveness(d time.Duration) Option {
	return func(o *Oracle) { o.defaultLiveness = d }
}

// Oracle implements domain.Oracle.
type Oracle struct {
	address         common.Address
	assets          domain.AssetRegistry
	minBond         *big.Int
	defaultLiveness time.Duration
	now             func() time.Time
	logger          *slog.Logger

	mu         sync.Mutex
	assertions map[common.Hash]*entry
	recipients map[common.Address]domain.ResolutionHandler
	nonce      uint64
}

// New creates an Oracle that holds bonds at address.
func New(address common.Address, assets domain.AssetRegistry, minBond *big.Int, logger *slog.Logger, opts ...Option) *Oracle {
	o := &Oracle{
		address:         address,
		assets:          assets,
		minBond:         new(big.Int).Set(minBond),
		defaultLiveness: 2 * time.Hour,
		now:             time.Now,
		logger:          logger.With(slog.String("component", "memoracle")),
		assertions:      make(map[common.Hash]*entry),
		recipients:      make(map[common.Address]domain.ResolutionHandler),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

var _ domain.Oracle = (*Oracle)(nil)

// Address is the sender identity on every callback.
func (o *Oracle) Address() common.Address { return o.address }

// Register routes callbacks for recipient to h.
func (o *Oracle) Register(recipient common.Address, h domain.ResolutionHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recipients[recipient] = h
}

// MinimumBond is the same for every currency.
func (o *Oracle) MinimumBond(_ context.Context, _ common.Address) (*big.Int, error) {
	return new(big.Int).Set(o.minBond), nil
}

// AssertTruth pulls the bond from req.Payer and opens the liveness window.
func (o *Oracle) AssertTruth(ctx context.Context, req domain.AssertionRequest) (common.Hash, error) {
	if req.Bond == nil || req.Bond.Cmp(o.minBond) < 0 {
		return common.Hash{}, fmt.Errorf("memoracle: assert: bond below minimum %s: %w", o.minBond, domain.ErrInvalidAmount)
	}
	asset, err := o.assets.Asset(req.Currency)
	if err != nil {
		return common.Hash{}, fmt.Errorf("memoracle: assert: %w", err)
	}
	if err := asset.TransferFrom(ctx, o.address, req.Payer, o.address, req.Bond); err != nil {
		return common.Hash{}, fmt.Errorf("memoracle: assert: pull bond: %w", err)
	}

	liveness := req.Liveness
	if liveness <= 0 {
		liveness = o.defaultLiveness
	}
	now := o.now().UTC()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.nonce++
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], o.nonce)
	id := ethcrypto.Keccak256Hash(req.Claim, req.Asserter.Bytes(), req.CallbackRecipient.Bytes(), nonce[:])

	o.assertions[id] = &entry{Assertion: Assertion{
		ID:                id,
		Claim:             string(req.Claim),
		Asserter:          req.Asserter,
		CallbackRecipient: req.CallbackRecipient,
		Currency:          req.Currency,
		Bond:              new(big.Int).Set(req.Bond),
		Identifier:        req.Identifier,
		CreatedAt:         now,
		ExpiresAt:         now.Add(liveness),
		Status:            StatusPending,
	}}
	o.logger.InfoContext(ctx, "memoracle: assertion made",
		slog.String("assertion_id", id.Hex()),
		slog.String("asserter", req.Asserter.Hex()),
		slog.String("bond", req.Bond.String()),
		slog.Time("expires_at", now.Add(liveness)),
	)
	return id, nil
}

// Get returns a snapshot of an assertion.
func (o *Oracle) Get(id common.Hash) (Assertion, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.assertions[id]
	if !ok {
		return Assertion{}, fmt.Errorf("memoracle: assertion %s: %w", id.Hex(), domain.ErrUnknownAssertion)
	}
	out := e.Assertion
	out.Bond = new(big.Int).Set(e.Bond)
	return out, nil
}

// Expired lists pending assertions whose liveness has run out, oldest first.
func (o *Oracle) Expired() []common.Hash {
	now := o.now()
	o.mu.Lock()
	var due []*entry
	for _, e := range o.assertions {
		if e.Status == StatusPending && !e.busy && !now.Before(e.ExpiresAt) {
			due = append(due, e)
		}
	}
	o.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	ids := make([]common.Hash, len(due))
	for i, e := range due {
		ids[i] = e.ID
	}
	return ids
}

// Settle resolves an undisputed assertion as truthful once its liveness
// has expired and returns the bond to the asserter.
func (o *Oracle) Settle(ctx context.Context, id common.Hash) error {
	e, handler, err := o.begin(id, func(e *entry) error {
		switch {
		case e.Status == StatusSettled:
			return domain.ErrAssertionSettled
		case e.Status == StatusDisputed:
			return fmt.Errorf("assertion is disputed: %w", domain.ErrAssertionActiveOrResolved)
		case o.now().Before(e.ExpiresAt):
			return domain.ErrLivenessNotExpired
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("memoracle: settle %s: %w", id.Hex(), err)
	}
	return o.finish(ctx, e, handler, true, e.Asserter, e.Bond)
}

// Dispute challenges a pending assertion before it expires. The disputer
// posts a bond equal to the asserter's.
func (o *Oracle) Dispute(ctx context.Context, id common.Hash, disputer common.Address) error {
	e, handler, err := o.begin(id, func(e *entry) error {
		switch {
		case e.Status != StatusPending:
			return domain.ErrAssertionActiveOrResolved
		case !o.now().Before(e.ExpiresAt):
			return fmt.Errorf("liveness expired: %w", domain.ErrAssertionActiveOrResolved)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("memoracle: dispute %s: %w", id.Hex(), err)
	}
	defer o.release(id)

	asset, err := o.assets.Asset(e.Currency)
	if err != nil {
		return fmt.Errorf("memoracle: dispute %s: %w", id.Hex(), err)
	}
	if err := asset.TransferFrom(ctx, o.address, disputer, o.address, e.Bond); err != nil {
		return fmt.Errorf("memoracle: dispute %s: pull bond: %w", id.Hex(), err)
	}
	if handler != nil {
		if err := handler.HandleDispute(ctx, domain.DisputeMessage{Sender: o.address, AssertionID: id}); err != nil {
			_ = asset.Transfer(ctx, o.address, disputer, e.Bond)
			return fmt.Errorf("memoracle: dispute %s: callback: %w", id.Hex(), err)
		}
	}

	o.mu.Lock()
	o.assertions[id].Status = StatusDisputed
	o.assertions[id].Disputer = disputer
	o.mu.Unlock()
	o.logger.InfoContext(ctx, "memoracle: assertion disputed",
		slog.String("assertion_id", id.Hex()),
		slog.String("disputer", disputer.Hex()),
	)
	return nil
}

// ResolveDispute stands in for arbitration: the winning side receives both
// bonds.
func (o *Oracle) ResolveDispute(ctx context.Context, id common.Hash, truthful bool) error {
	e, handler, err := o.begin(id, func(e *entry) error {
		if e.Status != StatusDisputed {
			return fmt.Errorf("assertion is not disputed: %w", domain.ErrAssertionActiveOrResolved)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("memoracle: resolve dispute %s: %w", id.Hex(), err)
	}
	winner := e.Disputer
	if truthful {
		winner = e.Asserter
	}
	return o.finish(ctx, e, handler, truthful, winner, new(big.Int).Mul(e.Bond, big.NewInt(2)))
}

// begin marks the assertion busy after check passes, so concurrent
// settlement attempts cannot deliver twice.
func (o *Oracle) begin(id common.Hash, check func(*entry) error) (Assertion, domain.ResolutionHandler, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.assertions[id]
	if !ok {
		return Assertion{}, nil, domain.ErrUnknownAssertion
	}
	if e.busy {
		return Assertion{}, nil, domain.ErrLockHeld
	}
	if err := check(e); err != nil {
		return Assertion{}, nil, err
	}
	e.busy = true
	snap := e.Assertion
	snap.Bond = new(big.Int).Set(e.Bond)
	return snap, o.recipients[e.CallbackRecipient], nil
}

func (o *Oracle) release(id common.Hash) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.assertions[id]; ok {
		e.busy = false
	}
}

// finish delivers the verdict, then pays out. A failed callback leaves the
// assertion unsettled so it can be retried.
func (o *Oracle) finish(ctx context.Context, a Assertion, handler domain.ResolutionHandler, truthful bool, payee common.Address, payout *big.Int) error {
	defer o.release(a.ID)

	if handler != nil {
		msg := domain.ResolutionMessage{Sender: o.address, AssertionID: a.ID, Truthful: truthful}
		if err := handler.HandleResolution(ctx, msg); err != nil {
			return fmt.Errorf("memoracle: resolve %s: callback: %w", a.ID.Hex(), err)
		}
	}

	asset, err := o.assets.Asset(a.Currency)
	if err != nil {
		return fmt.Errorf("memoracle: resolve %s: %w", a.ID.Hex(), err)
	}
	if err := asset.Transfer(ctx, o.address, payee, payout); err != nil {
		return fmt.Errorf("memoracle: resolve %s: pay bond: %w", a.ID.Hex(), err)
	}

	o.mu.Lock()
	o.assertions[a.ID].Status = StatusSettled
	o.assertions[a.ID].Truthful = truthful
	o.mu.Unlock()

	o.logger.InfoContext(ctx, "memoracle: assertion settled",
		slog.String("assertion_id", a.ID.Hex()),
		slog.Bool("truthful", truthful),
		slog.String("payee", payee.Hex()),
	)
	return nil
}
