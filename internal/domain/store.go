package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market records. Create returns ErrAlreadyExists when
// the id is taken.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	Update(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id common.Hash) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	ListResolved(ctx context.Context, opts ListOpts) ([]Market, error)
}

// AssertionStore is the keyed table of live assertions.
type AssertionStore interface {
	Create(ctx context.Context, a PendingAssertion) error
	GetByID(ctx context.Context, id common.Hash) (PendingAssertion, error)
	GetByMarket(ctx context.Context, marketID common.Hash) (PendingAssertion, error)
	Delete(ctx context.Context, id common.Hash) error
}

// PoolStore persists one pool per market.
type PoolStore interface {
	Create(ctx context.Context, p PoolRecord) error
	GetByMarket(ctx context.Context, marketID common.Hash) (PoolRecord, error)
	GetByPool(ctx context.Context, pool common.Address) (PoolRecord, error)
	MarkInitialized(ctx context.Context, marketID common.Hash) error
}

// PositionStore is the keyed (user, market) position table.
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	Get(ctx context.Context, user common.Address, marketID common.Hash) (Position, error)
	Touch(ctx context.Context, user common.Address, marketID common.Hash, at time.Time) error
	ListByUser(ctx context.Context, user common.Address) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
