package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// PoolStore implements domain.PoolStore.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a new PoolStore.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

var _ domain.PoolStore = (*PoolStore)(nil)

const poolCols = `market_id, pool, token_a, token_b, fee_tier, initialized, created_at`

func (s *PoolStore) Create(ctx context.Context, p domain.PoolRecord) error {
	const query = `
		INSERT INTO pools (market_id, pool, token_a, token_b, fee_tier, initialized, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, query,
		hashText(p.MarketID), addrText(p.Pool), addrText(p.TokenA), addrText(p.TokenB),
		int64(p.FeeTier), p.Initialized, p.CreatedAt,
	)
	return mapErr(err, "create pool for market "+p.MarketID.Hex())
}

func (s *PoolStore) GetByMarket(ctx context.Context, marketID common.Hash) (domain.PoolRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+poolCols+` FROM pools WHERE market_id = $1`, hashText(marketID))
	p, err := scanPool(row)
	if err != nil {
		return domain.PoolRecord{}, mapErr(err, "get pool for market "+marketID.Hex())
	}
	return p, nil
}

func (s *PoolStore) GetByPool(ctx context.Context, pool common.Address) (domain.PoolRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+poolCols+` FROM pools WHERE pool = $1`, addrText(pool))
	p, err := scanPool(row)
	if err != nil {
		return domain.PoolRecord{}, mapErr(err, "get pool "+pool.Hex())
	}
	return p, nil
}

func (s *PoolStore) MarkInitialized(ctx context.Context, marketID common.Hash) error {
	tag, err := s.pool.Exec(ctx, `UPDATE pools SET initialized = TRUE WHERE market_id = $1`, hashText(marketID))
	if err != nil {
		return mapErr(err, "mark pool initialized "+marketID.Hex())
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark pool initialized %s: %w", marketID.Hex(), domain.ErrNotFound)
	}
	return nil
}

func scanPool(row pgx.Row) (domain.PoolRecord, error) {
	var (
		p                              domain.PoolRecord
		marketID, addr, tokenA, tokenB string
		feeTier                        int64
	)
	if err := row.Scan(&marketID, &addr, &tokenA, &tokenB, &feeTier, &p.Initialized, &p.CreatedAt); err != nil {
		return domain.PoolRecord{}, err
	}
	p.MarketID = parseHash(marketID)
	p.Pool = common.HexToAddress(addr)
	p.TokenA = common.HexToAddress(tokenA)
	p.TokenB = common.HexToAddress(tokenB)
	p.FeeTier = uint32(feeTier)
	return p, nil
}
