package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

var _ domain.MarketStore = (*MarketStore)(nil)

const marketCols = `id, creator, outcome_1, outcome_2, description,
	outcome_1_token, outcome_2_token, reward::text, required_bond::text,
	fee_tier, asserted_outcome_id, resolved, collateral::text,
	created_at, resolved_at`

// Create inserts a new market.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, creator, outcome_1, outcome_2, description,
			outcome_1_token, outcome_2_token, reward, required_bond,
			fee_tier, asserted_outcome_id, resolved, collateral,
			created_at, resolved_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8::numeric, $9::numeric,
			$10, $11, $12, $13::numeric,
			$14, $15
		)`

	_, err := s.pool.Exec(ctx, query,
		hashText(m.ID), addrText(m.Creator), m.Outcome1, m.Outcome2, m.Description,
		addrText(m.Outcome1Token), addrText(m.Outcome2Token),
		numericText(m.Reward), numericText(m.RequiredBond),
		int64(m.FeeTier), optHashText(m.AssertedOutcomeID), m.Resolved,
		numericText(m.Collateral), m.CreatedAt, m.ResolvedAt,
	)
	return mapErr(err, "create market "+m.ID.Hex())
}

// Update writes the mutable fields of an existing market.
func (s *MarketStore) Update(ctx context.Context, m domain.Market) error {
	const query = `
		UPDATE markets SET
			asserted_outcome_id = $2,
			resolved            = $3,
			collateral          = $4::numeric,
			resolved_at         = $5,
			updated_at          = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		hashText(m.ID), optHashText(m.AssertedOutcomeID), m.Resolved,
		numericText(m.Collateral), m.ResolvedAt,
	)
	if err != nil {
		return mapErr(err, "update market "+m.ID.Hex())
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update market %s: %w", m.ID.Hex(), domain.ErrNotFound)
	}
	return nil
}

// GetByID retrieves a market by its id.
func (s *MarketStore) GetByID(ctx context.Context, id common.Hash) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, hashText(id))
	m, err := scanMarket(row)
	if err != nil {
		return domain.Market{}, mapErr(err, "get market "+id.Hex())
	}
	return m, nil
}

// List returns markets newest first with optional creation-time filtering.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE 1=1`
	query, args := timeRange(query, nil, "created_at", opts)
	query, args = pageClause(query, args, "created_at DESC, id", opts)
	return s.query(ctx, "list markets", query, args)
}

// ListResolved returns resolved markets; Since/Until apply to resolved_at.
func (s *MarketStore) ListResolved(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE resolved AND resolved_at IS NOT NULL`
	query, args := timeRange(query, nil, "resolved_at", opts)
	query, args = pageClause(query, args, "resolved_at DESC, id", opts)
	return s.query(ctx, "list resolved markets", query, args)
}

func (s *MarketStore) query(ctx context.Context, op, query string, args []any) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, op)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return markets, nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                                 domain.Market
		id, creator, tok1, tok2, asserted string
		reward, bond, collateral          string
		feeTier                           int64
		resolvedAt                        *time.Time
	)
	err := row.Scan(
		&id, &creator, &m.Outcome1, &m.Outcome2, &m.Description,
		&tok1, &tok2, &reward, &bond,
		&feeTier, &asserted, &m.Resolved, &collateral,
		&m.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.ID = parseHash(id)
	m.Creator = common.HexToAddress(creator)
	m.Outcome1Token = common.HexToAddress(tok1)
	m.Outcome2Token = common.HexToAddress(tok2)
	m.AssertedOutcomeID = parseHash(asserted)
	m.FeeTier = uint32(feeTier)
	m.ResolvedAt = resolvedAt
	if m.Reward, err = parseNumeric(reward); err != nil {
		return domain.Market{}, err
	}
	if m.RequiredBond, err = parseNumeric(bond); err != nil {
		return domain.Market{}, err
	}
	if m.Collateral, err = parseNumeric(collateral); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

// timeRange appends half-open [Since, Until) bounds on col.
func timeRange(query string, args []any, col string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND %s >= $%d", col, len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND %s < $%d", col, len(args))
	}
	return query, args
}
