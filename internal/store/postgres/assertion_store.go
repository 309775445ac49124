package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// AssertionStore implements domain.AssertionStore. The unique index on
// market_id keeps one live assertion per market.
type AssertionStore struct {
	pool *pgxpool.Pool
}

// NewAssertionStore creates a new AssertionStore.
func NewAssertionStore(pool *pgxpool.Pool) *AssertionStore {
	return &AssertionStore{pool: pool}
}

var _ domain.AssertionStore = (*AssertionStore)(nil)

const assertionCols = `id, market_id, asserter, outcome_id, bond::text, created_at`

func (s *AssertionStore) Create(ctx context.Context, a domain.PendingAssertion) error {
	const query = `
		INSERT INTO assertions (id, market_id, asserter, outcome_id, bond, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)`
	_, err := s.pool.Exec(ctx, query,
		hashText(a.ID), hashText(a.MarketID), addrText(a.Asserter),
		hashText(a.OutcomeID), numericText(a.Bond), a.CreatedAt,
	)
	return mapErr(err, "create assertion "+a.ID.Hex())
}

func (s *AssertionStore) GetByID(ctx context.Context, id common.Hash) (domain.PendingAssertion, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+assertionCols+` FROM assertions WHERE id = $1`, hashText(id))
	a, err := scanAssertion(row)
	if err != nil {
		return domain.PendingAssertion{}, mapErr(err, "get assertion "+id.Hex())
	}
	return a, nil
}

func (s *AssertionStore) GetByMarket(ctx context.Context, marketID common.Hash) (domain.PendingAssertion, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+assertionCols+` FROM assertions WHERE market_id = $1`, hashText(marketID))
	a, err := scanAssertion(row)
	if err != nil {
		return domain.PendingAssertion{}, mapErr(err, "get assertion for market "+marketID.Hex())
	}
	return a, nil
}

func (s *AssertionStore) Delete(ctx context.Context, id common.Hash) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM assertions WHERE id = $1`, hashText(id))
	if err != nil {
		return mapErr(err, "delete assertion "+id.Hex())
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete assertion %s: %w", id.Hex(), domain.ErrNotFound)
	}
	return nil
}

func scanAssertion(row pgx.Row) (domain.PendingAssertion, error) {
	var (
		a                                     domain.PendingAssertion
		id, marketID, asserter, outcome, bond string
	)
	if err := row.Scan(&id, &marketID, &asserter, &outcome, &bond, &a.CreatedAt); err != nil {
		return domain.PendingAssertion{}, err
	}
	a.ID = parseHash(id)
	a.MarketID = parseHash(marketID)
	a.Asserter = common.HexToAddress(asserter)
	a.OutcomeID = parseHash(outcome)
	v, err := parseNumeric(bond)
	if err != nil {
		return domain.PendingAssertion{}, err
	}
	a.Bond = v
	return a, nil
}
