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

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionCols = `user_address, market_id, handle, created_at, updated_at`

// Create inserts the (user, market) position. A second position for the same
// pair fails with ErrAlreadyExists.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (user_address, market_id, handle, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, query,
		addrText(p.User), hashText(p.MarketID), int64(p.Handle), p.CreatedAt, p.UpdatedAt,
	)
	return mapErr(err, fmt.Sprintf("create position %s/%s", p.User.Hex(), p.MarketID.Hex()))
}

func (s *PositionStore) Get(ctx context.Context, user common.Address, marketID common.Hash) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE user_address = $1 AND market_id = $2`,
		addrText(user), hashText(marketID))
	p, err := scanPosition(row)
	if err != nil {
		return domain.Position{}, mapErr(err, fmt.Sprintf("get position %s/%s", user.Hex(), marketID.Hex()))
	}
	return p, nil
}

func (s *PositionStore) Touch(ctx context.Context, user common.Address, marketID common.Hash, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET updated_at = $3 WHERE user_address = $1 AND market_id = $2`,
		addrText(user), hashText(marketID), at)
	if err != nil {
		return mapErr(err, "touch position")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: touch position %s/%s: %w", user.Hex(), marketID.Hex(), domain.ErrNotFound)
	}
	return nil
}

// ListByUser returns the user's positions oldest first.
func (s *PositionStore) ListByUser(ctx context.Context, user common.Address) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE user_address = $1 ORDER BY created_at`,
		addrText(user))
	if err != nil {
		return nil, mapErr(err, "list positions")
	}
	defer rows.Close()

	out := make([]domain.Position, 0)
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return out, nil
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p              domain.Position
		user, marketID string
		handle         int64
	)
	if err := row.Scan(&user, &marketID, &handle, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Position{}, err
	}
	p.User = common.HexToAddress(user)
	p.MarketID = parseHash(marketID)
	p.Handle = domain.PositionHandle(handle)
	return p, nil
}
