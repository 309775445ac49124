package postgres

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

const uniqueViolation = "23505"

func addrText(a common.Address) string { return strings.ToLower(a.Hex()) }

func hashText(h common.Hash) string { return h.Hex() }

// optHashText stores the zero hash as ''.
func optHashText(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}

func parseHash(s string) common.Hash {
	if s == "" {
		return common.Hash{}
	}
	return common.HexToHash(s)
}

// numericText renders an amount for a $n::numeric parameter.
func numericText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: invalid numeric %q", s)
	}
	return v, nil
}

// mapErr translates driver errors into domain sentinels.
func mapErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: %s: %w", op, domain.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("postgres: %s: %w", op, domain.ErrAlreadyExists)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

// pageClause appends ORDER BY and LIMIT/OFFSET placeholders.
func pageClause(query string, args []any, orderBy string, opts domain.ListOpts) (string, []any) {
	query += " ORDER BY " + orderBy
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
