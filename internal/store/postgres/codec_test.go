package postgres

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/ledger?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "ledger", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
	assert.Equal(t, "postgres://u:p%40ss@db:6543/ledger?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "ledger", User: "u", Password: "p@ss", SSLMode: "require"}))
}

func TestLoadMigrations(t *testing.T) {
	ms, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Equal(t, "001_ledger.sql", ms[0].name)
	for i, m := range ms {
		assert.Len(t, m.checksum, 64)
		assert.Contains(t, m.sql, "CREATE TABLE")
		if i > 0 {
			assert.Less(t, ms[i-1].name, m.name)
		}
	}
}

func TestCodec_RoundTrips(t *testing.T) {
	addr := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	assert.Equal(t, "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266", addrText(addr))
	assert.Equal(t, addr, common.HexToAddress(addrText(addr)))

	assert.Equal(t, "", optHashText(common.Hash{}))
	assert.Equal(t, common.Hash{}, parseHash(""))
	h := common.HexToHash("0x01")
	assert.Equal(t, h, parseHash(optHashText(h)))

	big1, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	v, err := parseNumeric(numericText(big1))
	require.NoError(t, err)
	assert.Equal(t, 0, big1.Cmp(v))
	assert.Equal(t, "0", numericText(nil))

	_, err = parseNumeric("1.5")
	assert.Error(t, err)
}

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr(nil, "op"))
	assert.ErrorIs(t, mapErr(pgx.ErrNoRows, "get"), domain.ErrNotFound)
	assert.ErrorIs(t, mapErr(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: uniqueViolation}), "insert"), domain.ErrAlreadyExists)

	other := errors.New("boom")
	err := mapErr(other, "op")
	assert.ErrorIs(t, err, other)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestQueryBuilders(t *testing.T) {
	since := time.Unix(100, 0)
	opts := domain.ListOpts{Since: &since, Limit: 10, Offset: 20}

	q, args := timeRange("SELECT 1 WHERE 1=1", nil, "created_at", opts)
	q, args = pageClause(q, args, "created_at DESC", opts)
	assert.Equal(t, "SELECT 1 WHERE 1=1 AND created_at >= $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3", q)
	assert.Equal(t, []any{since, 10, 20}, args)
}
