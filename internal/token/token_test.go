package token_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
	"github.com/alanyoungcy/outcomeledger/internal/token"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x00000000000000000000000000000000000ca201")
)

func newToken(t *testing.T) (*token.Token, *token.MintBurnHandle) {
	t.Helper()
	tok, h := token.NewMintable(common.HexToAddress("0x7000000000000000000000000000000000000001"), "USDC", 6)
	require.NoError(t, h.Mint(context.Background(), alice, big.NewInt(1000)))
	return tok, h
}

func balance(t *testing.T, tok *token.Token, who common.Address) int64 {
	t.Helper()
	b, err := tok.BalanceOf(context.Background(), who)
	require.NoError(t, err)
	return b.Int64()
}

func TestMintBurn(t *testing.T) {
	ctx := context.Background()
	tok, h := newToken(t)

	supply, err := tok.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), supply.Int64())

	require.NoError(t, h.Burn(ctx, alice, big.NewInt(400)))
	assert.Equal(t, int64(600), balance(t, tok, alice))

	err = h.Burn(ctx, alice, big.NewInt(601))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, int64(600), balance(t, tok, alice))
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	tok, _ := newToken(t)

	require.NoError(t, tok.Transfer(ctx, alice, bob, big.NewInt(300)))
	assert.Equal(t, int64(700), balance(t, tok, alice))
	assert.Equal(t, int64(300), balance(t, tok, bob))

	err := tok.Transfer(ctx, bob, alice, big.NewInt(301))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	err = tok.Transfer(ctx, alice, bob, big.NewInt(-1))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	ctx := context.Background()
	tok, _ := newToken(t)

	err := tok.TransferFrom(ctx, bob, alice, carol, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	require.NoError(t, tok.Approve(ctx, alice, bob, big.NewInt(500)))
	require.NoError(t, tok.TransferFrom(ctx, bob, alice, carol, big.NewInt(200)))

	left, err := tok.Allowance(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(300), left.Int64())
	assert.Equal(t, int64(200), balance(t, tok, carol))
}

func TestTransferFromFailureKeepsAllowance(t *testing.T) {
	ctx := context.Background()
	tok, _ := newToken(t)

	require.NoError(t, tok.Approve(ctx, alice, bob, big.NewInt(5000)))
	err := tok.TransferFrom(ctx, bob, alice, carol, big.NewInt(2000))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	left, err := tok.Allowance(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), left.Int64())
}

func TestRegistry(t *testing.T) {
	tok, _ := newToken(t)
	reg := token.NewRegistry()
	require.NoError(t, reg.Register(tok))
	assert.ErrorIs(t, reg.Register(tok), domain.ErrAlreadyExists)

	got, err := reg.Asset(tok.Address())
	require.NoError(t, err)
	assert.Equal(t, tok.Address(), got.Address())

	_, err = reg.Asset(bob)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddressAllocatorIsDeterministic(t *testing.T) {
	a := token.NewAddressAllocator(alice, 0)
	b := token.NewAddressAllocator(alice, 0)
	first := a.Next()
	assert.Equal(t, first, b.Next())
	assert.NotEqual(t, first, a.Next())
}
