package memoracle_test

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
	"github.com/alanyoungcy/outcomeledger/internal/oracle/memoracle"
	"github.com/alanyoungcy/outcomeledger/internal/token"
)

var (
	oracleAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	recipient  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	asserter   = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	disputer   = common.HexToAddress("0x00000000000000000000000000000000000000dd")
)

type recorder struct {
	resolutions []domain.ResolutionMessage
	disputes    []domain.DisputeMessage
}

func (r *recorder) HandleResolution(_ context.Context, m domain.ResolutionMessage) error {
	r.resolutions = append(r.resolutions, m)
	return nil
}

func (r *recorder) HandleDispute(_ context.Context, m domain.DisputeMessage) error {
	r.disputes = append(r.disputes, m)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func setup(t *testing.T) (*memoracle.Oracle, *token.Token, *recorder, *clock) {
	t.Helper()
	ctx := context.Background()
	usdc, h := token.NewMintable(common.HexToAddress("0x0000000000000000000000000000000000000c01"), "USDC", 6)
	reg := token.NewRegistry()
	require.NoError(t, reg.Register(usdc))
	for _, who := range []common.Address{recipient, disputer} {
		require.NoError(t, h.Mint(ctx, who, big.NewInt(1000)))
		require.NoError(t, usdc.Approve(ctx, who, oracleAddr, big.NewInt(1000)))
	}

	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	o := memoracle.New(oracleAddr, reg, big.NewInt(5), logger, memoracle.WithClock(clk.now))
	rec := &recorder{}
	o.Register(recipient, rec)
	return o, usdc, rec, clk
}

func assertTruth(t *testing.T, o *memoracle.Oracle, usdc *token.Token, bond int64) common.Hash {
	t.Helper()
	id, err := o.AssertTruth(context.Background(), domain.AssertionRequest{
		Claim:             []byte("claim"),
		Asserter:          asserter,
		Payer:             recipient,
		CallbackRecipient: recipient,
		Liveness:          time.Hour,
		Currency:          usdc.Address(),
		Bond:              big.NewInt(bond),
	})
	require.NoError(t, err)
	return id
}

func balanceOf(t *testing.T, tok *token.Token, who common.Address) int64 {
	t.Helper()
	b, err := tok.BalanceOf(context.Background(), who)
	require.NoError(t, err)
	return b.Int64()
}

func TestAssertTruth_RejectsSmallBond(t *testing.T) {
	o, usdc, _, _ := setup(t)
	_, err := o.AssertTruth(context.Background(), domain.AssertionRequest{
		Payer:    recipient,
		Currency: usdc.Address(),
		Bond:     big.NewInt(4),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestSettle_AfterLiveness(t *testing.T) {
	o, usdc, rec, clk := setup(t)
	ctx := context.Background()
	id := assertTruth(t, o, usdc, 10)
	assert.Equal(t, int64(990), balanceOf(t, usdc, recipient))

	assert.ErrorIs(t, o.Settle(ctx, id), domain.ErrLivenessNotExpired)

	clk.t = clk.t.Add(time.Hour)
	require.NoError(t, o.Settle(ctx, id))
	require.Len(t, rec.resolutions, 1)
	assert.Equal(t, domain.ResolutionMessage{Sender: oracleAddr, AssertionID: id, Truthful: true}, rec.resolutions[0])
	assert.Equal(t, int64(10), balanceOf(t, usdc, asserter), "bond returns to the asserter")

	assert.ErrorIs(t, o.Settle(ctx, id), domain.ErrAssertionSettled)
}

func TestDisputeThenResolveFalse(t *testing.T) {
	o, usdc, rec, _ := setup(t)
	ctx := context.Background()
	id := assertTruth(t, o, usdc, 10)

	require.NoError(t, o.Dispute(ctx, id, disputer))
	require.Len(t, rec.disputes, 1)
	assert.Equal(t, int64(990), balanceOf(t, usdc, disputer))

	assert.Error(t, o.Settle(ctx, id), "disputed assertions settle only through arbitration")

	require.NoError(t, o.ResolveDispute(ctx, id, false))
	require.Len(t, rec.resolutions, 1)
	assert.False(t, rec.resolutions[0].Truthful)
	assert.Equal(t, int64(1010), balanceOf(t, usdc, disputer))

	a, err := o.Get(id)
	require.NoError(t, err)
	assert.Equal(t, memoracle.StatusSettled, a.Status)
}

func TestUnknownAssertion(t *testing.T) {
	o, _, _, _ := setup(t)
	err := o.Settle(context.Background(), common.HexToHash("0x01"))
	assert.ErrorIs(t, err, domain.ErrUnknownAssertion)
}

func TestExpired_ListsDuePendingAssertions(t *testing.T) {
	o, usdc, _, clk := setup(t)
	ctx := context.Background()
	first := assertTruth(t, o, usdc, 10)
	clk.t = clk.t.Add(time.Minute)
	second := assertTruth(t, o, usdc, 10)
	disputed := assertTruth(t, o, usdc, 10)
	require.NoError(t, o.Dispute(ctx, disputed, disputer))

	assert.Empty(t, o.Expired())

	clk.t = clk.t.Add(time.Hour)
	assert.Equal(t, []common.Hash{first, second}, o.Expired())

	require.NoError(t, o.Settle(ctx, first))
	assert.Equal(t, []common.Hash{second}, o.Expired())
}
