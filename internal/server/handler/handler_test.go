package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomeledger/internal/crypto"
	"github.com/alanyoungcy/outcomeledger/internal/custody"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
	"github.com/alanyoungcy/outcomeledger/internal/ledger"
	"github.com/alanyoungcy/outcomeledger/internal/server/handler"
	"github.com/alanyoungcy/outcomeledger/internal/service"
	"github.com/alanyoungcy/outcomeledger/internal/token"
)

var (
	alice    = common.HexToAddress("0x0000000000000000000000000000000000a11ce0")
	marketID = common.HexToHash("0x5eed")
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeLedger struct {
	caller  common.Address
	opened  ledger.OpenMarketRequest
	amount  *big.Int
	label   string
	mintErr error
}

func (f *fakeLedger) OpenMarket(_ context.Context, caller common.Address, req ledger.OpenMarketRequest) (common.Hash, error) {
	f.caller, f.opened = caller, req
	return marketID, nil
}

func (f *fakeLedger) MintOutcomeTokens(_ context.Context, caller common.Address, _ common.Hash, amount *big.Int) error {
	f.caller, f.amount = caller, amount
	return f.mintErr
}

func (f *fakeLedger) CreateOutcomeTokensWithLiquidity(_ context.Context, _ common.Address, _ common.Hash, amount *big.Int, _, _ int32) (ledger.LiquidityReceipt, error) {
	half := new(big.Int).Rsh(amount, 1)
	return ledger.LiquidityReceipt{Handle: 3, Liquidity: half, Deposited1: half, Deposited2: half, Returned1: half, Returned2: half}, nil
}

func (f *fakeLedger) RedeemOutcomeTokens(_ context.Context, _ common.Address, _ common.Hash, amount *big.Int) error {
	f.amount = amount
	return nil
}

func (f *fakeLedger) AssertMarket(_ context.Context, _ common.Address, _ common.Hash, label string) (common.Hash, error) {
	f.label = label
	return common.HexToHash("0xa55e"), nil
}

func (f *fakeLedger) SettleOutcomeTokens(context.Context, common.Address, common.Hash) (*big.Int, error) {
	return big.NewInt(42), nil
}

type fakeMarkets struct{ view service.MarketView }

func (f *fakeMarkets) View(_ context.Context, id common.Hash) (service.MarketView, error) {
	if id != f.view.Market.ID {
		return service.MarketView{}, fmt.Errorf("ledger: market %s: %w", id.Hex(), domain.ErrMarketDoesNotExist)
	}
	return f.view, nil
}

func (f *fakeMarkets) List(context.Context, domain.ListOpts) ([]domain.Market, error) {
	return []domain.Market{f.view.Market}, nil
}

func request(method, path, body string, pathValues map[string]string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(handler.HeaderCaller, alice.Hex())
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestMarketHandler_OpenMarket(t *testing.T) {
	fl := &fakeLedger{}
	h := handler.NewMarketHandler(fl, &fakeMarkets{}, discard())

	rec := httptest.NewRecorder()
	h.OpenMarket(rec, request(http.MethodPost, "/api/markets",
		`{"outcome1":"Yes","outcome2":"No","description":"rain tomorrow","reward":"100","required_bond":"5"}`, nil))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, marketID.Hex(), decode(t, rec)["market_id"])
	assert.Equal(t, alice, fl.caller)
	assert.Equal(t, "rain tomorrow", fl.opened.Description)
	assert.Equal(t, int64(100), fl.opened.Reward.Int64())
	assert.Equal(t, int64(5), fl.opened.RequiredBond.Int64())
}

func TestMarketHandler_RejectsBadInput(t *testing.T) {
	h := handler.NewMarketHandler(&fakeLedger{}, &fakeMarkets{}, discard())
	id := map[string]string{"id": marketID.Hex()}

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"no caller", func() *http.Request {
			r := request(http.MethodPost, "/", `{"amount":"1"}`, id)
			r.Header.Del(handler.HeaderCaller)
			return r
		}()},
		{"bad market id", request(http.MethodPost, "/", `{"amount":"1"}`, map[string]string{"id": "0x1234"})},
		{"negative amount", request(http.MethodPost, "/", `{"amount":"-1"}`, id)},
		{"not a number", request(http.MethodPost, "/", `{"amount":"1e6"}`, id)},
		{"unknown field", request(http.MethodPost, "/", `{"amount":"1","extra":true}`, id)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Mint(rec, tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestMarketHandler_MapsDomainErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		class  string
	}{
		{fmt.Errorf("ledger: mint: %w", domain.ErrInvalidAmount), http.StatusBadRequest, "validation"},
		{fmt.Errorf("ledger: market: %w", domain.ErrMarketDoesNotExist), http.StatusNotFound, "not_found"},
		{fmt.Errorf("ledger: %w", domain.ErrNotWhitelisted), http.StatusForbidden, "authorization"},
		{fmt.Errorf("token: pull: %w", domain.ErrInsufficientAllowance), http.StatusConflict, "state"},
		{errors.New("connection reset"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := handler.NewMarketHandler(&fakeLedger{mintErr: tt.err}, &fakeMarkets{}, discard())
			rec := httptest.NewRecorder()
			h.Mint(rec, request(http.MethodPost, "/", `{"amount":"10"}`, map[string]string{"id": marketID.Hex()}))

			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			if tt.class == "" {
				assert.Equal(t, "internal server error", body["error"])
				return
			}
			assert.Equal(t, tt.class, body["class"])
		})
	}
}

func TestMarketHandler_GetMarketView(t *testing.T) {
	m := domain.Market{
		ID:           marketID,
		Outcome1:     "Yes",
		Outcome2:     "No",
		Reward:       big.NewInt(1),
		RequiredBond: big.NewInt(0),
		Collateral:   big.NewInt(300),
	}
	fm := &fakeMarkets{view: service.MarketView{
		Market:  m,
		State:   domain.MarketStateAsserting,
		Supply1: big.NewInt(300),
		Supply2: big.NewInt(300),
		Assertion: &domain.PendingAssertion{
			ID: common.HexToHash("0xa55e"), MarketID: marketID, Asserter: alice, Bond: big.NewInt(5),
		},
	}}
	h := handler.NewMarketHandler(&fakeLedger{}, fm, discard())

	rec := httptest.NewRecorder()
	h.GetMarket(rec, request(http.MethodGet, "/", "", map[string]string{"id": marketID.Hex()}))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "asserting", body["state"])
	assert.Equal(t, "300", body["collateral"])
	assert.Equal(t, "300", body["outcome1_supply"])
	require.IsType(t, map[string]any{}, body["assertion"])
	assert.Equal(t, "5", body["assertion"].(map[string]any)["bond"])

	rec = httptest.NewRecorder()
	h.GetMarket(rec, request(http.MethodGet, "/", "", map[string]string{"id": common.HexToHash("0x01").Hex()}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarketHandler_SettleAndAssert(t *testing.T) {
	fl := &fakeLedger{}
	h := handler.NewMarketHandler(fl, &fakeMarkets{}, discard())
	id := map[string]string{"id": marketID.Hex()}

	rec := httptest.NewRecorder()
	h.Assert(rec, request(http.MethodPost, "/", `{"outcome":"Yes"}`, id))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "Yes", fl.label)

	rec = httptest.NewRecorder()
	h.Settle(rec, request(http.MethodPost, "/", "", id))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", decode(t, rec)["payout"])

	rec = httptest.NewRecorder()
	h.MintWithLiquidity(rec, request(http.MethodPost, "/", `{"amount":"10","tick_lower":-600,"tick_upper":600}`, id))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", decode(t, rec)["returned_1"])
}

type fakeCustodian struct {
	direct bool
	req    custody.SwapRequest
}

func (f *fakeCustodian) AddLiquidity(_ context.Context, _ common.Address, req custody.AddLiquidityRequest) (custody.LiquidityResult, error) {
	return custody.LiquidityResult{Handle: 1, Liquidity: req.AmountA, AmountA: req.AmountA, AmountB: req.AmountB, RefundA: new(big.Int), RefundB: new(big.Int), Created: true}, nil
}

func (f *fakeCustodian) RemoveLiquidity(context.Context, common.Address, custody.RemoveLiquidityRequest) (custody.RemoveResult, error) {
	return custody.RemoveResult{}, fmt.Errorf("custody: %w", domain.ErrNoPosition)
}

func (f *fakeCustodian) Swap(_ context.Context, _ common.Address, req custody.SwapRequest) (custody.SwapResult, error) {
	f.req = req
	return custody.SwapResult{TokenIn: req.TokenIn, AmountIn: req.AmountIn, AmountOut: big.NewInt(9)}, nil
}

func (f *fakeCustodian) DirectSwap(ctx context.Context, caller common.Address, req custody.SwapRequest) (custody.SwapResult, error) {
	f.direct = true
	res, err := f.Swap(ctx, caller, req)
	res.Direct = true
	return res, err
}

func (f *fakeCustodian) Pool(context.Context, common.Hash) (domain.PoolRecord, error) {
	return domain.PoolRecord{MarketID: marketID}, nil
}

func (f *fakeCustodian) PoolState(context.Context, common.Hash) (domain.PoolState, error) {
	return domain.PoolState{}, nil
}

func TestLiquidityHandler_Swap(t *testing.T) {
	fc := &fakeCustodian{}
	h := handler.NewLiquidityHandler(fc, discard())
	id := map[string]string{"id": marketID.Hex()}
	leg := common.HexToAddress("0x0000000000000000000000000000000000000aaa")

	rec := httptest.NewRecorder()
	h.Swap(rec, request(http.MethodPost, "/", fmt.Sprintf(`{"token_in":%q,"amount_in":"10","min_amount_out":"8","direct":true}`, leg.Hex()), id))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, fc.direct)
	assert.Equal(t, leg, fc.req.TokenIn)
	assert.Equal(t, int64(8), fc.req.MinAmountOut.Int64())
	assert.Equal(t, "9", decode(t, rec)["amount_out"])

	rec = httptest.NewRecorder()
	h.RemoveLiquidity(rec, request(http.MethodPost, "/", `{"liquidity":"1"}`, id))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.AddLiquidity(rec, request(http.MethodPost, "/", `{"amount_a":"4","amount_b":"4"}`, id))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, alice.Hex(), decode(t, rec)["user"])
}

type fakeDispatcher struct{ got crypto.Envelope }

func (f *fakeDispatcher) Dispatch(_ context.Context, env crypto.Envelope) error {
	f.got = env
	if env.Signature == "" {
		return fmt.Errorf("crypto: %w", domain.ErrInvalidSignature)
	}
	return nil
}

func TestOracleHandler_Callback(t *testing.T) {
	fd := &fakeDispatcher{}
	h := handler.NewOracleHandler(fd, nil, discard())
	aid := common.HexToHash("0xa55e")

	rec := httptest.NewRecorder()
	h.Callback(rec, request(http.MethodPost, "/", fmt.Sprintf(`{"kind":"resolution","assertion_id":%q,"truthful":true,"issued_at":1,"signature":"0x01"}`, aid.Hex()), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, aid, fd.got.AssertionID)
	assert.True(t, fd.got.Truthful)

	rec = httptest.NewRecorder()
	h.Callback(rec, request(http.MethodPost, "/", fmt.Sprintf(`{"kind":"resolution","assertion_id":%q,"issued_at":1}`, aid.Hex()), nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	h.SettleAssertion(rec, request(http.MethodPost, "/", "", map[string]string{"id": aid.Hex()}))
	assert.Equal(t, http.StatusNotFound, rec.Code, "no in-process oracle")
}

func TestDevnetHandler_FaucetApproveBalance(t *testing.T) {
	ctx := context.Background()
	usdcAddr := common.HexToAddress("0x0000000000000000000000000000000000000c01")
	spender := common.HexToAddress("0x00000000000000000000000000000000001ed6e0")
	usdc, mint := token.NewMintable(usdcAddr, "USDC", 6)
	reg := token.NewRegistry()
	require.NoError(t, reg.Register(usdc))
	h := handler.NewDevnetHandler(mint, usdcAddr, reg, big.NewInt(1000), discard())

	rec := httptest.NewRecorder()
	h.Faucet(rec, request(http.MethodPost, "/", fmt.Sprintf(`{"to":%q,"amount":"1000"}`, alice.Hex()), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Faucet(rec, request(http.MethodPost, "/", fmt.Sprintf(`{"to":%q,"amount":"1001"}`, alice.Hex()), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "over the drip cap")

	rec = httptest.NewRecorder()
	h.Approve(rec, request(http.MethodPost, "/", fmt.Sprintf(`{"token":%q,"spender":%q,"amount":"600"}`, usdcAddr.Hex(), spender.Hex()), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	allowance, err := usdc.Allowance(ctx, alice, spender)
	require.NoError(t, err)
	assert.Equal(t, int64(600), allowance.Int64())

	rec = httptest.NewRecorder()
	h.Balance(rec, request(http.MethodGet, "/", "", map[string]string{"address": alice.Hex()}))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "1000", body["balance"])
	assert.Equal(t, "USDC", body["symbol"])

	rec = httptest.NewRecorder()
	h.Balance(rec, request(http.MethodGet, "/?token="+spender.Hex(), "", map[string]string{"address": alice.Hex()}))
	assert.Equal(t, http.StatusNotFound, rec.Code, "unregistered token")
}
