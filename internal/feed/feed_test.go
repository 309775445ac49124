package feed_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomeledger/internal/cache/local"
	"github.com/alanyoungcy/outcomeledger/internal/crypto"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
	"github.com/alanyoungcy/outcomeledger/internal/feed"
	"github.com/alanyoungcy/outcomeledger/internal/notify"
)

const (
	devKey   = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	otherKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	chainID  = 31337
)

var devAddr = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

type recorder struct {
	mu          sync.Mutex
	resolutions []domain.ResolutionMessage
	disputes    []domain.DisputeMessage
}

func (r *recorder) HandleResolution(_ context.Context, msg domain.ResolutionMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolutions = append(r.resolutions, msg)
	return nil
}

func (r *recorder) HandleDispute(_ context.Context, msg domain.DisputeMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disputes = append(r.disputes, msg)
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPublisherToFeed_DeliversVerifiedSender(t *testing.T) {
	ctx := context.Background()
	bus := local.NewSignalBus()
	signer, err := crypto.NewCallbackSigner(devKey, chainID)
	require.NoError(t, err)

	pub := feed.NewSignedPublisher(bus, signer, discard())
	id := common.HexToHash("0x01")
	require.NoError(t, pub.HandleDispute(ctx, domain.DisputeMessage{Sender: common.HexToAddress("0x99"), AssertionID: id}))
	require.NoError(t, pub.HandleResolution(ctx, domain.ResolutionMessage{AssertionID: id, Truthful: true}))

	rec := &recorder{}
	f := feed.NewResolutionFeed(bus, crypto.NewVerifier(chainID, time.Minute), rec, discard())
	n, err := f.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, rec.disputes, 1)
	assert.Equal(t, devAddr, rec.disputes[0].Sender, "sender comes from the signature, not the message")
	require.Len(t, rec.resolutions, 1)
	assert.Equal(t, domain.ResolutionMessage{Sender: devAddr, AssertionID: id, Truthful: true}, rec.resolutions[0])

	n, err = f.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "entries are consumed once")
}

func TestResolutionFeed_SkipsBadEntries(t *testing.T) {
	ctx := context.Background()
	bus := local.NewSignalBus()
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamOracleCallbacks, []byte("not json")))

	forger, err := crypto.NewCallbackSigner(otherKey, chainID)
	require.NoError(t, err)
	env, err := forger.SignResolution(common.HexToHash("0x02"), true)
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamOracleCallbacks, data))

	rec := &recorder{}
	f := feed.NewResolutionFeed(bus, crypto.NewVerifier(chainID, time.Minute), rec, discard())
	n, err := f.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, rec.resolutions, 1)
	assert.Equal(t, forger.Address(), rec.resolutions[0].Sender)
	assert.NotEqual(t, devAddr, rec.resolutions[0].Sender)
}

func TestResolutionFeed_DispatchRejectsUnsigned(t *testing.T) {
	rec := &recorder{}
	f := feed.NewResolutionFeed(local.NewSignalBus(), crypto.NewVerifier(chainID, 0), rec, discard())

	err := f.Dispatch(context.Background(), crypto.Envelope{Kind: crypto.KindResolution, AssertionID: common.HexToHash("0x03")})
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	assert.Empty(t, rec.resolutions)
}

func TestResolutionFeed_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := feed.NewResolutionFeed(local.NewSignalBus(), crypto.NewVerifier(chainID, 0), &recorder{}, discard())
	f.SetPollInterval(5 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("feed did not stop")
	}
}

func TestEventNotifier_ForwardsMarketEvents(t *testing.T) {
	var (
		mu   sync.Mutex
		msgs []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		msgs = append(msgs, payload["content"])
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := local.NewSignalBus()
	n := notify.NewNotifier([]notify.Sender{notify.NewDiscordSender(srv.URL)}, nil, 6, discard())
	en := feed.NewEventNotifier(bus, n, discard())
	go func() { _ = en.Run(ctx) }()

	evt, err := json.Marshal(domain.Event{
		Type:     domain.EventMarketResolved,
		MarketID: "0xabc",
		Fields:   map[string]string{"reward": "1000000"},
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_ = bus.Publish(ctx, domain.ChannelMarkets, evt)
		mu.Lock()
		defer mu.Unlock()
		return len(msgs) > 0
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, msgs[0], "Market resolved")
	assert.Contains(t, msgs[0], "reward: 1")
}
