package journal_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomeledger/internal/cache/local"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
	"github.com/alanyoungcy/outcomeledger/internal/journal"
	"github.com/alanyoungcy/outcomeledger/internal/store/memory"
)

func TestRecord_PublishesAndAudits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := local.NewSignalBus()
	audit := memory.NewAuditStore()
	sub, err := bus.Subscribe(ctx, domain.ChannelMarkets)
	require.NoError(t, err)

	j := journal.New(bus, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))
	j.Record(ctx, domain.ChannelMarkets, domain.Event{
		Type:     domain.EventTokensCreated,
		MarketID: "0xabc",
		Actor:    "0x01",
		Fields:   map[string]string{"amount": "10"},
	})

	select {
	case raw := <-sub:
		var evt domain.Event
		require.NoError(t, json.Unmarshal(raw, &evt))
		assert.Equal(t, domain.EventTokensCreated, evt.Type)
		assert.Equal(t, "10", evt.Fields["amount"])
		assert.False(t, evt.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not published")
	}

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "10", entries[0].Detail["amount"])
	assert.Equal(t, "0x01", entries[0].Detail["actor"])
}

func TestRecord_NilJournal(t *testing.T) {
	var j *journal.Journal
	assert.NotPanics(t, func() {
		j.Record(context.Background(), domain.ChannelMarkets, domain.Event{Type: "x"})
	})
}
