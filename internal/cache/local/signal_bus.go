package local

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

const subscriberBuffer = 128

// SignalBus is an in-process pub/sub with append-only streams. Slow
// subscribers lose messages rather than block publishers.
type SignalBus struct {
	mu      sync.RWMutex
	subs    map[string]map[chan []byte]struct{}
	streams map[string][]domain.StreamMessage
}

// NewSignalBus creates an empty SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[string]map[chan []byte]struct{}),
		streams: make(map[string][]domain.StreamMessage),
	}
}

func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

// Subscribe returns a channel closed when ctx is cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// StreamAppend assigns sequential ids of the form "<n>-0".
func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.streams[stream]) + 1
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.Itoa(n) + "-0",
		Payload: append([]byte(nil), payload...),
	})
	return nil
}

// StreamRead returns up to count entries after lastID without blocking.
func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entries := b.streams[stream]
	start := streamSeq(lastID)
	if start >= len(entries) {
		return nil, nil
	}
	out := entries[start:]
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return append([]domain.StreamMessage(nil), out...), nil
}

func streamSeq(id string) int {
	head, _, _ := strings.Cut(id, "-")
	n, err := strconv.Atoi(head)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

var _ domain.SignalBus = (*SignalBus)(nil)
