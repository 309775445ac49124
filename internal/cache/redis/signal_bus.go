package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

const (
	// streamMaxLen caps streams approximately (XADD MAXLEN ~).
	streamMaxLen  int64 = 10000
	payloadField        = "payload"
	subscribeBuf        = 128
)

// SignalBus carries lifecycle events over Pub/Sub and oracle callbacks over
// Streams.
type SignalBus struct {
	c *Client
	// block bounds how long StreamRead waits for new entries; zero reads
	// whatever is there.
	block time.Duration
}

// NewSignalBus creates a SignalBus on c.
func NewSignalBus(c *Client, block time.Duration) *SignalBus {
	return &SignalBus{c: c, block: block}
}

func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.c.rdb.Publish(ctx, sb.c.Key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe confirms the subscription before returning. The returned channel
// closes when ctx ends or the connection is lost.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ps := sb.c.rdb.Subscribe(ctx, sb.c.Key(channel))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	in := ps.Channel(redis.WithChannelSize(subscribeBuf))
	out := make(chan []byte, subscribeBuf)
	go func() {
		defer close(out)
		defer ps.Close()
		for {
			var msg *redis.Message
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				msg = m
			}
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: sb.c.Key(stream),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: []any{payloadField, payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID ("" or "0" reads from
// the start). An empty result is not an error.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	key := sb.c.Key(stream)
	if lastID == "" {
		lastID = "0"
	}

	var entries []redis.XMessage
	if sb.block <= 0 {
		// Non-blocking: exclusive range after lastID.
		var cmd *redis.XMessageSliceCmd
		if count > 0 {
			cmd = sb.c.rdb.XRangeN(ctx, key, "("+lastID, "+", int64(count))
		} else {
			cmd = sb.c.rdb.XRange(ctx, key, "("+lastID, "+")
		}
		msgs, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
		}
		entries = msgs
	} else {
		res, err := sb.c.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, lastID},
			Count:   int64(count),
			Block:   sb.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
		}
		for _, s := range res {
			entries = append(entries, s.Messages...)
		}
	}

	out := make([]domain.StreamMessage, 0, len(entries))
	for _, e := range entries {
		if payload, ok := streamPayload(e); ok {
			out = append(out, domain.StreamMessage{ID: e.ID, Payload: payload})
		}
	}
	return out, nil
}

func streamPayload(e redis.XMessage) ([]byte, bool) {
	switch v := e.Values[payloadField].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	}
	return nil, false
}

var _ domain.SignalBus = (*SignalBus)(nil)
