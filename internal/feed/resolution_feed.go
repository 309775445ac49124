// Package feed moves oracle callbacks and lifecycle events between the bus
// and the components that consume them.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/outcomeledger/internal/crypto"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

const (
	defaultBatch = 64
	defaultPoll  = 250 * time.Millisecond
)

// ResolutionFeed reads signed oracle callbacks from the callback stream,
// recovers the signer of each and hands the verified message to the ledger.
// The ledger decides whether the signer is its oracle.
type ResolutionFeed struct {
	bus      domain.SignalBus
	verifier *crypto.Verifier
	handler  domain.ResolutionHandler
	logger   *slog.Logger

	lastID string
	poll   time.Duration
	batch  int
}

// NewResolutionFeed creates a ResolutionFeed starting at the head of the
// stream.
func NewResolutionFeed(bus domain.SignalBus, verifier *crypto.Verifier, handler domain.ResolutionHandler, logger *slog.Logger) *ResolutionFeed {
	return &ResolutionFeed{
		bus:      bus,
		verifier: verifier,
		handler:  handler,
		logger:   logger.With(slog.String("component", "resolution_feed")),
		lastID:   "0",
		poll:     defaultPoll,
		batch:    defaultBatch,
	}
}

// SetPollInterval sets the pause between empty reads.
func (f *ResolutionFeed) SetPollInterval(d time.Duration) {
	if d > 0 {
		f.poll = d
	}
}

// Run consumes the stream until ctx is cancelled. Entries that fail
// verification or are rejected by the handler are logged and skipped.
func (f *ResolutionFeed) Run(ctx context.Context) error {
	f.logger.Info("resolution feed started", slog.String("stream", domain.StreamOracleCallbacks))
	defer f.logger.Info("resolution feed stopped")

	for {
		n, err := f.Drain(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("stream read failed", slog.String("error", err.Error()))
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.poll):
		}
	}
}

// Drain processes one batch and returns how many entries it consumed.
func (f *ResolutionFeed) Drain(ctx context.Context) (int, error) {
	msgs, err := f.bus.StreamRead(ctx, domain.StreamOracleCallbacks, f.lastID, f.batch)
	if err != nil {
		return 0, err
	}
	for _, m := range msgs {
		f.lastID = m.ID
		var env crypto.Envelope
		if err := json.Unmarshal(m.Payload, &env); err != nil {
			f.logger.Warn("undecodable callback", slog.String("entry", m.ID), slog.String("error", err.Error()))
			continue
		}
		if err := f.Dispatch(ctx, env); err != nil {
			level := slog.LevelError
			if errors.Is(err, domain.ErrInvalidSignature) || errors.Is(err, domain.ErrNotAuthorized) || errors.Is(err, domain.ErrUnknownAssertion) {
				level = slog.LevelWarn
			}
			f.logger.Log(ctx, level, "callback rejected",
				slog.String("entry", m.ID),
				slog.String("kind", env.Kind),
				slog.String("assertion", env.AssertionID.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return len(msgs), nil
}

// Dispatch verifies env and delivers it to the handler.
func (f *ResolutionFeed) Dispatch(ctx context.Context, env crypto.Envelope) error {
	sender, err := f.verifier.Recover(env)
	if err != nil {
		return err
	}
	switch env.Kind {
	case crypto.KindResolution:
		return f.handler.HandleResolution(ctx, crypto.ResolutionMessage(sender, env))
	case crypto.KindDispute:
		return f.handler.HandleDispute(ctx, crypto.DisputeMessage(sender, env))
	default:
		return fmt.Errorf("feed: unknown envelope kind %q: %w", env.Kind, domain.ErrInvalidSignature)
	}
}
