package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// SettlingOracle exposes the assertions whose liveness has run out.
type SettlingOracle interface {
	Expired() []common.Hash
	Settle(ctx context.Context, id common.Hash) error
}

// LivenessSettler settles undisputed assertions once their liveness window
// closes, which delivers the truthful verdict to the ledger.
type LivenessSettler struct {
	oracle  SettlingOracle
	pollDur time.Duration
	logger  *slog.Logger
}

// NewLivenessSettler creates a LivenessSettler polling every pollInterval.
func NewLivenessSettler(oracle SettlingOracle, pollInterval time.Duration, logger *slog.Logger) *LivenessSettler {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &LivenessSettler{
		oracle:  oracle,
		pollDur: pollInterval,
		logger:  logger.With(slog.String("component", "liveness_settler")),
	}
}

// Run settles expired assertions until ctx is cancelled.
func (s *LivenessSettler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollDur)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SettleDue(ctx)
		}
	}
}

// SettleDue settles every expired assertion and returns how many settled.
// Failures stay pending and are retried on the next tick.
func (s *LivenessSettler) SettleDue(ctx context.Context) int {
	settled := 0
	for _, id := range s.oracle.Expired() {
		if err := s.oracle.Settle(ctx, id); err != nil {
			level := slog.LevelError
			if errors.Is(err, domain.ErrLockHeld) || errors.Is(err, domain.ErrAssertionSettled) {
				level = slog.LevelDebug
			}
			s.logger.Log(ctx, level, "settle failed",
				slog.String("assertion_id", id.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		settled++
		s.logger.InfoContext(ctx, "assertion settled after liveness", slog.String("assertion_id", id.Hex()))
	}
	return settled
}
