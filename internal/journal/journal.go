// Package journal records state transitions: each event is published on the
// signal bus and appended to the audit log. Neither failure is fatal to the
// operation that produced the event.
package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// Journal publishes and audits lifecycle events.
type Journal struct {
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Journal. Either sink may be nil.
func New(bus domain.SignalBus, audit domain.AuditStore, logger *slog.Logger) *Journal {
	return &Journal{bus: bus, audit: audit, logger: logger, now: time.Now}
}

// Record publishes evt on channel and writes it to the audit log.
func (j *Journal) Record(ctx context.Context, channel string, evt domain.Event) {
	if j == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = j.now().UTC()
	}

	if j.bus != nil {
		payload, err := json.Marshal(evt)
		if err == nil {
			err = j.bus.Publish(ctx, channel, payload)
		}
		if err != nil {
			j.logger.WarnContext(ctx, "journal: publish event failed",
				slog.String("event", evt.Type),
				slog.String("market_id", evt.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}

	if j.audit != nil {
		detail := map[string]any{"market_id": evt.MarketID}
		if evt.Actor != "" {
			detail["actor"] = evt.Actor
		}
		for k, v := range evt.Fields {
			detail[k] = v
		}
		if err := j.audit.Log(ctx, evt.Type, detail); err != nil {
			j.logger.WarnContext(ctx, "journal: audit log failed",
				slog.String("event", evt.Type),
				slog.String("market_id", evt.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
}
