package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
	"github.com/alanyoungcy/outcomeledger/internal/notify"
)

// EventNotifier subscribes to the market lifecycle channel and forwards
// events to operator chat channels.
type EventNotifier struct {
	bus      domain.SignalBus
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewEventNotifier creates an EventNotifier.
func NewEventNotifier(bus domain.SignalBus, notifier *notify.Notifier, logger *slog.Logger) *EventNotifier {
	return &EventNotifier{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "event_notifier")),
	}
}

// Run forwards events until ctx is cancelled or the subscription closes.
func (n *EventNotifier) Run(ctx context.Context) error {
	ch, err := n.bus.Subscribe(ctx, domain.ChannelMarkets)
	if err != nil {
		return err
	}
	n.logger.Info("event notifier started")
	defer n.logger.Info("event notifier stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			var evt domain.Event
			if err := json.Unmarshal(data, &evt); err != nil {
				n.logger.Debug("undecodable event", slog.Int("payload_len", len(data)))
				continue
			}
			// Failures are logged by the notifier.
			_ = n.notifier.Notify(ctx, evt)
		}
	}
}
