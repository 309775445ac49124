// Package notify forwards market lifecycle events to operator chat channels
// (Telegram, Discord). Events can be filtered by type so operators receive
// only the alerts they care about.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches notifications to every Sender. Notify forwards only
// allowed event types; an empty allow list passes everything.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	decimals int32
	logger   *slog.Logger
}

// NewNotifier creates a Notifier. decimals is the collateral's decimals,
// used to render amounts.
func NewNotifier(senders []Sender, events []string, decimals int32, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		decimals: decimals,
		logger:   logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// Notify formats evt and sends it if its type is allowed.
func (n *Notifier) Notify(ctx context.Context, evt domain.Event) error {
	if len(n.events) > 0 && !n.events[evt.Type] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", evt.Type))
		return nil
	}
	title, message := FormatEvent(evt, n.decimals)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch tries every sender and joins their failures.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		err := s.Send(ctx, title, message)
		if err != nil {
			n.logger.ErrorContext(ctx, "sender failed", slog.String("sender", s.Name()), slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent", slog.String("sender", s.Name()), slog.String("title", title))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

var defaultClient = &http.Client{Timeout: 10 * time.Second}

// postJSON posts payload and treats any non-2xx status as an error.
func postJSON(ctx context.Context, client *http.Client, name, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: unexpected status %d: %s", name, resp.StatusCode, string(respBody))
	}
	return nil
}
