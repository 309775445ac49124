// Package app assembles ledgerd: Wire picks the storage, cache and messaging
// backends for the configured mode, Build creates the ledger components on
// top of them, and the mode runners start the long-lived goroutines.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/outcomeledger/internal/config"
)

type modeRunner func(a *App, ctx context.Context, deps *Dependencies, c *Components) error

var modes = map[string]modeRunner{
	config.ModeMemory: (*App).MemoryMode,
	config.ModeFull:   (*App).FullMode,
}

// App owns one ledgerd run and the resources it opened.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	mu        sync.Mutex
	closers   []func()
	closeOnce sync.Once
}

// New creates an App. Nothing is opened until Run.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the backends, builds the components and blocks in the configured
// mode until ctx is cancelled or a goroutine fails. Cancellation returns nil.
func (a *App) Run(ctx context.Context) error {
	a.cfg.Mode = strings.ToLower(strings.TrimSpace(a.cfg.Mode))
	run, ok := modes[a.cfg.Mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire %s mode: %w", a.cfg.Mode, err)
	}
	a.onClose(cleanup)

	comps, err := Build(ctx, a.cfg, deps, a.logger)
	if err != nil {
		return fmt.Errorf("app: build components: %w", err)
	}
	a.logger.InfoContext(ctx, "components ready",
		slog.String("mode", a.cfg.Mode),
		slog.String("collateral", comps.Collateral.Address().Hex()),
		slog.String("custodian", comps.Custodian.Address().Hex()),
		slog.Bool("whitelist", a.cfg.Access.Enabled),
	)

	if err := run(a, ctx, deps, comps); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) onClose(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// Close releases everything Run opened, newest first. Only the first call
// does anything.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		closers := a.closers
		a.closers = nil
		a.mu.Unlock()

		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		a.logger.Info("application closed", slog.Int("resources", len(closers)))
	})
}
