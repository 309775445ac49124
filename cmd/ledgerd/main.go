// Command ledgerd serves the outcome market ledger and the position
// custodian over HTTP and WebSocket.
//
//	ledgerd [-config ledger.toml] [-mode memory|full] [-print-config]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"

	"github.com/alanyoungcy/outcomeledger/internal/app"
	"github.com/alanyoungcy/outcomeledger/internal/config"
)

func main() {
	configPath := flag.String("config", "", "TOML configuration file; empty uses defaults and LEDGER_* variables")
	mode := flag.String("mode", "", "override the configured mode (memory or full)")
	printConfig := flag.Bool("print-config", false, "print the effective configuration as TOML with secrets redacted, then exit")
	flag.Parse()

	if err := run(*configPath, *mode, *printConfig); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, mode string, printConfig bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config %q: %w", configPath, err)
	}
	if mode != "" {
		cfg.Mode = mode
	}

	logger := newLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return err
	}
	if printConfig {
		return toml.NewEncoder(os.Stdout).Encode(config.RedactedConfig(cfg))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)
	defer application.Close()

	logger.Info("ledgerd starting", slog.String("mode", cfg.Mode), slog.String("config", configPath))
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("ledgerd stopped with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("ledgerd stopped")
	return nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
