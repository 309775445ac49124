// Command ledgerctl prints markets, positions and pools from a running ledgerd
// as tables.
//
//	ledgerctl [-addr URL] [-api-key KEY] markets [-limit N] [-offset N]
//	ledgerctl positions -user 0x...
//	ledgerctl pool 0x<market id>
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/alanyoungcy/outcomeledger/internal/ledgerctl"
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", envOr("LEDGER_API_ADDR", "http://localhost:8000"), "ledgerd base URL")
	apiKey := flag.String("api-key", os.Getenv("LEDGER_SERVER_API_KEY"), "API key sent as X-API-Key")
	decimals := flag.Int("decimals", 6, "collateral decimals used to scale rewards and bonds")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: ledgerctl [flags] markets|positions|pool [args]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := ledgerctl.NewClient(*addr, *apiKey)
	r := ledgerctl.Renderer{Out: os.Stdout, Decimals: int32(*decimals)}

	if err := run(ctx, client, r, flag.Arg(0), flag.Args()[1:]); err != nil {
		slog.Error("ledgerctl failed", slog.String("command", flag.Arg(0)), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, c *ledgerctl.Client, r ledgerctl.Renderer, cmd string, args []string) error {
	switch cmd {
	case "markets":
		fs := flag.NewFlagSet("markets", flag.ExitOnError)
		limit := fs.Int("limit", 50, "page size")
		offset := fs.Int("offset", 0, "page offset")
		fs.Parse(args)
		markets, err := c.Markets(ctx, *limit, *offset)
		if err != nil {
			return err
		}
		return r.Markets(markets)

	case "positions":
		fs := flag.NewFlagSet("positions", flag.ExitOnError)
		user := fs.String("user", "", "holder address")
		fs.Parse(args)
		if *user == "" {
			return fmt.Errorf("positions: -user is required")
		}
		positions, err := c.Positions(ctx, *user)
		if err != nil {
			return err
		}
		return r.Positions(*user, positions)

	case "pool":
		if len(args) != 1 {
			return fmt.Errorf("pool: expected one market id")
		}
		pool, err := c.Pool(ctx, args[0])
		if err != nil {
			return err
		}
		return r.Pool(pool)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
