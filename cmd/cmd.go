// Package cmd routes the unsabot subcommands.
//
// Commands:
//   - serve: inference front server (admission gate + generation)
//   - bot: Telegram front-end
//   - migrate: apply knowledge store schema migrations
//   - load: bulk-import knowledge fragments from CSV
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/unsafisica/unsabot/internal/config"
	"github.com/unsafisica/unsabot/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "2.0.0"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// Execute is the unsabot entry point.
func Execute() error {
	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(log.NewWithWriter(os.Stderr, log.Config{Level: level, JSON: !cfg.Debug}))

	switch os.Args[1] {
	case "serve":
		return runServe(signalContext(), cfg)
	case "bot":
		return runBot(signalContext(), cfg)
	case "migrate":
		return runMigrate(cfg)
	case "load":
		return runLoad(signalContext(), cfg, os.Args[2:])
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

func runVersion() {
	fmt.Printf("unsabot %s\n", AppVersion)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}

func runHelp() {
	fmt.Println("unsabot - UNSA assistant services")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  unsabot serve           Start the inference front server")
	fmt.Println("  unsabot bot             Start the Telegram bot")
	fmt.Println("  unsabot migrate         Apply knowledge store migrations")
	fmt.Println("  unsabot load <file>     Import knowledge fragments from CSV")
	fmt.Println("  unsabot version         Show version information")
	fmt.Println("  unsabot help            Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  DATABASE_URL            PostgreSQL URL of the knowledge store")
	fmt.Println("  TELEGRAM_TOKEN          Bot API token (bot command)")
	fmt.Println("  INFERENCE_API_URL       Inference server URL (bot command)")
	fmt.Println("  MAX_CONCURRENT_REQUESTS Permit pool size (serve command)")
	fmt.Println("  UNSABOT_DEBUG           Enable debug logging")
}
