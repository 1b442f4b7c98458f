package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unsafisica/unsabot/internal/config"
	"github.com/unsafisica/unsabot/internal/loader"
)

// runLoad bulk-imports knowledge fragments from a CSV file.
func runLoad(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: unsabot load <file.csv>")
	}
	if cfg.DatabaseURL == "" {
		return config.ErrMissingDatabaseURL
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening CSV file: %w", err)
	}
	defer f.Close()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to knowledge store: %w", err)
	}
	defer pool.Close()

	n, err := loader.Load(ctx, pool, f)
	if err != nil {
		return err
	}
	slog.Info("fragments imported", "count", n, "file", args[0])
	return nil
}
