package cmd

import (
	"fmt"

	"github.com/unsafisica/unsabot/db"
	"github.com/unsafisica/unsabot/internal/config"
)

// runMigrate applies pending schema migrations.
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return config.ErrMissingDatabaseURL
	}
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}
