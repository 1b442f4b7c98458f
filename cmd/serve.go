package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/unsafisica/unsabot/internal/admission"
	"github.com/unsafisica/unsabot/internal/api"
	"github.com/unsafisica/unsabot/internal/config"
	"github.com/unsafisica/unsabot/internal/engine"
)

// runServe starts the inference front server and blocks until shutdown.
func runServe(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}

	logger := slog.Default()

	controller := admission.NewController(cfg.MaxConcurrent, cfg.QueueSize, cfg.QueueTimeout, logger)
	eng := engine.NewHTTPEngine(
		engine.WithBaseURL(cfg.EngineURL),
		engine.WithModel(cfg.ModelName),
	)
	orchestrator := engine.NewOrchestrator(eng, cfg.ModelTimeout, logger)

	server, err := api.NewServer(api.ServerConfig{
		Logger:       logger,
		Controller:   controller,
		Orchestrator: orchestrator,
		ModelName:    cfg.ModelName,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	logger.Info("inference front starting",
		"addr", cfg.Addr(),
		"model", cfg.ModelName,
		"max_concurrent", cfg.MaxConcurrent,
		"queue_size", cfg.QueueSize,
	)
	return server.Run(ctx, cfg.Addr())
}
