package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/unsafisica/unsabot/internal/bot"
	"github.com/unsafisica/unsabot/internal/client"
	"github.com/unsafisica/unsabot/internal/config"
	"github.com/unsafisica/unsabot/internal/retriever"
)

// runBot starts the Telegram front-end and blocks until shutdown.
func runBot(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateBot(); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}

	logger := slog.Default()

	source := retriever.New(cfg.DatabaseURL, logger)
	if !source.Connect(ctx) {
		// Not fatal: the retriever reconnects on demand and degrades to
		// fallback answers until the store is reachable.
		logger.Warn("knowledge store unreachable at startup")
	}
	defer source.Disconnect()

	llm := client.New(inferenceBaseURL(cfg.InferenceURL),
		client.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		client.WithRetry(cfg.RetryAttempts, cfg.RetryDelay),
		client.WithLogger(logger),
	)

	manager := bot.NewManager(source, llm, bot.ManagerConfig{
		RateWindow:     cfg.RateWindow,
		RateMax:        cfg.RateMax,
		RetrieveLimit:  cfg.RetrieveLimit,
		RequestTimeout: cfg.RequestTimeout,
		Debug:          cfg.Debug,
	}, logger)

	tg, err := bot.NewTelegram(cfg.TelegramToken, manager, cfg.Debug, logger)
	if err != nil {
		return fmt.Errorf("creating telegram bot: %w", err)
	}
	return tg.Run(ctx)
}

// inferenceBaseURL strips a trailing /generate so deployments can keep
// pointing INFERENCE_API_URL at the generate endpoint itself.
func inferenceBaseURL(url string) string {
	url = strings.TrimRight(url, "/")
	return strings.TrimSuffix(url, "/generate")
}
