package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrGenerationTimeout indicates the model deadline elapsed before the
	// output stream terminated.
	ErrGenerationTimeout = errors.New("generation deadline exceeded")

	// ErrEmptyOutput indicates the stream terminated without usable text.
	ErrEmptyOutput = errors.New("engine produced no output")
)

// Result is the envelope returned for a completed generation.
type Result struct {
	Text       string
	Model      string
	TokensUsed int
	Elapsed    time.Duration
}

// Orchestrator drives one generation call against the engine under an
// overall deadline. Concurrency limits are the admission controller's
// job; the orchestrator assumes a permit is already held.
type Orchestrator struct {
	engine  Engine
	timeout time.Duration
	logger  *slog.Logger
}

// NewOrchestrator creates an orchestrator with the given model deadline.
func NewOrchestrator(e Engine, timeout time.Duration, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{engine: e, timeout: timeout, logger: logger}
}

// Generate submits the prompt and drains the output stream to its terminal
// item. The deadline covers submission and the whole drain; on expiry the
// stream is abandoned and ErrGenerationTimeout returned. Abandonment does
// not necessarily stop engine-side work; a late result is discarded.
func (o *Orchestrator) Generate(ctx context.Context, prompt, userID string, params Params) (*Result, error) {
	start := time.Now()

	genCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req := Request{
		ID:     fmt.Sprintf("%s_%s", uuid.NewString(), userID),
		Prompt: prompt,
		UserID: userID,
		Params: params,
	}

	stream, err := o.engine.Generate(genCtx, req)
	if err != nil {
		if genCtx.Err() == context.DeadlineExceeded {
			return nil, ErrGenerationTimeout
		}
		return nil, fmt.Errorf("submitting to engine: %w", err)
	}
	defer func() {
		if closeErr := stream.Close(); closeErr != nil {
			o.logger.Debug("closing engine stream", "error", closeErr)
		}
	}()

	// Drain: every item replaces the previous one, the last item wins.
	var final Output
	for stream.Next() {
		final = stream.Current()
	}
	if err := stream.Err(); err != nil {
		if genCtx.Err() == context.DeadlineExceeded {
			o.logger.Error("generation timed out", "user", userID, "timeout", o.timeout)
			return nil, ErrGenerationTimeout
		}
		return nil, fmt.Errorf("consuming engine stream: %w", err)
	}

	text := strings.TrimSpace(final.Text)
	if text == "" {
		return nil, ErrEmptyOutput
	}

	elapsed := time.Since(start)
	o.logger.Info("generation complete",
		"user", userID,
		"tokens", final.Tokens,
		"elapsed", elapsed,
	)

	return &Result{
		Text:       text,
		Model:      o.engine.Model(),
		TokensUsed: final.Tokens,
		Elapsed:    elapsed,
	}, nil
}
