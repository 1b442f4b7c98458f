// Package client is the bot-side resilience client for the inference
// server. It wraps a persistent HTTP session with a linear-backoff retry
// budget and a circuit breaker; exhaustion degrades to an empty answer so
// the caller can fall back to the knowledge base.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout  = 90 * time.Second
	defaultAttempts = 2
	defaultDelay    = time.Second
)

// generationRequest is the body sent to the inference server.
type generationRequest struct {
	Prompt    string  `json:"prompt"`
	UserID    string  `json:"user_id"`
	MaxTokens int     `json:"max_tokens,omitempty"`
	TopP      float64 `json:"top_p,omitempty"`
}

// generationResponse is the success envelope of POST /generate.
type generationResponse struct {
	Response       string  `json:"response"`
	Model          string  `json:"model"`
	TokensUsed     int     `json:"tokens_used"`
	ProcessingTime float64 `json:"processing_time"`
}

// HealthSnapshot is the decoded body of the server's GET /health.
type HealthSnapshot struct {
	Status             string  `json:"status"`
	Model              string  `json:"model"`
	QueueSize          int     `json:"queue_size"`
	QueueLoadPercent   float64 `json:"queue_load_percent"`
	ConcurrentRequests int     `json:"concurrent_requests"`
	MaxConcurrent      int     `json:"max_concurrent"`
	Version            string  `json:"version"`
}

// Client calls the inference server. Safe for concurrent use; the
// underlying http.Client pools connections across calls.
type Client struct {
	http      *http.Client
	baseURL   string
	attempts  int
	baseDelay time.Duration
	breaker   *Breaker
	logger    *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry sets the extra attempt budget and the base backoff delay.
// Backoff is linear: base×1, base×2, and so on.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.baseDelay = baseDelay
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the inference server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: defaultTimeout},
		baseURL:   strings.TrimRight(baseURL, "/"),
		attempts:  defaultAttempts,
		baseDelay: defaultDelay,
		breaker:   NewBreaker(DefaultBreakerConfig()),
		logger:    slog.Default(),
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CallGeneration asks the inference server for a completion. Every
// failure mode degrades to the empty string: the caller must treat "" as
// "the model is unavailable" and answer from the knowledge base instead.
//
// A failed attempt (transport error, non-200 status, or an empty answer)
// is retried up to the attempt budget with linear backoff. Only the
// exhausted budget counts as a breaker failure.
func (c *Client) CallGeneration(ctx context.Context, prompt, userID string) string {
	if err := c.breaker.Allow(); err != nil {
		c.logger.Warn("inference circuit open, skipping call", "state", c.breaker.State().String())
		return ""
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts+1; attempt++ {
		answer, err := c.generate(ctx, prompt, userID)
		if err == nil {
			c.breaker.Success()
			return answer
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if attempt > c.attempts {
			break
		}

		delay := c.baseDelay * time.Duration(attempt)
		c.logger.Warn("inference attempt failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if err := c.sleep(ctx, delay); err != nil {
			break
		}
	}

	c.breaker.Failure()
	c.logger.Error("inference attempts exhausted", "attempts", c.attempts+1, "error", lastErr)
	return ""
}

// generate performs one POST /generate attempt.
func (c *Client) generate(ctx context.Context, prompt, userID string) (string, error) {
	body, err := json.Marshal(generationRequest{Prompt: prompt, UserID: userID})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling inference server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("inference server returned %d", resp.StatusCode)
	}

	var gen generationResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	answer := strings.TrimSpace(gen.Response)
	if answer == "" {
		return "", fmt.Errorf("inference server returned an empty answer")
	}
	return answer, nil
}

// Health probes the server's health endpoint.
func (c *Client) Health(ctx context.Context) (*HealthSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling health endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}

	var snap HealthSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decoding health response: %w", err)
	}
	return &snap, nil
}

// sleepCtx sleeps for d unless ctx expires first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
