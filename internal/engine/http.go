package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPEngine talks to an OpenAI-compatible completion runtime (vLLM and
// friends) over server-sent events.
type HTTPEngine struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// HTTPOption configures an HTTPEngine.
type HTTPOption func(*HTTPEngine)

// WithBaseURL sets the runtime base URL (default http://localhost:8001/v1).
func WithBaseURL(url string) HTTPOption {
	return func(e *HTTPEngine) {
		e.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithModel sets the model identifier sent with each request.
func WithModel(model string) HTTPOption {
	return func(e *HTTPEngine) {
		e.model = model
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(e *HTTPEngine) {
		e.httpClient = client
	}
}

// NewHTTPEngine creates an engine client.
func NewHTTPEngine(opts ...HTTPOption) *HTTPEngine {
	e := &HTTPEngine{
		baseURL: "http://localhost:8001/v1",
		model:   "default",
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Model returns the configured model identifier.
func (e *HTTPEngine) Model() string {
	return e.model
}

// completionRequest is the OpenAI-compatible wire format.
type completionRequest struct {
	Model             string         `json:"model"`
	Prompt            string         `json:"prompt"`
	Stream            bool           `json:"stream"`
	Temperature       float64        `json:"temperature"`
	MaxTokens         int            `json:"max_tokens"`
	TopP              float64        `json:"top_p"`
	TopK              int            `json:"top_k,omitempty"`
	Stop              []string       `json:"stop,omitempty"`
	RepetitionPenalty float64        `json:"repetition_penalty,omitempty"`
	User              string         `json:"user,omitempty"`
	StreamOptions     *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// completionChunk is one SSE data event.
type completionChunk struct {
	Choices []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}

// Generate submits the prompt and returns a Stream over the SSE response.
func (e *HTTPEngine) Generate(ctx context.Context, req Request) (Stream, error) {
	body, err := json.Marshal(completionRequest{
		Model:             e.model,
		Prompt:            req.Prompt,
		Stream:            true,
		Temperature:       req.Params.Temperature,
		MaxTokens:         req.Params.MaxTokens,
		TopP:              req.Params.TopP,
		TopK:              req.Params.TopK,
		Stop:              req.Params.Stop,
		RepetitionPenalty: req.Params.RepetitionPenalty,
		User:              req.UserID,
		StreamOptions:     &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("submitting to engine: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("engine returned %s: %s", resp.Status, msg)
	}

	return &sseStream{
		body:    resp.Body,
		scanner: bufio.NewScanner(resp.Body),
	}, nil
}

// sseStream adapts the SSE body to the Stream contract, accumulating text
// deltas into cumulative outputs.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	text   strings.Builder
	chunks int
	tokens int
	cur    Output
	err    error
	done   bool
}

func (s *sseStream) Next() bool {
	if s.done {
		return false
	}

	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			s.done = true
			return false
		}

		var chunk completionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // tolerate malformed keep-alive chunks
		}
		if chunk.Usage != nil {
			// vLLM sends usage in a trailing chunk with no choices; surface
			// it as one more cumulative item so the final count is exact.
			s.tokens = chunk.Usage.CompletionTokens
			s.cur = Output{Text: s.text.String(), Tokens: s.tokens}
			if len(chunk.Choices) == 0 {
				return true
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		s.text.WriteString(chunk.Choices[0].Text)
		s.chunks++
		s.cur = Output{Text: s.text.String(), Tokens: s.tokenCount()}
		return true
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		s.err = fmt.Errorf("reading engine stream: %w", err)
	}
	return false
}

// tokenCount prefers the engine-reported usage and falls back to the
// number of received deltas, which vLLM emits one token at a time.
func (s *sseStream) tokenCount() int {
	if s.tokens > 0 {
		return s.tokens
	}
	return s.chunks
}

func (s *sseStream) Current() Output { return s.cur }

func (s *sseStream) Err() error { return s.err }

func (s *sseStream) Close() error {
	if err := s.body.Close(); err != nil {
		return fmt.Errorf("closing engine stream: %w", err)
	}
	return nil
}
