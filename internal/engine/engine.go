// Package engine wraps the text-generation engine behind a small
// streaming contract and provides the deadline-bounded orchestration that
// consumes it.
//
// The engine is an opaque collaborator: it takes a prompt plus sampling
// parameters and yields a lazy, finite, non-restartable sequence of
// cumulative outputs. Each item replaces the previous one; the last item
// is the final result. The engine's internal batching is invisible here.
package engine

import "context"

// Params is the sampling configuration for one generation call.
type Params struct {
	Temperature       float64  `json:"temperature"`
	MaxTokens         int      `json:"max_tokens"`
	TopP              float64  `json:"top_p"`
	TopK              int      `json:"top_k"`
	Stop              []string `json:"stop,omitempty"`
	RepetitionPenalty float64  `json:"repetition_penalty"`
}

// DefaultParams returns the production sampling defaults.
func DefaultParams() Params {
	return Params{
		Temperature:       0.2,
		MaxTokens:         850,
		TopP:              0.9,
		TopK:              50,
		Stop:              []string{"<|im_end|>", "</s>", "###"},
		RepetitionPenalty: 1.1,
	}
}

// Request is one immutable generation request.
type Request struct {
	ID     string
	Prompt string
	UserID string
	Params Params
}

// Output is one cumulative engine output. Text is the full text generated
// so far, not a delta.
type Output struct {
	Text   string
	Tokens int
}

// Stream is a cancellable iterator over an engine's incremental outputs.
// Next reports whether Current holds a new item; after Next returns false
// the consumer must check Err. Streams cannot be restarted.
type Stream interface {
	Next() bool
	Current() Output
	Err() error
	Close() error
}

// Engine submits generation requests. Implementations: the HTTP client in
// http.go and the scripted fakes in testing.go.
type Engine interface {
	Generate(ctx context.Context, req Request) (Stream, error)
	Model() string
}
