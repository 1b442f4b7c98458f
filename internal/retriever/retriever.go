// Package retriever ranks stored knowledge fragments against a user query
// and decides how the answer should be constructed: straight from the
// database, through the language model, or as a fallback notice.
//
// Store failures are absorbed: Retrieve always returns a usable
// (context, results, mode) triple and never propagates a database error to
// the bot.
package retriever

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Mode is the chosen answer-construction strategy for a query.
type Mode int

const (
	// ModeDirect answers with fragment contents, no model call.
	ModeDirect Mode = iota
	// ModeLLM answers through the language model with retrieved context.
	ModeLLM
	// ModeFallback answers with a generic notice.
	ModeFallback
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeLLM:
		return "llm"
	case ModeFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// directThreshold is the concatenated-content length below which the
// database answer is returned verbatim instead of going through the model.
const directThreshold = 800

// connectCooldown is the minimum interval between (re)connection attempts
// to a store that just failed, so a down database is not hammered.
const connectCooldown = 2 * time.Second

// Result is a transient projection of one knowledge fragment.
type Result struct {
	ID       int32
	Content  string
	Category string
	Faculty  string
	Score    float64
	Keywords []string
}

// Stats holds retriever counters surfaced by the bot's /stats command.
type Stats struct {
	Queries   int64
	Errors    int64
	Fragments int64
}

// Querier is the store contract the retriever depends on. Defined here,
// by the consumer; the pgx implementation lives in store.go and tests
// supply fakes.
type Querier interface {
	// TopFragments returns fragments ordered by usage count descending.
	TopFragments(ctx context.Context, limit int) ([]Result, error)
	// SearchFragments returns fragments matching any term by substring,
	// trigram similarity above threshold, or exact keyword membership,
	// ranked by similarity against the first term then usage count.
	SearchFragments(ctx context.Context, terms []string, limit int) ([]Result, error)
	// BumpUsage increments the usage counter of the given fragments.
	BumpUsage(ctx context.Context, ids []int32) error
	// CountFragments returns the total number of stored fragments.
	CountFragments(ctx context.Context) (int64, error)
	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
	// Close releases the underlying pool.
	Close()
}

// Dialer opens a Querier for the given DSN. Production uses DialPgx;
// tests swap in fakes.
type Dialer func(ctx context.Context, dsn string) (Querier, error)

// Retriever owns the pooled store connection and the retrieval logic.
// Safe for concurrent use.
type Retriever struct {
	dsn    string
	dial   Dialer
	logger *slog.Logger

	mu          sync.Mutex
	store       Querier
	connected   bool
	lastAttempt time.Time
	stats       Stats

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// New creates a Retriever for the given PostgreSQL DSN.
func New(dsn string, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		dsn:    dsn,
		dial:   DialPgx,
		logger: logger,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Connect attempts to (re)connect to the store. Attempts are throttled to
// one per cool-down interval; inside the cool-down the cached state is
// returned. Returns whether the retriever is connected.
func (r *Retriever) Connect(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectLocked(ctx)
}

func (r *Retriever) connectLocked(ctx context.Context) bool {
	now := r.now()
	if now.Sub(r.lastAttempt) < connectCooldown {
		return r.connected
	}
	r.lastAttempt = now

	if r.connected {
		return true
	}

	store, err := r.dial(ctx, r.dsn)
	if err != nil {
		r.logger.Error("connecting to knowledge store", "error", err)
		return false
	}

	count, err := store.CountFragments(ctx)
	if err != nil {
		r.logger.Error("counting fragments", "error", err)
		store.Close()
		return false
	}

	r.store = store
	r.connected = true
	r.stats.Fragments = count
	r.logger.Info("knowledge store connected", "fragments", count)
	return true
}

// Disconnect closes the pool. Called on shutdown.
func (r *Retriever) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store != nil {
		r.store.Close()
		r.store = nil
	}
	r.connected = false
}

// Connected reports the current connection state without dialing.
func (r *Retriever) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Stats returns a copy of the counters.
func (r *Retriever) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Retrieve ranks fragments against the query and selects the response
// mode. The usage counter of every returned fragment is incremented as
// part of the read. A store that stays unreachable after one in-call
// retry yields ModeFallback with a database-error context, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, limit int) (string, []Result, Mode) {
	r.mu.Lock()
	r.stats.Queries++
	connected := r.connectLocked(ctx)
	r.mu.Unlock()

	if !connected {
		r.sleep(ctx, time.Second)
		r.mu.Lock()
		connected = r.connectLocked(ctx)
		r.mu.Unlock()
		if !connected {
			return "Error de base de datos.", nil, ModeFallback
		}
	}

	r.mu.Lock()
	store := r.store
	r.mu.Unlock()

	terms := cleanQueryTerms(query)

	var (
		results []Result
		err     error
	)
	if len(terms) == 0 {
		results, err = store.TopFragments(ctx, limit)
	} else {
		results, err = store.SearchFragments(ctx, terms, limit)
	}
	if err != nil {
		r.mu.Lock()
		r.stats.Errors++
		r.mu.Unlock()
		r.logger.Error("retrieve failed", "error", err)
		return "Error consultando la base.", nil, ModeFallback
	}

	if len(results) == 0 {
		return "No se encontró información.", nil, ModeFallback
	}

	ids := make([]int32, len(results))
	for i, res := range results {
		ids[i] = res.ID
	}
	if err := store.BumpUsage(ctx, ids); err != nil {
		// The read already succeeded; a lost bump only skews popularity.
		r.logger.Warn("bumping usage counters", "error", err)
	}

	var sb strings.Builder
	totalLen := 0
	for i, res := range results {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(res.Content)
		totalLen += utf8.RuneCountInString(res.Content)
	}

	mode := ModeLLM
	if totalLen < directThreshold {
		mode = ModeDirect
	}
	return sb.String(), results, mode
}

// BuildDirectResponse joins the first three fragment contents for a
// database-only answer.
func BuildDirectResponse(results []Result) string {
	if len(results) == 0 {
		return "No encontré información específica."
	}
	contents := make([]string, 0, 3)
	for i, res := range results {
		if i == 3 {
			break
		}
		contents = append(contents, res.Content)
	}
	return strings.Join(contents, "\n\n")
}
