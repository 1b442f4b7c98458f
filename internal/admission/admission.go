// Package admission bounds access to the generation engine with a fixed
// pool of concurrency permits fronted by a bounded waiting queue.
//
// Backpressure contract: a request arriving at a full queue is rejected
// immediately; a queued request that cannot obtain a permit within the
// queue-wait timeout is dropped. A queue slot only reserves a place in
// line; it is released as soon as a permit is acquired.
package admission

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrQueueFull is returned when the waiting queue is at capacity.
	ErrQueueFull = errors.New("admission queue full")

	// ErrQueueTimeout is returned when no permit became available within
	// the queue-wait timeout.
	ErrQueueTimeout = errors.New("timed out waiting for a permit")
)

// Status values reported in a load Snapshot.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Degradation thresholds, in percent.
const (
	queueDegradedPercent     = 80
	semaphoreDegradedPercent = 90
)

// Snapshot is a read-only view of controller load, recomputed on demand.
type Snapshot struct {
	Status               string  `json:"status"`
	QueueSize            int     `json:"queue_size"`
	QueueMax             int     `json:"queue_max"`
	QueueLoadPercent     float64 `json:"queue_load_percent"`
	ConcurrentRequests   int     `json:"concurrent_requests"`
	MaxConcurrent        int     `json:"max_concurrent"`
	SemaphoreLoadPercent float64 `json:"semaphore_load_percent"`
}

// Controller is the admission gate in front of the generation engine.
// Safe for concurrent use.
type Controller struct {
	permits *semaphore.Weighted
	queue   *semaphore.Weighted

	queueWait time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	queued   int
	inFlight int

	maxConcurrent int
	queueMax      int
}

// NewController creates a controller with maxConcurrent permits and
// queueMax waiting slots.
func NewController(maxConcurrent, queueMax int, queueWait time.Duration, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		permits:       semaphore.NewWeighted(int64(maxConcurrent)),
		queue:         semaphore.NewWeighted(int64(queueMax)),
		queueWait:     queueWait,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		queueMax:      queueMax,
	}
}

// Admit attempts to pass the gate. On success it returns a release
// function that must be called exactly once when the generation call
// finishes; it is safe to defer and idempotent, so no exit path can leak
// a permit.
//
// Errors: ErrQueueFull when the queue is saturated, ErrQueueTimeout when
// the queue-wait elapses, or the ctx error if the caller gave up first.
func (c *Controller) Admit(ctx context.Context) (release func(), err error) {
	// Fail fast on a full queue without ever entering it.
	if !c.queue.TryAcquire(1) {
		c.mu.Lock()
		size := c.queued
		c.mu.Unlock()
		c.logger.Warn("queue full, rejecting request", "queue_size", size, "queue_max", c.queueMax)
		return nil, ErrQueueFull
	}
	c.addQueued(1)

	// The slot only reserves a place in line; always give it back.
	defer func() {
		c.queue.Release(1)
		c.addQueued(-1)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, c.queueWait)
	defer cancel()

	if err := c.permits.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Error("queue wait elapsed", "timeout", c.queueWait)
		return nil, ErrQueueTimeout
	}
	c.addInFlight(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.permits.Release(1)
			c.addInFlight(-1)
		})
	}, nil
}

func (c *Controller) addQueued(d int) {
	c.mu.Lock()
	c.queued += d
	c.mu.Unlock()
}

func (c *Controller) addInFlight(d int) {
	c.mu.Lock()
	c.inFlight += d
	c.mu.Unlock()
}

// Load returns the current load snapshot. Degraded when queue utilization
// reaches 80% or permit utilization reaches 90%.
func (c *Controller) Load() Snapshot {
	c.mu.Lock()
	queued, inFlight := c.queued, c.inFlight
	c.mu.Unlock()

	queueLoad := percent(queued, c.queueMax)
	semLoad := percent(inFlight, c.maxConcurrent)

	status := StatusHealthy
	if queueLoad >= queueDegradedPercent || semLoad >= semaphoreDegradedPercent {
		status = StatusDegraded
	}

	return Snapshot{
		Status:               status,
		QueueSize:            queued,
		QueueMax:             c.queueMax,
		QueueLoadPercent:     queueLoad,
		ConcurrentRequests:   inFlight,
		MaxConcurrent:        c.maxConcurrent,
		SemaphoreLoadPercent: semLoad,
	}
}

// percent returns used/capacity as a percentage rounded to one decimal.
func percent(used, capacity int) float64 {
	if capacity <= 0 {
		return 0
	}
	return math.Round(float64(used)/float64(capacity)*1000) / 10
}
