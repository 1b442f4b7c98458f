package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/unsafisica/unsabot/internal/admission"
	"github.com/unsafisica/unsabot/internal/engine"
	"github.com/unsafisica/unsabot/internal/log"
)

// stubEngine yields its scripted outputs, or blocks until the request
// context expires when hang is set.
type stubEngine struct {
	outputs []engine.Output
	genErr  error
	hang    bool
	model   string
}

func (e *stubEngine) Generate(ctx context.Context, _ engine.Request) (engine.Stream, error) {
	if e.genErr != nil {
		return nil, e.genErr
	}
	return &stubStream{ctx: ctx, outputs: e.outputs, hang: e.hang}, nil
}

func (e *stubEngine) Model() string { return e.model }

type stubStream struct {
	ctx     context.Context
	outputs []engine.Output
	hang    bool
	pos     int
	cur     engine.Output
}

func (s *stubStream) Next() bool {
	if s.pos >= len(s.outputs) {
		if s.hang {
			<-s.ctx.Done()
		}
		return false
	}
	s.cur = s.outputs[s.pos]
	s.pos++
	return true
}

func (s *stubStream) Current() engine.Output { return s.cur }

func (s *stubStream) Err() error {
	if s.hang {
		return s.ctx.Err()
	}
	return nil
}

func (s *stubStream) Close() error { return nil }

type serverOptions struct {
	engine        engine.Engine
	maxConcurrent int
	queueMax      int
	queueWait     time.Duration
	modelTimeout  time.Duration
}

func newTestServer(t *testing.T, opts serverOptions) (*Server, *admission.Controller) {
	t.Helper()
	if opts.maxConcurrent == 0 {
		opts.maxConcurrent = 2
	}
	if opts.queueMax == 0 {
		opts.queueMax = 4
	}
	if opts.queueWait == 0 {
		opts.queueWait = 100 * time.Millisecond
	}
	if opts.modelTimeout == 0 {
		opts.modelTimeout = time.Second
	}
	logger := log.NewNop()
	ctrl := admission.NewController(opts.maxConcurrent, opts.queueMax, opts.queueWait, logger)
	orch := engine.NewOrchestrator(opts.engine, opts.modelTimeout, logger)

	srv, err := NewServer(ServerConfig{
		Logger:       logger,
		Controller:   ctrl,
		Orchestrator: orch,
		ModelName:    "test-model",
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return srv, ctrl
}

func postGenerate(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestGenerate_Success(t *testing.T) {
	eng := &stubEngine{
		model: "test-model",
		outputs: []engine.Output{
			{Text: "Hola", Tokens: 1},
			{Text: "Hola mundo", Tokens: 2},
		},
	}
	srv, _ := newTestServer(t, serverOptions{engine: eng})

	rec := postGenerate(t, srv, `{"prompt":"saluda","user_id":"u1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp generateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Response != "Hola mundo" {
		t.Errorf("Response = %q, want final cumulative text", resp.Response)
	}
	if resp.Model != "test-model" {
		t.Errorf("Model = %q, want test-model", resp.Model)
	}
	if resp.TokensUsed != 2 {
		t.Errorf("TokensUsed = %d, want 2", resp.TokensUsed)
	}
	if resp.ProcessingTime < 0 {
		t.Errorf("ProcessingTime = %f, want >= 0", resp.ProcessingTime)
	}
}

func TestGenerate_BadBody(t *testing.T) {
	srv, _ := newTestServer(t, serverOptions{engine: &stubEngine{}})

	rec := postGenerate(t, srv, `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	srv, _ := newTestServer(t, serverOptions{engine: &stubEngine{}})

	rec := postGenerate(t, srv, `{"prompt":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error response: %v", err)
	}
	if resp.Error == "" {
		t.Error("error field is empty")
	}
}

func TestGenerate_QueueFull(t *testing.T) {
	eng := &stubEngine{hang: true, model: "test-model"}
	srv, ctrl := newTestServer(t, serverOptions{
		engine:        eng,
		maxConcurrent: 1,
		queueMax:      1,
		queueWait:     time.Second,
		modelTimeout:  5 * time.Second,
	})

	// Occupy the single permit and the single queue slot directly.
	release, err := ctrl.Admit(context.Background())
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	defer release()

	waiting := make(chan struct{})
	go func() {
		defer close(waiting)
		rel, err := ctrl.Admit(context.Background())
		if err == nil {
			rel()
		}
	}()
	waitUntil(t, func() bool { return ctrl.Load().QueueSize == 1 })

	rec := postGenerate(t, srv, `{"prompt":"hola"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}

	release()
	<-waiting
}

func TestGenerate_QueueWaitTimeout(t *testing.T) {
	eng := &stubEngine{hang: true, model: "test-model"}
	srv, ctrl := newTestServer(t, serverOptions{
		engine:        eng,
		maxConcurrent: 1,
		queueMax:      4,
		queueWait:     20 * time.Millisecond,
		modelTimeout:  5 * time.Second,
	})

	release, err := ctrl.Admit(context.Background())
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	defer release()

	rec := postGenerate(t, srv, `{"prompt":"hola"}`)
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", rec.Code)
	}
}

func TestGenerate_ModelTimeout(t *testing.T) {
	eng := &stubEngine{hang: true, model: "test-model"}
	srv, _ := newTestServer(t, serverOptions{
		engine:       eng,
		modelTimeout: 30 * time.Millisecond,
	})

	rec := postGenerate(t, srv, `{"prompt":"hola"}`)
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", rec.Code)
	}
}

func TestGenerate_EmptyOutput(t *testing.T) {
	eng := &stubEngine{
		model:   "test-model",
		outputs: []engine.Output{{Text: "   \n", Tokens: 3}},
	}
	srv, _ := newTestServer(t, serverOptions{engine: eng})

	rec := postGenerate(t, srv, `{"prompt":"hola"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestGenerate_ReleasesPermit(t *testing.T) {
	eng := &stubEngine{
		model:   "test-model",
		outputs: []engine.Output{{Text: "ok", Tokens: 1}},
	}
	srv, ctrl := newTestServer(t, serverOptions{engine: eng, maxConcurrent: 1})

	for range 3 {
		rec := postGenerate(t, srv, `{"prompt":"hola"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	}
	if snap := ctrl.Load(); snap.ConcurrentRequests != 0 {
		t.Errorf("ConcurrentRequests = %d after completion, want 0", snap.ConcurrentRequests)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, serverOptions{engine: &stubEngine{model: "test-model"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding health response: %v", err)
	}
	if resp.Status != admission.StatusHealthy {
		t.Errorf("Status = %q, want healthy", resp.Status)
	}
	if resp.Model != "test-model" {
		t.Errorf("Model = %q, want test-model", resp.Model)
	}
	if resp.Version != Version {
		t.Errorf("Version = %q, want %q", resp.Version, Version)
	}
	if resp.MaxConcurrent != 2 {
		t.Errorf("MaxConcurrent = %d, want 2", resp.MaxConcurrent)
	}
	if resp.Timestamp == 0 {
		t.Error("Timestamp is zero")
	}
}

func TestHealth_DegradedUnderLoad(t *testing.T) {
	srv, ctrl := newTestServer(t, serverOptions{
		engine:        &stubEngine{model: "test-model"},
		maxConcurrent: 1,
		queueMax:      4,
	})

	release, err := ctrl.Admit(context.Background())
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	defer release()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding health response: %v", err)
	}
	if resp.Status != admission.StatusDegraded {
		t.Errorf("Status = %q with all permits held, want degraded", resp.Status)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, serverOptions{engine: &stubEngine{}})

	req := httptest.NewRequest(http.MethodGet, "/generate", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

// waitUntil polls cond for a short while. Avoids flaky fixed sleeps.
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
