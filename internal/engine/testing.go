package engine

import (
	"context"
	"sync"
)

// fakeEngine plays back scripted outputs. The zero value yields an empty
// terminated stream.
type fakeEngine struct {
	mu       sync.Mutex
	outputs  []Output
	genErr   error
	hang     bool // stream never terminates until ctx is done
	model    string
	requests []Request
}

func (f *fakeEngine) Generate(ctx context.Context, req Request) (Stream, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.genErr != nil {
		return nil, f.genErr
	}
	return &fakeStream{ctx: ctx, outputs: f.outputs, hang: f.hang}, nil
}

func (f *fakeEngine) Model() string {
	if f.model == "" {
		return "fake-model"
	}
	return f.model
}

// fakeStream yields the scripted outputs, then either terminates or, when
// hang is set, blocks until the context is cancelled.
type fakeStream struct {
	ctx     context.Context
	outputs []Output
	hang    bool

	pos    int
	cur    Output
	err    error
	closed bool
}

func (s *fakeStream) Next() bool {
	if s.closed {
		return false
	}
	if s.pos < len(s.outputs) {
		s.cur = s.outputs[s.pos]
		s.pos++
		return true
	}
	if s.hang {
		<-s.ctx.Done()
		s.err = s.ctx.Err()
	}
	return false
}

func (s *fakeStream) Current() Output { return s.cur }

func (s *fakeStream) Err() error { return s.err }

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}
