package gateway

import (
	"context"
	"sync"
)

// StubSampler is a Sampler that returns fixed draws without running a
// model. It records the data of every call.
type StubSampler struct {
	Draws *Draws
	Err   error

	mu    sync.Mutex
	calls []map[string]any
}

var _ Sampler = (*StubSampler)(nil)

// Fit implements Sampler.
func (s *StubSampler) Fit(ctx context.Context, data map[string]any, opts Options) (*Draws, error) {
	s.mu.Lock()
	s.calls = append(s.calls, data)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Draws, nil
}

// Calls returns the data passed to each Fit call so far.
func (s *StubSampler) Calls() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.calls...)
}
