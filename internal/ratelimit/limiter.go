// Package ratelimit throttles MCP tool calls with per-key token buckets.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLimited is returned by Check when a tool has no tokens left.
var ErrLimited = errors.New("rate limit exceeded")

// Limit describes a bucket holding up to Burst tokens, refilled at
// PerMinute tokens per minute.
type Limit struct {
	PerMinute float64
	Burst     int
}

// Limiter is a set of token buckets sharing one Limit, keyed by caller.
// It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	limit   Limit
	tokens  map[string]float64
	updated map[string]time.Time
	now     func() time.Time
}

// NewLimiter creates a limiter where every key starts with a full bucket.
func NewLimiter(limit Limit) *Limiter {
	return &Limiter{
		limit:   limit,
		tokens:  make(map[string]float64),
		updated: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Allow takes one token from key's bucket and reports whether one was
// available.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	burst := float64(l.limit.Burst)

	tokens, seen := l.tokens[key]
	if !seen {
		tokens = burst
	} else if dt := now.Sub(l.updated[key]); dt > 0 {
		tokens = min(burst, tokens+dt.Minutes()*l.limit.PerMinute)
	}
	l.updated[key] = now

	if tokens < 1 {
		l.tokens[key] = tokens
		return false
	}
	l.tokens[key] = tokens - 1
	return true
}

// Tools maps MCP tool names to their limiters.
type Tools map[string]*Limiter

// DefaultTools returns the limits for dcesim's MCP tools. Simulation and
// loading write to the store, so they are throttled harder than listing.
func DefaultTools() Tools {
	return Tools{
		"dce_simulate": NewLimiter(Limit{PerMinute: 10, Burst: 3}),
		"dce_load":     NewLimiter(Limit{PerMinute: 10, Burst: 3}),
		"dce_runs":     NewLimiter(Limit{PerMinute: 60, Burst: 10}),
	}
}

// Check consumes a token for tool. Tools without a limiter always pass.
func (t Tools) Check(tool string) error {
	l, ok := t[tool]
	if !ok {
		return nil
	}
	if !l.Allow(tool) {
		return fmt.Errorf("%w for %s, please try again shortly", ErrLimited, tool)
	}
	return nil
}
