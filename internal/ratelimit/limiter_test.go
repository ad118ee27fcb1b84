package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock returns a limiter whose clock the test advances by hand.
func fakeClock(limit Limit) (*Limiter, func(time.Duration)) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(limit)
	l.now = func() time.Time { return now }
	return l, func(d time.Duration) { now = now.Add(d) }
}

func TestAllow(t *testing.T) {
	tests := []struct {
		name    string
		limit   Limit
		advance time.Duration
		calls   int
		allowed int
	}{
		{"within burst", Limit{PerMinute: 60, Burst: 3}, 0, 3, 3},
		{"exceeds burst", Limit{PerMinute: 60, Burst: 2}, 0, 5, 2},
		{"zero rate never refills", Limit{PerMinute: 0, Burst: 1}, time.Hour, 3, 1},
		{"no burst", Limit{PerMinute: 60, Burst: 0}, 0, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, advance := fakeClock(tt.limit)
			got := 0
			for i := 0; i < tt.calls; i++ {
				if l.Allow("k") {
					got++
				}
				advance(tt.advance)
			}
			if got != tt.allowed {
				t.Errorf("allowed %d of %d, want %d", got, tt.calls, tt.allowed)
			}
		})
	}
}

func TestAllow_Refill(t *testing.T) {
	l, advance := fakeClock(Limit{PerMinute: 60, Burst: 2})

	l.Allow("k")
	l.Allow("k")
	if l.Allow("k") {
		t.Fatal("expected rejection after burst")
	}

	// One call per second: half a second is not enough.
	advance(500 * time.Millisecond)
	if l.Allow("k") {
		t.Error("expected rejection after a partial refill")
	}
	advance(500 * time.Millisecond)
	if !l.Allow("k") {
		t.Error("expected allow after a full token refilled")
	}

	// Refill is capped at the burst size.
	advance(time.Hour)
	for i := 0; i < 2; i++ {
		if !l.Allow("k") {
			t.Fatalf("call %d rejected after long idle", i+1)
		}
	}
	if l.Allow("k") {
		t.Error("bucket exceeded its burst size")
	}
}

func TestAllow_IndependentKeys(t *testing.T) {
	l, _ := fakeClock(Limit{PerMinute: 1, Burst: 1})
	l.Allow("a")
	if l.Allow("a") {
		t.Error("key a should be exhausted")
	}
	if !l.Allow("b") {
		t.Error("key b should have its own bucket")
	}
}

func TestAllow_ConcurrentAccess(t *testing.T) {
	l := NewLimiter(Limit{PerMinute: 0, Burst: 50})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want 50", allowed)
	}
}

func TestToolsCheck(t *testing.T) {
	tools := DefaultTools()
	for _, name := range []string{"dce_simulate", "dce_load", "dce_runs"} {
		if _, ok := tools[name]; !ok {
			t.Errorf("no limiter for %s", name)
		}
	}

	for i := 0; i < 3; i++ {
		if err := tools.Check("dce_simulate"); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
	if err := tools.Check("dce_simulate"); !errors.Is(err, ErrLimited) {
		t.Errorf("Check() error = %v, want ErrLimited", err)
	}

	if err := tools.Check("unlisted"); err != nil {
		t.Errorf("unlisted tool limited: %v", err)
	}
}
