package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window is an in-process sliding-window limiter. Each key keeps the
// timestamps of its admitted hits; a hit is recorded only when admitted.
//
// Keys whose newest hit is older than the window are swept at most once per
// window, so memory is bounded by the keys active in the last two windows.
type Window struct {
	mu        sync.Mutex
	budget    int
	window    time.Duration
	now       func() time.Time
	hits      map[string][]time.Time
	lastSweep time.Time
}

// NewWindow returns a limiter admitting budget hits per key within window.
func NewWindow(budget int, window time.Duration) *Window {
	return &Window{
		budget: budget,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

// WithClock replaces the time source. Intended for tests.
func (w *Window) WithClock(now func() time.Time) *Window {
	w.now = now
	return w
}

// Allow reports whether key may make another request now.
func (w *Window) Allow(key string) bool {
	return w.take(key).Allowed
}

// Take implements Governor. It never blocks on I/O and never fails.
func (w *Window) Take(_ context.Context, key string) (Result, error) {
	return w.take(key), nil
}

// Len returns the number of tracked keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.hits)
}

func (w *Window) take(key string) Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.window)
	if now.Sub(w.lastSweep) >= w.window {
		w.sweep(cutoff)
		w.lastSweep = now
	}

	q := w.hits[key]
	i := 0
	for i < len(q) && q[i].Before(cutoff) {
		i++
	}
	q = q[i:]

	if len(q) >= w.budget {
		w.hits[key] = q
		var retry time.Duration
		if len(q) > 0 {
			retry = q[0].Add(w.window).Sub(now)
		}
		return Result{Allowed: false, Limit: w.budget, Remaining: 0, RetryAfter: retry}
	}

	q = append(q, now)
	w.hits[key] = q
	return Result{Allowed: true, Limit: w.budget, Remaining: w.budget - len(q)}
}

func (w *Window) sweep(cutoff time.Time) {
	for key, q := range w.hits {
		if len(q) == 0 || q[len(q)-1].Before(cutoff) {
			delete(w.hits, key)
		}
	}
}
