// Package ratelimit implements the relay's global fixed-window request limiter.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"
)

// Defaults for the global window.
const (
	DefaultMax    = 100
	DefaultWindow = 60 * time.Second
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Count      int64 // requests seen in the current window, this one included
	Limit      int64
	RetryAfter time.Duration // time until the window resets
}

// Remaining returns how many more requests fit in the window.
func (d Decision) Remaining() int64 {
	if d.Count >= d.Limit {
		return 0
	}
	return d.Limit - d.Count
}

// FixedWindow counts every request process-wide and rejects once the count
// passes the ceiling. The count resets on a wall-clock tick, not per client,
// so bursts straddling a reset can reach twice the ceiling. Rejected requests
// still count.
type FixedWindow struct {
	max    int64
	window time.Duration
	now    func() time.Time

	count       atomic.Int64
	windowStart atomic.Int64 // unix nanos
}

// NewFixedWindow creates a limiter allowing max requests per window.
func NewFixedWindow(max int, window time.Duration) *FixedWindow {
	if max <= 0 {
		max = DefaultMax
	}
	if window <= 0 {
		window = DefaultWindow
	}
	w := &FixedWindow{
		max:    int64(max),
		window: window,
		now:    time.Now,
	}
	w.windowStart.Store(w.now().UnixNano())
	return w
}

// Allow counts one request and reports whether it is within the ceiling.
func (w *FixedWindow) Allow() Decision {
	n := w.count.Add(1)

	retry := time.Unix(0, w.windowStart.Load()).Add(w.window).Sub(w.now())
	if retry < 0 {
		retry = 0
	}

	return Decision{
		Allowed:    n <= w.max,
		Count:      n,
		Limit:      w.max,
		RetryAfter: retry,
	}
}

// Reset zeroes the counter and starts a new window.
func (w *FixedWindow) Reset() {
	w.count.Store(0)
	w.windowStart.Store(w.now().UnixNano())
}

// Count returns the requests seen in the current window.
func (w *FixedWindow) Count() int64 {
	return w.count.Load()
}

// Window returns the window length.
func (w *FixedWindow) Window() time.Duration {
	return w.window
}

// Run resets the counter every window until ctx is done.
func (w *FixedWindow) Run(ctx context.Context) {
	ticker := time.NewTicker(w.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Reset()
		}
	}
}
