// Package ratelimit bounds calls to the market data provider with a sliding one-minute window.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultCallsPerMinute sits comfortably under the common third-party quotas
	DefaultCallsPerMinute = 75

	window = time.Minute
	buffer = 100 * time.Millisecond
)

// Stats is a point-in-time view of the limiter
type Stats struct {
	WindowCalls    int   `json:"window_calls"`
	CallsPerMinute int   `json:"calls_per_minute"`
	TotalWaits     int64 `json:"total_waits"`
	TotalGranted   int64 `json:"total_granted"`
}

// SlidingWindow admits at most callsPerMinute calls in any 60 second window.
// One instance is shared by every running job.
type SlidingWindow struct {
	mu      sync.Mutex
	calls   []time.Time
	limit   int
	spacing time.Duration
	waits   int64
	granted int64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter. A non-positive rate falls back to DefaultCallsPerMinute.
func New(callsPerMinute int) *SlidingWindow {
	if callsPerMinute <= 0 {
		callsPerMinute = DefaultCallsPerMinute
	}

	return &SlidingWindow{
		calls:   make([]time.Time, 0, callsPerMinute),
		limit:   callsPerMinute,
		spacing: window / time.Duration(callsPerMinute),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Acquire blocks until a permit is granted or ctx is done. The window is only
// touched while holding the lock and the lock is never held while sleeping;
// a caller that finds the window full sleeps and then re-checks from the top.
func (l *SlidingWindow) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait, first, ok := l.tryAcquire()
		if ok {
			if first {
				return nil
			}
			// spread calls evenly instead of bursting at the window edge
			return l.sleep(ctx, l.spacing)
		}

		log.Debug().
			Dur("wait", wait).
			Int("limit", l.limit).
			Msg("Rate limit window full, waiting")

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// tryAcquire is the single check-and-insert critical section. When the window
// is full it returns how long until the oldest call leaves it.
func (l *SlidingWindow) tryAcquire() (wait time.Duration, first bool, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	if len(l.calls) < l.limit {
		l.calls = append(l.calls, now)
		first = l.granted == 0
		l.granted++
		return 0, first, true
	}

	l.waits++
	wait = window - now.Sub(l.calls[0]) + buffer
	if wait < buffer {
		wait = buffer
	}
	return wait, false, false
}

func (l *SlidingWindow) prune(now time.Time) {
	i := 0
	for i < len(l.calls) && now.Sub(l.calls[i]) >= window {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

// Stats reports window usage and lifetime counters
func (l *SlidingWindow) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(l.now())
	return Stats{
		WindowCalls:    len(l.calls),
		CallsPerMinute: l.limit,
		TotalWaits:     l.waits,
		TotalGranted:   l.granted,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
