package infra

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Backoff produces jittered exponential delays for retry loops. Waits run
// on an injected clock so retry schedules are testable without wall-clock
// sleeps.
type Backoff struct {
	clock      clock.Clock
	minDelay   time.Duration
	maxDelay   time.Duration
	multiplier float64

	mu       sync.Mutex
	current  time.Duration
	attempts int
}

func NewBackoff(c clock.Clock, min, max time.Duration, mult float64) *Backoff {
	return &Backoff{
		clock:      c,
		minDelay:   min,
		maxDelay:   max,
		multiplier: mult,
		current:    min,
	}
}

// Next advances the schedule and returns the next jittered delay.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++

	jitterFactor := rand.Float64()*0.4 - 0.2
	jitter := time.Duration(jitterFactor * float64(b.current))
	wait := max(b.current+jitter, b.minDelay)

	b.current = min(time.Duration(float64(b.current)*b.multiplier), b.maxDelay)

	return wait
}

// Wait sleeps for the next delay in the schedule, or returns ctx.Err()
// when the context ends first.
func (b *Backoff) Wait(ctx context.Context) error {
	t := b.clock.Timer(b.Next())
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.minDelay
	b.attempts = 0
}

// Attempts reports how many delays were handed out since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
