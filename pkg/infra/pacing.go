package infra

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// Pacer spaces out consecutive outbound deliveries. It replaces raw sleeps
// with a clock-backed wait so the interval is configurable and tests can
// drive a mock clock instead of the wall clock.
type Pacer struct {
	clock    clock.Clock
	interval time.Duration
}

func NewPacer(c clock.Clock, interval time.Duration) *Pacer {
	return &Pacer{clock: c, interval: interval}
}

// Wait blocks for one pacing interval or until the context is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.interval <= 0 {
		return ctx.Err()
	}

	t := p.clock.Timer(p.interval)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interval exposes the configured delay, mainly for logging.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}
