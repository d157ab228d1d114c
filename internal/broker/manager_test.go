package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msouza-dev/flowsync/pkg/infra"
)

type fakeBrokerLink struct {
	mu      sync.Mutex
	healthy bool
	closed  bool
	events  []DeliveryFailure
}

func (f *fakeBrokerLink) PublishFailure(ctx context.Context, failure DeliveryFailure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, failure)
	return nil
}

func (f *fakeBrokerLink) IsHealthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeBrokerLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBrokerLink) setHealthy(h bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = h
}

func (f *fakeBrokerLink) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeBrokerLink) published() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// newTestManager shrinks all waits to milliseconds so the redial loop can be
// observed with a real clock.
func newTestManager(dial func(url string, l *slog.Logger) (failurePublisher, error)) *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager("amqp://test", clock.New(), logger)
	m.dial = dial
	m.checkInterval = time.Millisecond
	m.backoff = infra.NewBackoff(clock.New(), time.Millisecond, 10*time.Millisecond, 2.0)
	return m
}

func TestManagerPublishBeforeConnect(t *testing.T) {
	m := newTestManager(func(url string, l *slog.Logger) (failurePublisher, error) {
		return nil, errors.New("unreachable")
	})

	assert.False(t, m.IsHealthy())
	err := m.PublishFailure(context.Background(), DeliveryFailure{TableName: "products"})
	assert.ErrorContains(t, err, "broker link is down")
}

func TestManagerConnectsAfterDialFailures(t *testing.T) {
	link := &fakeBrokerLink{healthy: true}

	var mu sync.Mutex
	dials := 0
	m := newTestManager(func(url string, l *slog.Logger) (failurePublisher, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials < 3 {
			return nil, errors.New("connection refused")
		}
		return link, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	require.Eventually(t, m.IsHealthy, time.Second, time.Millisecond)
	require.NoError(t, m.PublishFailure(context.Background(), DeliveryFailure{TableName: "products"}))
	assert.Equal(t, 1, link.published())

	cancel()
	<-done
	assert.True(t, link.isClosed())
}

func TestManagerRedialsAfterHealthDrop(t *testing.T) {
	first := &fakeBrokerLink{healthy: true}
	second := &fakeBrokerLink{healthy: true}

	var mu sync.Mutex
	dials := 0
	m := newTestManager(func(url string, l *slog.Logger) (failurePublisher, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	require.Eventually(t, m.IsHealthy, time.Second, time.Millisecond)

	// One broker blip must not disable failure events for good: the dead
	// link is replaced and publishing resumes on the new one.
	first.setHealthy(false)
	require.Eventually(t, func() bool {
		return m.IsHealthy() && first.isClosed()
	}, time.Second, time.Millisecond)

	require.NoError(t, m.PublishFailure(context.Background(), DeliveryFailure{TableName: "orders"}))
	assert.Equal(t, 0, first.published())
	assert.Equal(t, 1, second.published())

	cancel()
	<-done
}
