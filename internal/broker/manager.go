package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/msouza-dev/flowsync/pkg/infra"
	"github.com/msouza-dev/flowsync/pkg/metrics"
)

// failurePublisher is one live broker link as the manager sees it.
type failurePublisher interface {
	PublishFailure(ctx context.Context, failure DeliveryFailure) error
	IsHealthy() bool
	Close() error
}

// Manager keeps the failure-event broker link alive for the lifetime of the
// process: it dials on start, watches link health, and redials with jittered
// backoff after a drop. The pipeline publishes through the manager rather
// than a raw client, so a RabbitMQ outage costs only the events raised while
// the link is down, not the rest of the run.
type Manager struct {
	url     string
	logger  *slog.Logger
	clock   clock.Clock
	backoff *infra.Backoff

	// dial is swappable so the redial loop is testable without a broker.
	dial func(url string, l *slog.Logger) (failurePublisher, error)

	// checkInterval is how often a healthy link is re-examined.
	checkInterval time.Duration

	mu     sync.RWMutex
	client failurePublisher
}

func NewManager(url string, c clock.Clock, logger *slog.Logger) *Manager {
	return &Manager{
		url:     url,
		logger:  logger,
		clock:   c,
		backoff: infra.NewBackoff(c, 1*time.Second, 60*time.Second, 2.0),
		dial: func(url string, l *slog.Logger) (failurePublisher, error) {
			return NewRabbitMQClient(url, l)
		},
		checkInterval: 5 * time.Second,
	}
}

// Run blocks until ctx ends, dialing whenever the current link is missing or
// unhealthy and idling while it is fine.
func (m *Manager) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			m.Close()
			return
		}

		if cur := m.current(); cur != nil && cur.IsHealthy() {
			if !m.idle(ctx) {
				m.Close()
				return
			}
			continue
		}

		// Drop the dead link before redialing.
		if cur := m.current(); cur != nil {
			cur.Close()
			m.set(nil)
		}

		client, err := m.dial(m.url, m.logger)
		if err != nil {
			metrics.BrokerHealth.Set(0)
			m.logger.Error("RabbitMQ dial failed, retrying with backoff",
				"attempt", m.backoff.Attempts()+1, "error", err)
			if m.backoff.Wait(ctx) != nil {
				return
			}
			continue
		}

		m.set(client)
		m.logger.Info("🔧 RabbitMQ link established", "attempts", m.backoff.Attempts())
		m.backoff.Reset()
	}
}

// PublishFailure forwards to the current link; it fails fast while the link
// is down so delivery runs never block on the event bus.
func (m *Manager) PublishFailure(ctx context.Context, failure DeliveryFailure) error {
	cur := m.current()
	if cur == nil || !cur.IsHealthy() {
		return fmt.Errorf("broker link is down")
	}
	return cur.PublishFailure(ctx, failure)
}

func (m *Manager) IsHealthy() bool {
	cur := m.current()
	return cur != nil && cur.IsHealthy()
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	return nil
}

func (m *Manager) current() failurePublisher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

func (m *Manager) set(c failurePublisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.client = c
}

func (m *Manager) idle(ctx context.Context) bool {
	t := m.clock.Timer(m.checkInterval)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
