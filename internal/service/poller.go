package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/msouza-dev/flowsync/internal/models"
	"github.com/msouza-dev/flowsync/pkg/infra"
	"github.com/msouza-dev/flowsync/pkg/metrics"
)

// ChangeSource reads unprocessed change events from the change log.
type ChangeSource interface {
	FetchUnprocessed(ctx context.Context, batchSize int) ([]models.ChangeEvent, error)
}

// RuleLookup answers routing questions from the in-memory registry mirror.
type RuleLookup interface {
	HasEnabled() bool
	EnabledForTable(table string) []models.SyncRule
}

// BatchRunner executes one delivery run; satisfied by *Dispatcher.
type BatchRunner interface {
	Run(ctx context.Context, taskID string, rule models.SyncRule, events []models.ChangeEvent, origin models.SyncOrigin) (models.RunStats, error)
}

// Poller drives forward progress of the pipeline. It never terminates on
// error: failures are logged and the loop backs off, for the lifetime of
// the process. A crash mid-batch leaves events unprocessed, which the next
// cycle redelivers (at-least-once).
type Poller struct {
	source     ChangeSource
	rules      RuleLookup
	dispatcher BatchRunner
	clock      clock.Clock
	logger     *slog.Logger

	batchSize    int
	noRuleIdle   time.Duration // wait when zero rules are enabled
	drainedIdle  time.Duration // wait when the change log is empty
	errorBackoff *infra.Backoff
}

func NewPoller(
	source ChangeSource,
	rules RuleLookup,
	dispatcher BatchRunner,
	c clock.Clock,
	batchSize int,
	noRuleIdle, drainedIdle, errorBackoff time.Duration,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		source:       source,
		rules:        rules,
		dispatcher:   dispatcher,
		clock:        c,
		logger:       logger,
		batchSize:    batchSize,
		noRuleIdle:   noRuleIdle,
		drainedIdle:  drainedIdle,
		errorBackoff: infra.NewBackoff(c, errorBackoff, 60*time.Second, 2.0),
	}
}

// Run blocks until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("🚀 CDC poller started", "batch_size", p.batchSize)

	for {
		if ctx.Err() != nil {
			p.logger.Info("CDC poller shutting down...")
			return
		}

		if !p.rules.HasEnabled() {
			if !p.wait(ctx, p.noRuleIdle) {
				return
			}
			continue
		}

		events, err := p.source.FetchUnprocessed(ctx, p.batchSize)
		if err != nil {
			p.logger.Error("Change log fetch failed, backing off", "attempt", p.errorBackoff.Attempts()+1, "error", err)
			if p.errorBackoff.Wait(ctx) != nil {
				return
			}
			continue
		}
		p.errorBackoff.Reset()

		if len(events) == 0 {
			if !p.wait(ctx, p.drainedIdle) {
				return
			}
			continue
		}

		metrics.BatchSize.Observe(float64(len(events)))
		p.routeBatch(ctx, events)
	}
}

// routeBatch groups one poll cycle's events by table, preserving created_at
// order inside each group, and hands every group to every enabled rule for
// its table. Rules for the same table run independently: each keeps its own
// task and counters.
func (p *Poller) routeBatch(ctx context.Context, events []models.ChangeEvent) {
	var tables []string
	groups := make(map[string][]models.ChangeEvent)
	for _, ev := range events {
		if _, seen := groups[ev.TableName]; !seen {
			tables = append(tables, ev.TableName)
		}
		groups[ev.TableName] = append(groups[ev.TableName], ev)
	}

	for _, table := range tables {
		rules := p.rules.EnabledForTable(table)
		if len(rules) == 0 {
			continue
		}

		for _, rule := range rules {
			if ctx.Err() != nil {
				return
			}
			if _, err := p.dispatcher.Run(ctx, "", rule, groups[table], models.OriginAuto); err != nil {
				// Configuration-class abort: scoped to this rule, the other
				// rules and tables in the cycle proceed.
				p.logger.Error("Run aborted", "rule_id", rule.ID, "table", table, "error", err)
			}
		}
	}
}

// wait sleeps on the injected clock; returns false when ctx ended first.
func (p *Poller) wait(ctx context.Context, d time.Duration) bool {
	t := p.clock.Timer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
