package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/msouza-dev/flowsync/internal/broker"
	"github.com/msouza-dev/flowsync/internal/models"
	"github.com/msouza-dev/flowsync/pkg/infra"
	"github.com/msouza-dev/flowsync/pkg/metrics"
)

// RecordRefKey is the neutral parameter name the source record identifier
// is renamed to, so it cannot collide with the destination platform's own
// primary key semantics.
const RecordRefKey = "record_ref"

// EventSink marks change events as consumed after a delivery pass.
type EventSink interface {
	MarkProcessed(ctx context.Context, ids []int64) error
}

// PlatformClient delivers one record per call to the workflow platform.
type PlatformClient interface {
	SendRecord(ctx context.Context, endpoint, credential, workflowID string, params map[string]any) error
}

// RuleErrorMarker flags a rule broken by a configuration failure.
type RuleErrorMarker interface {
	MarkError(ctx context.Context, id string, msg string) error
}

// FailurePublisher emits delivery-failure events for downstream tooling.
// Publishing is best effort; errors are logged and swallowed.
type FailurePublisher interface {
	PublishFailure(ctx context.Context, failure broker.DeliveryFailure) error
	IsHealthy() bool
}

// Dispatcher is the upload engine: it turns a (rule, change-event batch)
// pair into delivered records and accounted outcomes.
type Dispatcher struct {
	events   EventSink
	platform PlatformClient
	rules    RuleErrorMarker
	tracker  *Tracker
	stats    *Stats
	failures FailurePublisher // nil when no broker is configured
	pacer    *infra.Pacer
	logger   *slog.Logger
}

func NewDispatcher(
	events EventSink,
	platform PlatformClient,
	rules RuleErrorMarker,
	tracker *Tracker,
	stats *Stats,
	failures FailurePublisher,
	pacer *infra.Pacer,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		events:   events,
		platform: platform,
		rules:    rules,
		tracker:  tracker,
		stats:    stats,
		failures: failures,
		pacer:    pacer,
		logger:   logger,
	}
}

// Run executes one delivery run of the given batch against one rule.
//
// taskID may be empty (the CDC path), in which case a task is created here;
// the manual path pre-creates one so the caller can poll it immediately.
//
// Semantics, in order: events whose operation kind the rule has disabled
// are dropped and left unprocessed, so a later rule change can still pick
// them up. One destination workflow is resolved for the whole batch; if
// none resolves, the run aborts with the rule marked ERROR and no event
// consumed. Surviving records are projected and delivered serially with a
// pacing wait between sends; individual failures never abort the batch.
// Every attempted event is then marked processed regardless of outcome, and
// the rule counters absorb the run in a single update.
func (d *Dispatcher) Run(ctx context.Context, taskID string, rule models.SyncRule, events []models.ChangeEvent, origin models.SyncOrigin) (models.RunStats, error) {
	stats := models.RunStats{Origin: origin}

	var filtered []models.ChangeEvent
	kinds := make(map[models.OperationKind]bool)
	for _, ev := range events {
		if rule.AllowsOperation(ev.Operation) {
			filtered = append(filtered, ev)
			kinds[ev.Operation] = true
		}
	}

	l := d.logger.With("rule_id", rule.ID, "table", rule.TableName, "origin", string(origin))

	if len(filtered) == 0 {
		// No-op run: no task for the CDC path, an immediate COMPLETED for a
		// pre-created manual task. Counters stay untouched.
		if taskID != "" {
			d.tracker.Begin(taskID, 0)
			d.tracker.Complete(taskID)
		}
		return stats, nil
	}

	workflowID := rule.ResolveWorkflow(kinds)
	if workflowID == "" {
		msg := fmt.Sprintf("no workflow id configured for table %s", rule.TableName)
		l.Error("Configuration error: aborting batch", "reason", msg)
		metrics.RuleErrors.WithLabelValues(rule.TableName).Inc()

		if err := d.rules.MarkError(ctx, rule.ID, msg); err != nil {
			l.Error("Failed to mark rule as broken", "error", err)
		}
		if taskID != "" {
			d.tracker.Begin(taskID, len(filtered))
			d.tracker.Fail(taskID, msg)
		}
		return stats, fmt.Errorf("rule %s: %s", rule.ID, msg)
	}

	if taskID == "" {
		task := d.tracker.Create(rule.ID, rule.TableName, origin)
		taskID = task.ID
	}
	if !d.tracker.Begin(taskID, len(filtered)) {
		// Cancelled before the run claimed it; nothing was attempted.
		l.Warn("Run cancelled before start", "task_id", taskID)
		return stats, nil
	}

	start := time.Now()
	defer func() {
		metrics.RunDuration.Observe(time.Since(start).Seconds())
		l.Info("Run finished",
			"task_id", taskID,
			"workflow_id", workflowID,
			"attempted", stats.Attempted,
			"failed", stats.Failed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	attemptedIDs := make([]int64, 0, len(filtered))

	for i, ev := range filtered {
		// Cooperative cancellation: checked between records only, an
		// in-flight delivery call is never interrupted.
		if !d.tracker.Running(taskID) {
			l.Warn("Run cancelled, stopping before next record", "task_id", taskID, "attempted", stats.Attempted)
			break
		}

		params := projectEvent(ev, rule.SelectedFields)
		err := d.platform.SendRecord(ctx, rule.Endpoint, rule.Credential, workflowID, params)

		stats.Observe(ev.Operation, err == nil)
		attemptedIDs = append(attemptedIDs, ev.ID)
		d.tracker.Advance(taskID, err != nil)

		if err != nil {
			stats.LastError = err.Error()
			l.Warn("Record delivery failed",
				"record_id", ev.RecordID,
				"operation", string(ev.Operation),
				"error", err,
			)
			d.publishFailure(ctx, rule, ev, workflowID, err)
		}

		if i < len(filtered)-1 {
			if err := d.pacer.Wait(ctx); err != nil {
				l.Warn("Context cancelled during pacing wait", "task_id", taskID)
				break
			}
		}
	}

	// Consume attempted events even when the parent context is gone: an
	// attempted delivery must not be replayed next cycle.
	finishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.events.MarkProcessed(finishCtx, attemptedIDs); err != nil {
		l.Error("Failed to mark change events processed; they will be redelivered", "count", len(attemptedIDs), "error", err)
	}

	if d.tracker.Running(taskID) {
		if ctx.Err() != nil {
			// Shutdown interrupted the run before all records were attempted.
			_ = d.tracker.Cancel(taskID)
		} else {
			d.tracker.Complete(taskID)
		}
	}

	d.stats.RecordRun(finishCtx, rule, stats)

	return stats, nil
}

func (d *Dispatcher) publishFailure(ctx context.Context, rule models.SyncRule, ev models.ChangeEvent, workflowID string, cause error) {
	if d.failures == nil || !d.failures.IsHealthy() {
		return
	}

	failure := broker.DeliveryFailure{
		RuleID:     rule.ID,
		TableName:  rule.TableName,
		RecordID:   ev.RecordID,
		WorkflowID: workflowID,
		Error:      cause.Error(),
		OccurredAt: time.Now().UTC(),
	}
	if err := d.failures.PublishFailure(ctx, failure); err != nil {
		d.logger.Debug("Failure event publish skipped", "record_id", ev.RecordID, "error", err)
	}
}

// projectEvent reduces the change payload to the rule's selected fields
// (empty selection keeps everything) and renames the record identifier to
// the neutral record_ref key.
func projectEvent(ev models.ChangeEvent, selectedFields []string) map[string]any {
	params := make(map[string]any, len(ev.ChangeData)+1)

	if len(selectedFields) == 0 {
		for k, v := range ev.ChangeData {
			if k == "id" {
				continue
			}
			params[k] = v
		}
	} else {
		for _, field := range selectedFields {
			if field == "id" {
				continue
			}
			if v, ok := ev.ChangeData[field]; ok {
				params[field] = v
			}
		}
	}

	params[RecordRefKey] = ev.RecordID
	return params
}
