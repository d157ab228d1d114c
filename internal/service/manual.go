package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/msouza-dev/flowsync/internal/models"
)

var (
	// ErrRuleNotFound is returned when a manual run targets an unknown rule.
	ErrRuleNotFound = errors.New("sync rule not found")
	// ErrRuleDisabled rejects manual runs on disabled rules up front; no
	// partial state is created.
	ErrRuleDisabled = errors.New("sync rule is disabled")
)

// TableSource reads unprocessed change events for a single table.
type TableSource interface {
	FetchUnprocessedForTable(ctx context.Context, table string, batchSize int) ([]models.ChangeEvent, error)
}

// RuleGetter resolves a rule snapshot from the registry mirror.
type RuleGetter interface {
	Get(id string) (models.SyncRule, bool)
}

// ManualRunner executes operator-triggered runs. Trigger returns a task id
// immediately and the run proceeds on its own goroutine, detached from the
// caller's request context; progress is observed through the tracker.
type ManualRunner struct {
	source     TableSource
	rules      RuleGetter
	dispatcher BatchRunner
	tracker    *Tracker
	logger     *slog.Logger

	batchSize    int
	pollInterval time.Duration
	waitTimeout  time.Duration
}

func NewManualRunner(
	source TableSource,
	rules RuleGetter,
	dispatcher BatchRunner,
	tracker *Tracker,
	batchSize int,
	pollInterval, waitTimeout time.Duration,
	logger *slog.Logger,
) *ManualRunner {
	return &ManualRunner{
		source:       source,
		rules:        rules,
		dispatcher:   dispatcher,
		tracker:      tracker,
		logger:       logger,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		waitTimeout:  waitTimeout,
	}
}

// Trigger starts a manual run for one rule and returns the task id.
func (m *ManualRunner) Trigger(ctx context.Context, ruleID string) (string, error) {
	rule, ok := m.rules.Get(ruleID)
	if !ok {
		return "", ErrRuleNotFound
	}
	if !rule.Enabled {
		return "", ErrRuleDisabled
	}

	task := m.tracker.Create(rule.ID, rule.TableName, models.OriginManual)

	go m.execute(task.ID, rule)

	m.logger.Info("Manual run triggered", "rule_id", rule.ID, "table", rule.TableName, "task_id", task.ID)
	return task.ID, nil
}

// Await blocks until the task is terminal or the bounded wait elapses; on
// timeout it reports the run as still in progress rather than failed.
func (m *ManualRunner) Await(ctx context.Context, taskID string) (models.UploadTask, error) {
	return m.tracker.Await(ctx, taskID, m.pollInterval, m.waitTimeout)
}

func (m *ManualRunner) execute(taskID string, rule models.SyncRule) {
	ctx := context.Background()

	events, err := m.source.FetchUnprocessedForTable(ctx, rule.TableName, m.batchSize)
	if err != nil {
		m.logger.Error("Manual run failed to read source data", "task_id", taskID, "error", err)
		m.tracker.Fail(taskID, "failed to read source data: "+err.Error())
		return
	}

	if _, err := m.dispatcher.Run(ctx, taskID, rule, events, models.OriginManual); err != nil {
		m.logger.Error("Manual run aborted", "task_id", taskID, "rule_id", rule.ID, "error", err)
	}
}
