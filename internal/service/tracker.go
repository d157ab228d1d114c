package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/msouza-dev/flowsync/internal/models"
	"github.com/msouza-dev/flowsync/pkg/metrics"
)

var (
	// ErrTaskNotFound is returned when a task id is unknown or already swept.
	ErrTaskNotFound = errors.New("upload task not found")
	// ErrTaskTerminal is returned when a transition is requested on a
	// completed, failed or cancelled task.
	ErrTaskTerminal = errors.New("upload task already terminal")
)

// Tracker owns the in-memory upload task table. Tasks are created per run,
// mutated only by the run that owns them, read by any status poller, and
// swept some time after reaching a terminal state. Nothing here survives a
// restart; durable accounting lives in the rule counters.
type Tracker struct {
	clock clock.Clock

	mu    sync.Mutex
	tasks map[string]*models.UploadTask
}

func NewTracker(c clock.Clock) *Tracker {
	return &Tracker{
		clock: c,
		tasks: make(map[string]*models.UploadTask),
	}
}

// Create registers a new pending task for a run.
func (t *Tracker) Create(ruleID, table string, origin models.SyncOrigin) models.UploadTask {
	task := &models.UploadTask{
		ID:        uuid.NewString(),
		RuleID:    ruleID,
		TableName: table,
		Origin:    origin,
		Status:    models.TaskPending,
		StartTime: t.clock.Now(),
	}

	t.mu.Lock()
	t.tasks[task.ID] = task
	t.mu.Unlock()

	metrics.ActiveTasks.Inc()
	return *task
}

// Begin moves a pending task to PROCESSING and fixes its record total.
// Returns false when the task was cancelled before the run claimed it.
func (t *Tracker) Begin(id string, total int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[id]
	if !ok || task.Status != models.TaskPending {
		return false
	}
	task.Status = models.TaskProcessing
	task.TotalRecords = total
	return true
}

// Running reports whether the run should keep going. The dispatcher checks
// this between records; a cancelled or removed task stops the run early.
func (t *Tracker) Running(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[id]
	return ok && task.Status == models.TaskProcessing
}

// Advance records one attempted record.
func (t *Tracker) Advance(id string, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[id]
	if !ok || task.Status != models.TaskProcessing {
		return
	}
	task.ProcessedRecords++
	if failed {
		task.FailedRecords++
	}
}

// Complete finishes a run. Partial failure is still COMPLETED; it shows up
// as failed_records > 0, never as FAILED.
func (t *Tracker) Complete(id string) {
	t.finish(id, models.TaskCompleted, "")
}

// Fail marks a run broken by an error outside the per-record loop, such as
// not being able to read source data at all.
func (t *Tracker) Fail(id string, msg string) {
	t.finish(id, models.TaskFailed, msg)
}

// Cancel requests cooperative cancellation. Only non-terminal tasks can be
// cancelled; an in-flight single delivery call is never interrupted.
func (t *Tracker) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if task.Status.Terminal() {
		return ErrTaskTerminal
	}
	now := t.clock.Now()
	task.Status = models.TaskCancelled
	task.EndTime = &now
	metrics.ActiveTasks.Dec()
	return nil
}

// Get returns a snapshot of one task.
func (t *Tracker) Get(id string) (models.UploadTask, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[id]
	if !ok {
		return models.UploadTask{}, false
	}
	return *task, true
}

// Await polls a task until it reaches a terminal state or the timeout
// elapses. On timeout the last snapshot is returned as-is: a long run is
// still in progress, not failed.
func (t *Tracker) Await(ctx context.Context, id string, pollInterval, timeout time.Duration) (models.UploadTask, error) {
	deadline := t.clock.Now().Add(timeout)

	for {
		task, ok := t.Get(id)
		if !ok {
			return models.UploadTask{}, ErrTaskNotFound
		}
		if task.Status.Terminal() || !t.clock.Now().Before(deadline) {
			return task, nil
		}

		timer := t.clock.Timer(pollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			task, _ := t.Get(id)
			return task, ctx.Err()
		}
	}
}

// Sweep drops terminal tasks that ended before the retention cutoff and
// returns how many were removed.
func (t *Tracker) Sweep(retention time.Duration) int {
	cutoff := t.clock.Now().Add(-retention)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, task := range t.tasks {
		if task.Status.Terminal() && task.EndTime != nil && task.EndTime.Before(cutoff) {
			delete(t.tasks, id)
			removed++
		}
	}
	return removed
}

func (t *Tracker) finish(id string, status models.TaskStatus, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[id]
	if !ok || task.Status.Terminal() {
		return
	}
	now := t.clock.Now()
	task.Status = status
	task.EndTime = &now
	task.ErrorMessage = msg
	metrics.ActiveTasks.Dec()
}
