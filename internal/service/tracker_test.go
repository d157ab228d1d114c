package service

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msouza-dev/flowsync/internal/models"
)

func newTestTracker() (*Tracker, *clock.Mock) {
	mock := clock.NewMock()
	return NewTracker(mock), mock
}

func TestTrackerLifecycle(t *testing.T) {
	tracker, _ := newTestTracker()

	task := tracker.Create("rule-1", "orders", models.OriginAuto)
	assert.Equal(t, models.TaskPending, task.Status)

	require.True(t, tracker.Begin(task.ID, 3))
	got, ok := tracker.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, models.TaskProcessing, got.Status)
	assert.Equal(t, 3, got.TotalRecords)

	tracker.Advance(task.ID, false)
	tracker.Advance(task.ID, true)
	tracker.Advance(task.ID, false)
	tracker.Complete(task.ID)

	got, ok = tracker.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, models.TaskCompleted, got.Status)
	assert.Equal(t, 3, got.ProcessedRecords)
	assert.Equal(t, 1, got.FailedRecords)
	assert.Equal(t, 100, got.Progress())
	require.NotNil(t, got.EndTime)
}

func TestTrackerPartialFailureIsCompleted(t *testing.T) {
	tracker, _ := newTestTracker()

	task := tracker.Create("rule-1", "orders", models.OriginAuto)
	tracker.Begin(task.ID, 5)
	for i := 0; i < 5; i++ {
		tracker.Advance(task.ID, i == 2)
	}
	tracker.Complete(task.ID)

	got, _ := tracker.Get(task.ID)
	assert.Equal(t, models.TaskCompleted, got.Status)
	assert.Equal(t, 5, got.ProcessedRecords)
	assert.Equal(t, 1, got.FailedRecords)
}

func TestTrackerCancel(t *testing.T) {
	tracker, _ := newTestTracker()

	task := tracker.Create("rule-1", "orders", models.OriginManual)
	tracker.Begin(task.ID, 10)

	require.NoError(t, tracker.Cancel(task.ID))
	assert.False(t, tracker.Running(task.ID))

	got, _ := tracker.Get(task.ID)
	assert.Equal(t, models.TaskCancelled, got.Status)

	// Terminal tasks reject further transitions.
	assert.ErrorIs(t, tracker.Cancel(task.ID), ErrTaskTerminal)

	tracker.Complete(task.ID)
	got, _ = tracker.Get(task.ID)
	assert.Equal(t, models.TaskCancelled, got.Status)
}

func TestTrackerCancelUnknownTask(t *testing.T) {
	tracker, _ := newTestTracker()
	assert.ErrorIs(t, tracker.Cancel("nope"), ErrTaskNotFound)
}

func TestTrackerBeginCancelledTask(t *testing.T) {
	tracker, _ := newTestTracker()

	task := tracker.Create("rule-1", "orders", models.OriginManual)
	require.NoError(t, tracker.Cancel(task.ID))

	assert.False(t, tracker.Begin(task.ID, 5))
}

func TestTrackerAwaitTerminalTask(t *testing.T) {
	tracker, _ := newTestTracker()

	task := tracker.Create("rule-1", "orders", models.OriginManual)
	tracker.Begin(task.ID, 1)
	tracker.Advance(task.ID, false)
	tracker.Complete(task.ID)

	got, err := tracker.Await(context.Background(), task.ID, 10*time.Millisecond, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, got.Status)
}

func TestTrackerAwaitTimeoutReturnsSnapshot(t *testing.T) {
	tracker, _ := newTestTracker()

	task := tracker.Create("rule-1", "orders", models.OriginManual)
	tracker.Begin(task.ID, 10)
	tracker.Advance(task.ID, false)

	// Zero timeout: the wait expires immediately and the caller gets the
	// in-progress snapshot, not an error.
	got, err := tracker.Await(context.Background(), task.ID, 10*time.Millisecond, 0)
	require.NoError(t, err)
	assert.Equal(t, models.TaskProcessing, got.Status)
	assert.Equal(t, 1, got.ProcessedRecords)
}

func TestTrackerAwaitUnknownTask(t *testing.T) {
	tracker, _ := newTestTracker()

	_, err := tracker.Await(context.Background(), "nope", time.Millisecond, time.Second)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTrackerSweep(t *testing.T) {
	tracker, mock := newTestTracker()

	old := tracker.Create("rule-1", "orders", models.OriginAuto)
	tracker.Begin(old.ID, 1)
	tracker.Complete(old.ID)

	mock.Add(2 * time.Hour)

	fresh := tracker.Create("rule-1", "orders", models.OriginAuto)
	tracker.Begin(fresh.ID, 1)
	running := tracker.Create("rule-2", "orders", models.OriginAuto)
	tracker.Begin(running.ID, 1)
	tracker.Complete(fresh.ID)

	removed := tracker.Sweep(time.Hour)
	assert.Equal(t, 1, removed)

	_, ok := tracker.Get(old.ID)
	assert.False(t, ok)
	_, ok = tracker.Get(fresh.ID)
	assert.True(t, ok)
	_, ok = tracker.Get(running.ID)
	assert.True(t, ok)
}
