package models

import "time"

// TaskStatus is the lifecycle state of one dispatcher run.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskCancelled  TaskStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// SyncOrigin distinguishes operator-triggered runs from CDC-triggered ones.
type SyncOrigin string

const (
	OriginManual SyncOrigin = "manual"
	OriginAuto   SyncOrigin = "auto"
)

// UploadTask tracks one run of the upload engine. It lives only in process
// memory: a restart clears task state, persisted rule counters are the
// durable record.
type UploadTask struct {
	ID               string     `json:"id"`
	RuleID           string     `json:"rule_id"`
	TableName        string     `json:"table_name"`
	Origin           SyncOrigin `json:"origin"`
	Status           TaskStatus `json:"status"`
	TotalRecords     int        `json:"total_records"`
	ProcessedRecords int        `json:"processed_records"`
	FailedRecords    int        `json:"failed_records"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

// Progress returns completion as an integer percentage.
func (t *UploadTask) Progress() int {
	if t.TotalRecords == 0 {
		return 0
	}
	return t.ProcessedRecords * 100 / t.TotalRecords
}
