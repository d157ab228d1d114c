package models

import "time"

// RuleStatus reflects the operational health of a sync rule, independent of
// the operator-controlled Enabled flag.
type RuleStatus string

const (
	RuleActive   RuleStatus = "ACTIVE"
	RuleError    RuleStatus = "ERROR"
	RuleDisabled RuleStatus = "DISABLED"
)

// SyncRule is the per-table delivery configuration: which operation kinds to
// forward, which destination workflow to use per kind, which fields to
// project, and the accumulated delivery statistics.
//
// All total_* and per-operation counters are record-level; RunCount,
// ManualCount and AutoCount are run-level. Counters only ever increase.
type SyncRule struct {
	ID        string     `db:"id"`
	TableName string     `db:"table_name"`
	Title     string     `db:"title"`
	Enabled   bool       `db:"enabled"`
	Status    RuleStatus `db:"status"`

	SyncOnInsert bool `db:"sync_on_insert"`
	SyncOnUpdate bool `db:"sync_on_update"`
	SyncOnDelete bool `db:"sync_on_delete"`

	WorkflowIDGeneric string `db:"workflow_id_generic"`
	WorkflowIDInsert  string `db:"workflow_id_insert"`
	WorkflowIDUpdate  string `db:"workflow_id_update"`
	WorkflowIDDelete  string `db:"workflow_id_delete"`

	// SelectedFields restricts the projected payload; empty means all fields.
	SelectedFields []string `db:"selected_fields"`

	// Destination endpoint and bearer credential for the workflow platform.
	Endpoint   string `db:"endpoint"`
	Credential string `db:"credential"`

	TotalAttempts int64 `db:"total_attempts"`
	TotalSuccess  int64 `db:"total_success"`
	TotalFailed   int64 `db:"total_failed"`
	InsertCount   int64 `db:"insert_count"`
	UpdateCount   int64 `db:"update_count"`
	DeleteCount   int64 `db:"delete_count"`
	RunCount      int64 `db:"run_count"`
	ManualCount   int64 `db:"manual_count"`
	AutoCount     int64 `db:"auto_count"`

	LastSyncTime       *time.Time `db:"last_sync_time"`
	LastManualSyncTime *time.Time `db:"last_manual_sync_time"`
	LastAutoSyncTime   *time.Time `db:"last_auto_sync_time"`
	LastError          string     `db:"last_error"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// AllowsOperation reports whether the rule forwards the given mutation kind.
func (r *SyncRule) AllowsOperation(op OperationKind) bool {
	switch op {
	case OpInsert:
		return r.SyncOnInsert
	case OpUpdate:
		return r.SyncOnUpdate
	case OpDelete:
		return r.SyncOnDelete
	default:
		return false
	}
}

// ResolveWorkflow picks one destination workflow id for a batch containing
// the given operation kinds. Operation-specific ids win over the generic id;
// mixed batches resolve with precedence INSERT > UPDATE > DELETE > generic.
// Returns "" when no destination is configured for the batch.
func (r *SyncRule) ResolveWorkflow(kinds map[OperationKind]bool) string {
	if kinds[OpInsert] && r.WorkflowIDInsert != "" {
		return r.WorkflowIDInsert
	}
	if kinds[OpUpdate] && r.WorkflowIDUpdate != "" {
		return r.WorkflowIDUpdate
	}
	if kinds[OpDelete] && r.WorkflowIDDelete != "" {
		return r.WorkflowIDDelete
	}
	return r.WorkflowIDGeneric
}

// SyncRulePatch carries a partial update; nil fields are left untouched.
type SyncRulePatch struct {
	Title             *string   `json:"title"`
	Enabled           *bool     `json:"enabled"`
	SyncOnInsert      *bool     `json:"sync_on_insert"`
	SyncOnUpdate      *bool     `json:"sync_on_update"`
	SyncOnDelete      *bool     `json:"sync_on_delete"`
	WorkflowIDGeneric *string   `json:"workflow_id_generic"`
	WorkflowIDInsert  *string   `json:"workflow_id_insert"`
	WorkflowIDUpdate  *string   `json:"workflow_id_update"`
	WorkflowIDDelete  *string   `json:"workflow_id_delete"`
	SelectedFields    *[]string `json:"selected_fields"`
	Endpoint          *string   `json:"endpoint"`
	Credential        *string   `json:"credential"`
}

// Apply merges the patch into the rule in memory. Storage applies the same
// patch through its own partial UPDATE; the two are kept equivalent.
func (p *SyncRulePatch) Apply(r *SyncRule) {
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.Enabled != nil {
		r.Enabled = *p.Enabled
		if *p.Enabled {
			r.Status = RuleActive
		} else {
			r.Status = RuleDisabled
		}
	}
	if p.SyncOnInsert != nil {
		r.SyncOnInsert = *p.SyncOnInsert
	}
	if p.SyncOnUpdate != nil {
		r.SyncOnUpdate = *p.SyncOnUpdate
	}
	if p.SyncOnDelete != nil {
		r.SyncOnDelete = *p.SyncOnDelete
	}
	if p.WorkflowIDGeneric != nil {
		r.WorkflowIDGeneric = *p.WorkflowIDGeneric
	}
	if p.WorkflowIDInsert != nil {
		r.WorkflowIDInsert = *p.WorkflowIDInsert
	}
	if p.WorkflowIDUpdate != nil {
		r.WorkflowIDUpdate = *p.WorkflowIDUpdate
	}
	if p.WorkflowIDDelete != nil {
		r.WorkflowIDDelete = *p.WorkflowIDDelete
	}
	if p.SelectedFields != nil {
		r.SelectedFields = append([]string(nil), (*p.SelectedFields)...)
	}
	if p.Endpoint != nil {
		r.Endpoint = *p.Endpoint
	}
	if p.Credential != nil {
		r.Credential = *p.Credential
	}
}
