package models

import (
	"fmt"
	"strings"
	"time"
)

// OperationKind identifies the type of row-level mutation captured in the
// change log. New kinds must be added here and to every exhaustive switch
// that dispatches on it (counters, routing), so nothing is silently dropped.
type OperationKind string

const (
	OpInsert OperationKind = "INSERT"
	OpUpdate OperationKind = "UPDATE"
	OpDelete OperationKind = "DELETE"
)

// ParseOperationKind normalizes a raw operation string from the change log.
func ParseOperationKind(raw string) (OperationKind, error) {
	switch OperationKind(strings.ToUpper(strings.TrimSpace(raw))) {
	case OpInsert:
		return OpInsert, nil
	case OpUpdate:
		return OpUpdate, nil
	case OpDelete:
		return OpDelete, nil
	default:
		return "", fmt.Errorf("unknown operation kind: %q", raw)
	}
}

// ChangeEvent represents one row in the change log table: a single
// row-level mutation recorded by the application's write path, awaiting
// delivery to the external platform.
type ChangeEvent struct {
	ID          int64          `db:"id"`
	TableName   string         `db:"table_name"`
	Operation   OperationKind  `db:"operation_kind"`
	RecordID    string         `db:"record_id"`
	ChangeData  map[string]any `db:"change_data"`
	Processed   bool           `db:"processed"`
	ProcessedAt *time.Time     `db:"processed_at"`
	CreatedAt   time.Time      `db:"created_at"`
}
