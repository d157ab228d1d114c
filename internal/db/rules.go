package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/msouza-dev/flowsync/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRuleNotFound is returned when a rule id does not exist in storage.
var ErrRuleNotFound = errors.New("sync rule not found")

const ruleColumns = `
	id, table_name, COALESCE(title, ''), enabled, status,
	sync_on_insert, sync_on_update, sync_on_delete,
	COALESCE(workflow_id_generic, ''), COALESCE(workflow_id_insert, ''),
	COALESCE(workflow_id_update, ''), COALESCE(workflow_id_delete, ''),
	COALESCE(selected_fields, '{}'), COALESCE(endpoint, ''), COALESCE(credential, ''),
	total_attempts, total_success, total_failed,
	insert_count, update_count, delete_count,
	run_count, manual_count, auto_count,
	last_sync_time, last_manual_sync_time, last_auto_sync_time,
	COALESCE(last_error, ''), created_at, updated_at`

// RuleStore persists sync rules and their counters. Counter updates are
// additive increments only, so concurrent runs can never lose counts.
type RuleStore struct {
	pool *pgxpool.Pool
}

func NewRuleStore(pool *pgxpool.Pool) *RuleStore {
	return &RuleStore{pool: pool}
}

func (s *RuleStore) Insert(ctx context.Context, rule *models.SyncRule) error {
	query := `
		INSERT INTO sync_rules (
			id, table_name, title, enabled, status,
			sync_on_insert, sync_on_update, sync_on_delete,
			workflow_id_generic, workflow_id_insert, workflow_id_update, workflow_id_delete,
			selected_fields, endpoint, credential
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := s.pool.Exec(ctx, query,
		rule.ID, rule.TableName, rule.Title, rule.Enabled, string(rule.Status),
		rule.SyncOnInsert, rule.SyncOnUpdate, rule.SyncOnDelete,
		rule.WorkflowIDGeneric, rule.WorkflowIDInsert, rule.WorkflowIDUpdate, rule.WorkflowIDDelete,
		rule.SelectedFields, rule.Endpoint, rule.Credential,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync rule: %w", err)
	}
	return nil
}

func (s *RuleStore) List(ctx context.Context) ([]models.SyncRule, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+ruleColumns+` FROM sync_rules ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync rules: %w", err)
	}
	defer rows.Close()

	var rules []models.SyncRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *RuleStore) Get(ctx context.Context, id string) (*models.SyncRule, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM sync_rules WHERE id = $1`, id)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return &rule, nil
}

// Update applies a partial patch; nil fields stay untouched. The same patch
// is applied to the registry mirror, keeping the two representations aligned.
func (s *RuleStore) Update(ctx context.Context, id string, patch *models.SyncRulePatch) error {
	var sets []string
	var args []any

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Enabled != nil {
		add("enabled", *patch.Enabled)
		if *patch.Enabled {
			add("status", string(models.RuleActive))
		} else {
			add("status", string(models.RuleDisabled))
		}
	}
	if patch.SyncOnInsert != nil {
		add("sync_on_insert", *patch.SyncOnInsert)
	}
	if patch.SyncOnUpdate != nil {
		add("sync_on_update", *patch.SyncOnUpdate)
	}
	if patch.SyncOnDelete != nil {
		add("sync_on_delete", *patch.SyncOnDelete)
	}
	if patch.WorkflowIDGeneric != nil {
		add("workflow_id_generic", *patch.WorkflowIDGeneric)
	}
	if patch.WorkflowIDInsert != nil {
		add("workflow_id_insert", *patch.WorkflowIDInsert)
	}
	if patch.WorkflowIDUpdate != nil {
		add("workflow_id_update", *patch.WorkflowIDUpdate)
	}
	if patch.WorkflowIDDelete != nil {
		add("workflow_id_delete", *patch.WorkflowIDDelete)
	}
	if patch.SelectedFields != nil {
		add("selected_fields", *patch.SelectedFields)
	}
	if patch.Endpoint != nil {
		add("endpoint", *patch.Endpoint)
	}
	if patch.Credential != nil {
		add("credential", *patch.Credential)
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf(
		"UPDATE sync_rules SET %s, updated_at = CURRENT_TIMESTAMP WHERE id = $%d",
		strings.Join(sets, ", "), len(args),
	)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update sync rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (s *RuleStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sync_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sync rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// ApplyRunStats folds one run's outcome into the rule counters. Everything
// is an increment; last_error is only overwritten when the run produced one.
func (s *RuleStore) ApplyRunStats(ctx context.Context, id string, stats models.RunStats) error {
	manual := stats.Origin == models.OriginManual
	query := `
		UPDATE sync_rules SET
			total_attempts = total_attempts + $2,
			total_success  = total_success + $3,
			total_failed   = total_failed + $4,
			insert_count   = insert_count + $5,
			update_count   = update_count + $6,
			delete_count   = delete_count + $7,
			run_count      = run_count + 1,
			manual_count   = manual_count + CASE WHEN $8 THEN 1 ELSE 0 END,
			auto_count     = auto_count + CASE WHEN $8 THEN 0 ELSE 1 END,
			last_sync_time = CURRENT_TIMESTAMP,
			last_manual_sync_time = CASE WHEN $8 THEN CURRENT_TIMESTAMP ELSE last_manual_sync_time END,
			last_auto_sync_time   = CASE WHEN $8 THEN last_auto_sync_time ELSE CURRENT_TIMESTAMP END,
			last_error     = CASE WHEN $9 <> '' THEN $9 ELSE last_error END,
			updated_at     = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err := s.pool.Exec(ctx, query, id,
		stats.Attempted, stats.Succeeded, stats.Failed,
		stats.Inserts, stats.Updates, stats.Deletes,
		manual, stats.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to apply run stats: %w", err)
	}
	return nil
}

// SetError marks a rule as broken by a configuration-class failure.
func (s *RuleStore) SetError(ctx context.Context, id string, msg string) error {
	query := `
		UPDATE sync_rules
		SET status = $2, last_error = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err := s.pool.Exec(ctx, query, id, string(models.RuleError), msg)
	return err
}

func scanRule(row pgx.Row) (models.SyncRule, error) {
	var r models.SyncRule
	var status string
	err := row.Scan(
		&r.ID, &r.TableName, &r.Title, &r.Enabled, &status,
		&r.SyncOnInsert, &r.SyncOnUpdate, &r.SyncOnDelete,
		&r.WorkflowIDGeneric, &r.WorkflowIDInsert, &r.WorkflowIDUpdate, &r.WorkflowIDDelete,
		&r.SelectedFields, &r.Endpoint, &r.Credential,
		&r.TotalAttempts, &r.TotalSuccess, &r.TotalFailed,
		&r.InsertCount, &r.UpdateCount, &r.DeleteCount,
		&r.RunCount, &r.ManualCount, &r.AutoCount,
		&r.LastSyncTime, &r.LastManualSyncTime, &r.LastAutoSyncTime,
		&r.LastError, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("sync rule scan error: %w", err)
	}
	r.Status = models.RuleStatus(status)
	return r, nil
}
