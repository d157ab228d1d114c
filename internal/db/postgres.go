package db

import (
	"context"
	"fmt"
	"time"

	"github.com/msouza-dev/flowsync/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository gives the pipeline access to the change log table.
// Events are written by the application's CRUD layer via triggers; this
// side only reads, marks processed, and purges.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		return nil, fmt.Errorf("no response from postgres: %w", err)
	}

	return &PostgresRepository{pool: p}, nil
}

// Pool exposes the underlying connection pool so the rule store can share it.
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

// FetchUnprocessed returns up to batchSize unprocessed change events in
// created_at ascending order. Ordering within a poll cycle is the only
// ordering guarantee the pipeline makes.
func (r *PostgresRepository) FetchUnprocessed(ctx context.Context, batchSize int) ([]models.ChangeEvent, error) {
	query := `
        SELECT id, table_name, operation_kind, record_id, change_data, processed, processed_at, created_at
        FROM change_events
        WHERE processed = FALSE
        ORDER BY created_at ASC
        LIMIT $1
    `

	rows, err := r.pool.Query(ctx, query, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch change events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]models.ChangeEvent, error) {
	var events []models.ChangeEvent
	for rows.Next() {
		var ev models.ChangeEvent
		var rawOp string
		err := rows.Scan(
			&ev.ID,
			&ev.TableName,
			&rawOp,
			&ev.RecordID,
			&ev.ChangeData,
			&ev.Processed,
			&ev.ProcessedAt,
			&ev.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("change event scan error: %w", err)
		}
		op, err := models.ParseOperationKind(rawOp)
		if err != nil {
			return nil, fmt.Errorf("change event %d: %w", ev.ID, err)
		}
		ev.Operation = op
		events = append(events, ev)
	}

	return events, rows.Err()
}

// FetchUnprocessedForTable narrows the fetch to one table, in created_at
// ascending order. Manual runs use this to pick up the target table's
// backlog, including events a previously disabled toggle skipped.
func (r *PostgresRepository) FetchUnprocessedForTable(ctx context.Context, table string, batchSize int) ([]models.ChangeEvent, error) {
	query := `
        SELECT id, table_name, operation_kind, record_id, change_data, processed, processed_at, created_at
        FROM change_events
        WHERE processed = FALSE AND table_name = $1
        ORDER BY created_at ASC
        LIMIT $2
    `

	rows, err := r.pool.Query(ctx, query, table, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch change events for table %s: %w", table, err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// MarkProcessed flags the given events as consumed. Once set, an event is
// never re-read by the poller.
func (r *PostgresRepository) MarkProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE change_events
		SET processed = TRUE, processed_at = CURRENT_TIMESTAMP
		WHERE id = ANY($1)
	`
	_, err := r.pool.Exec(ctx, query, ids)
	return err
}

// CountUnprocessed reports the current backlog for the lag gauge.
func (r *PostgresRepository) CountUnprocessed(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM change_events WHERE processed = FALSE`).Scan(&count)
	return count, err
}

// PurgeProcessed deletes processed events older than the retention window.
func (r *PostgresRepository) PurgeProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM change_events
		WHERE processed = TRUE AND processed_at < CURRENT_TIMESTAMP - make_interval(secs => $1)
	`
	tag, err := r.pool.Exec(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("retention purge failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}
