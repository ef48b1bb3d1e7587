package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seantiz/asyncinfer/internal/engine"
	"github.com/seantiz/asyncinfer/internal/model"

	_ "modernc.org/sqlite"
)

const createBatchesTable = `
CREATE TABLE IF NOT EXISTS batches (
    id          TEXT PRIMARY KEY,
    model_id    TEXT NOT NULL,
    model_name  TEXT NOT NULL,
    device      TEXT NOT NULL,
    status      TEXT NOT NULL,
    size        INTEGER NOT NULL,
    settled     INTEGER NOT NULL DEFAULT 0,
    timeout_ms  INTEGER NOT NULL,
    created_at  DATETIME NOT NULL,
    started_at  DATETIME,
    finished_at DATETIME
)`

const createTaskResultsTable = `
CREATE TABLE IF NOT EXISTS task_results (
    batch_id    TEXT NOT NULL REFERENCES batches(id),
    idx         INTEGER NOT NULL,
    status      TEXT NOT NULL,
    error       TEXT,
    output      TEXT,
    duration_ms INTEGER NOT NULL,
    settled_at  DATETIME NOT NULL,
    PRIMARY KEY (batch_id, idx)
)`

const batchColumns = `id, model_id, model_name, device, status, size, settled,
	timeout_ms, created_at, started_at, finished_at`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createBatchesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create batches table: %w", err)
	}

	if _, err := db.Exec(createTaskResultsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create task_results table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*model.Batch, error) {
	b := &model.Batch{}
	err := row.Scan(
		&b.ID, &b.ModelID, &b.ModelName, &b.Device, &b.Status, &b.Size, &b.Settled,
		&b.TimeoutMS, &b.CreatedAt, &b.StartedAt, &b.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// CreateBatch inserts a new batch record.
func (s *SQLiteStore) CreateBatch(ctx context.Context, b *model.Batch) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (`+batchColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ModelID, b.ModelName, b.Device, b.Status, b.Size, b.Settled,
		b.TimeoutMS, b.CreatedAt, b.StartedAt, b.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// GetBatch retrieves a batch by ID together with its recorded task results,
// ordered by task index.
func (s *SQLiteStore) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	b, err := scanBatch(s.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}

	results, err := s.GetTaskResults(ctx, id)
	if err != nil {
		return nil, err
	}
	b.Results = results
	return b, nil
}

// ListBatches returns a paginated list of batches ordered by created_at DESC,
// along with the total count of all batches. Task results are not loaded.
func (s *SQLiteStore) ListBatches(ctx context.Context, limit, offset int) ([]*model.Batch, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM batches").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count batches: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM batches ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*model.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate batches: %w", err)
	}

	return batches, total, nil
}

// UpdateBatchStatus moves a batch to status. Moving to running sets
// started_at; moving to completed sets finished_at. Transitions not allowed by
// model.ValidTransition return ErrInvalidTransition.
func (s *SQLiteStore) UpdateBatchStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM batches WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read batch status: %w", err)
	}

	if !model.ValidTransition(current, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	now := time.Now().UTC()
	switch status {
	case model.BatchStatusRunning:
		_, err = tx.ExecContext(ctx,
			"UPDATE batches SET status = ?, started_at = ? WHERE id = ?",
			status, now, id,
		)
	case model.BatchStatusCompleted:
		_, err = tx.ExecContext(ctx,
			"UPDATE batches SET status = ?, finished_at = ? WHERE id = ?",
			status, now, id,
		)
	default:
		_, err = tx.ExecContext(ctx,
			"UPDATE batches SET status = ? WHERE id = ?",
			status, id,
		)
	}
	if err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status update: %w", err)
	}
	return nil
}

// DeleteBatch removes a batch and any results recorded for it.
func (s *SQLiteStore) DeleteBatch(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM task_results WHERE batch_id = ?", id); err != nil {
		return fmt.Errorf("delete task results: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM batches WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// InsertTaskResult records one settled task and bumps the batch's settled
// count. Each task index may be recorded once.
func (s *SQLiteStore) InsertTaskResult(ctx context.Context, r *model.TaskResult) error {
	var output sql.NullString
	if r.Output != nil {
		data, err := json.Marshal(r.Output)
		if err != nil {
			return fmt.Errorf("encode task output: %w", err)
		}
		output = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE batches SET settled = settled + 1 WHERE id = ?", r.BatchID,
	)
	if err != nil {
		return fmt.Errorf("update settled count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO task_results (batch_id, idx, status, error, output, duration_ms, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.BatchID, r.Index, r.Status, r.Error, output, r.DurationMS, r.SettledAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: batch %s index %d", ErrDuplicateResult, r.BatchID, r.Index)
		}
		return fmt.Errorf("insert task result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit task result: %w", err)
	}
	return nil
}

// GetTaskResults returns all recorded results for a batch ordered by index.
func (s *SQLiteStore) GetTaskResults(ctx context.Context, batchID string) ([]model.TaskResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT batch_id, idx, status, error, output, duration_ms, settled_at
		FROM task_results WHERE batch_id = ? ORDER BY idx ASC`, batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query task results: %w", err)
	}
	defer rows.Close()

	var results []model.TaskResult
	for rows.Next() {
		var (
			r      model.TaskResult
			errMsg sql.NullString
			output sql.NullString
		)
		if err := rows.Scan(&r.BatchID, &r.Index, &r.Status, &errMsg, &output, &r.DurationMS, &r.SettledAt); err != nil {
			return nil, fmt.Errorf("scan task result: %w", err)
		}
		r.Error = errMsg.String
		if output.Valid {
			var ts engine.TensorSet
			if err := json.Unmarshal([]byte(output.String), &ts); err != nil {
				return nil, fmt.Errorf("decode output of task %d: %w", r.Index, err)
			}
			r.Output = ts
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task results: %w", err)
	}

	return results, nil
}

// GetBatchStats returns batch counts by status, task counts by status, and the
// average task duration.
func (s *SQLiteStore) GetBatchStats(ctx context.Context) (*BatchStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &BatchStats{
		BatchesByStatus: make(map[string]int),
		TasksByStatus:   make(map[string]int),
	}

	stats.TotalBatches, err = countByStatus(ctx, tx, "batches", stats.BatchesByStatus)
	if err != nil {
		return nil, err
	}
	stats.TotalTasks, err = countByStatus(ctx, tx, "task_results", stats.TasksByStatus)
	if err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	if err := tx.QueryRowContext(ctx, "SELECT AVG(duration_ms) FROM task_results").Scan(&avg); err != nil {
		return nil, fmt.Errorf("average task duration: %w", err)
	}
	stats.AvgTaskDurationMS = avg.Float64

	return stats, nil
}

// countByStatus fills counts from a GROUP BY over table's status column and
// returns the total.
func countByStatus(ctx context.Context, tx *sql.Tx, table string, counts map[string]int) (int, error) {
	rows, err := tx.QueryContext(ctx, "SELECT status, COUNT(*) FROM "+table+" GROUP BY status")
	if err != nil {
		return 0, fmt.Errorf("count %s by status: %w", table, err)
	}
	defer rows.Close()

	total := 0
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return 0, fmt.Errorf("scan %s count: %w", table, err)
		}
		counts[status] = n
		total += n
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate %s counts: %w", table, err)
	}
	return total, nil
}
