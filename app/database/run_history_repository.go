package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RunHistoryStore is the once-per-day ledger.
type RunHistoryStore struct {
	db *DB
}

func NewRunHistoryStore(db *DB) *RunHistoryStore {
	return &RunHistoryStore{db: db}
}

// GetTaskRun returns nil, nil for a job that never completed.
func (r *RunHistoryStore) GetTaskRun(ctx context.Context, jobID string) (*TaskRun, error) {
	var (
		run     TaskRun
		updated int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT job_id, last_run_date, updated_at
		FROM task_run_history
		WHERE job_id = ?
	`, jobID).Scan(&run.JobID, &run.LastRunDate, &updated)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task run: %w", err)
	}

	run.UpdatedAt = time.Unix(updated, 0)
	return &run, nil
}

func (r *RunHistoryStore) SetLastRunDate(ctx context.Context, jobID, date string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO task_run_history (job_id, last_run_date, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET
			last_run_date = excluded.last_run_date,
			updated_at = excluded.updated_at
	`, jobID, date, time.Now().Unix())

	if err != nil {
		return fmt.Errorf("failed to set last run date: %w", err)
	}
	return nil
}
