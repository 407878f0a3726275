package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Fazmin/syncengine/internal/models"
)

func (r *SQLiteRepository) CreateJob(ctx context.Context, job *models.ExtractionJob) error {
	if job.ID == "" {
		job.ID = newID()
	}
	now := time.Now()
	job.CreatedAt, job.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO extraction_jobs (id, assignment_id, status, sync_mode, triggered_by, pages_total,
			pages_processed, current_url, rows_extracted, rows_inserted, rows_failed, staged_row_count,
			staged_data_inline, staged_data_path, started_at, completed_at, error_message, error_details,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.AssignmentID, job.Status, job.SyncMode, job.TriggeredBy, job.PagesTotal,
		job.PagesProcessed, job.CurrentURL, job.RowsExtracted, job.RowsInserted, job.RowsFailed, job.StagedRowCount,
		nullableRaw(job.StagedDataInline), job.StagedDataPath, nullTime(job.StartedAt), nullTime(job.CompletedAt),
		job.ErrorMessage, job.ErrorDetails, formatTime(job.CreatedAt), formatTime(job.UpdatedAt))
	if err != nil {
		return fmt.Errorf("repository: create job: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*models.ExtractionJob, error) {
	row := r.db.QueryRowContext(ctx, jobSelectColumns+" FROM extraction_jobs WHERE id = ?", id)
	return scanJob(row)
}

func (r *SQLiteRepository) ListJobsByAssignment(ctx context.Context, assignmentID string, limit int) ([]models.ExtractionJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		jobSelectColumns+" FROM extraction_jobs WHERE assignment_id = ? ORDER BY created_at DESC LIMIT ?",
		assignmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: list jobs: %w", err)
	}
	defer rows.Close()

	var out []models.ExtractionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpdateJob(ctx context.Context, job *models.ExtractionJob) error {
	job.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE extraction_jobs SET status = ?, sync_mode = ?, triggered_by = ?, pages_total = ?,
			pages_processed = ?, current_url = ?, rows_extracted = ?, rows_inserted = ?, rows_failed = ?,
			staged_row_count = ?, staged_data_inline = ?, staged_data_path = ?, started_at = ?,
			completed_at = ?, error_message = ?, error_details = ?, updated_at = ?
		WHERE id = ?`,
		job.Status, job.SyncMode, job.TriggeredBy, job.PagesTotal, job.PagesProcessed, job.CurrentURL,
		job.RowsExtracted, job.RowsInserted, job.RowsFailed, job.StagedRowCount, nullableRaw(job.StagedDataInline),
		job.StagedDataPath, nullTime(job.StartedAt), nullTime(job.CompletedAt), job.ErrorMessage, job.ErrorDetails,
		formatTime(job.UpdatedAt), job.ID)
	if err != nil {
		return fmt.Errorf("repository: update job: %w", err)
	}
	return nil
}

// ReapStaleRunningJobs fails jobs abandoned mid-run, typically by a
// process restart, so the single-flight guard and job listings don't
// show phantom running work forever.
func (r *SQLiteRepository) ReapStaleRunningJobs(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	result, err := r.db.ExecContext(ctx, `
		UPDATE extraction_jobs
		SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE status IN (?, ?) AND updated_at < ?`,
		models.JobStatusFailed, "job abandoned: process restarted while running",
		formatTime(time.Now()), formatTime(time.Now()),
		models.JobStatusPending, models.JobStatusRunning, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("repository: reap stale jobs: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}

func (r *SQLiteRepository) AppendLog(ctx context.Context, log *models.ProcessLog) error {
	if log.ID == "" {
		log.ID = newID()
	}
	log.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO process_logs (id, job_id, level, message, url, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.JobID, log.Level, log.Message, log.URL, nullableRaw(log.Details), formatTime(log.CreatedAt))
	if err != nil {
		return fmt.Errorf("repository: append log: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListLogs(ctx context.Context, jobID string, limit int) ([]models.ProcessLog, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, level, message, url, details, created_at
		FROM process_logs WHERE job_id = ? ORDER BY created_at LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: list logs: %w", err)
	}
	defer rows.Close()

	var out []models.ProcessLog
	for rows.Next() {
		var log models.ProcessLog
		var details sql.NullString
		var createdAt string

		if err := rows.Scan(&log.ID, &log.JobID, &log.Level, &log.Message, &log.URL, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("repository: scan log: %w", err)
		}
		if details.Valid {
			log.Details = json.RawMessage(details.String)
		}
		if log.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, log)
	}
	return out, rows.Err()
}

const jobSelectColumns = `SELECT id, assignment_id, status, sync_mode, triggered_by, pages_total,
	pages_processed, current_url, rows_extracted, rows_inserted, rows_failed, staged_row_count,
	staged_data_inline, staged_data_path, started_at, completed_at, error_message, error_details,
	created_at, updated_at`

func scanJob(row rowScanner) (*models.ExtractionJob, error) {
	var job models.ExtractionJob
	var stagedInline sql.NullString
	var startedAt, completedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&job.ID, &job.AssignmentID, &job.Status, &job.SyncMode, &job.TriggeredBy, &job.PagesTotal,
		&job.PagesProcessed, &job.CurrentURL, &job.RowsExtracted, &job.RowsInserted, &job.RowsFailed, &job.StagedRowCount,
		&stagedInline, &job.StagedDataPath, &startedAt, &completedAt, &job.ErrorMessage, &job.ErrorDetails,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: scan job: %w", err)
	}

	if stagedInline.Valid {
		job.StagedDataInline = json.RawMessage(stagedInline.String)
	}
	if job.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if job.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &job, nil
}
