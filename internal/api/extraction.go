// Package api composes the executor, scheduler, mapper, and llmextractor
// packages into the three surfaces an admin UI or CLI drives the system
// through: extraction control, schema/LLM analysis, and scheduling.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Fazmin/syncengine/internal/executor"
	"github.com/Fazmin/syncengine/internal/models"
	"github.com/Fazmin/syncengine/internal/repository"
)

// jobCommitter runs a staged job's rows into its target database.
// Satisfied by *executor.Executor.
type jobCommitter interface {
	Commit(ctx context.Context, job *models.ExtractionJob, assignment *models.Assignment) error
	RunSample(ctx context.Context, assignment *models.Assignment, ws *models.WebSource, sampleURL string, debug bool) ([]map[string]any, *executor.SampleDebug, error)
}

// stagedDataReader resolves a job's staged rows back out of inline JSON
// or a spill file. Satisfied by *staging.Store.
type stagedDataReader interface {
	Get(inline json.RawMessage, path string) ([]map[string]any, error)
	Columns(inline json.RawMessage, path string) ([]string, error)
	Delete(path string) error
}

// RunnerScheduler is the subset of *scheduler.Scheduler the extraction
// API drives; narrowed to an interface so tests can fake single-flight
// behavior without a real cron.Cron.
type RunnerScheduler interface {
	TriggerCancelable(assignmentID string, modeOverride models.SyncMode, done func()) (*models.ExtractionJob, context.CancelFunc, error)
}

// SampleResult is RunSample's response shape. Debug is populated only
// when the caller asked for debug capture.
type SampleResult struct {
	Rows      []map[string]any
	Columns   []string
	SourceURL string
	Error     string
	Debug     *executor.SampleDebug
}

// CommitResult is CommitJob's response shape.
type CommitResult struct {
	RowsInserted int
}

// StagedPage is GetStagedData's response shape: one page of a job's
// staged rows plus the total row count across all pages.
type StagedPage struct {
	Rows    []map[string]any
	Columns []string
	Total   int
}

// ExtractionAPI triggers, samples, commits, and cancels extraction jobs.
// It shares its Scheduler's single-flight guard with scheduled ticks, so
// a concurrent API trigger and cron tick for the same assignment can
// never both start a run.
type ExtractionAPI struct {
	repo      repository.Repository
	scheduler RunnerScheduler
	executor  jobCommitter
	staging   stagedDataReader
	logger    *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewExtractionAPI builds an ExtractionAPI. sched, exec, and stagingStore
// are typically the process's single *scheduler.Scheduler,
// *executor.Executor, and *staging.Store instances.
func NewExtractionAPI(repo repository.Repository, sched RunnerScheduler, exec jobCommitter, stagingStore stagedDataReader, logger *slog.Logger) *ExtractionAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractionAPI{
		repo:      repo,
		scheduler: sched,
		executor:  exec,
		staging:   stagingStore,
		logger:    logger,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// TriggerExtraction starts a new job for assignmentID under the shared
// single-flight guard and returns its job ID immediately; the run
// continues asynchronously. mode overrides the assignment's configured
// sync mode for this run only; pass "" to use the assignment's own mode.
func (a *ExtractionAPI) TriggerExtraction(ctx context.Context, assignmentID string, mode models.SyncMode) (string, error) {
	job, cancel, err := a.scheduler.TriggerCancelable(assignmentID, mode, nil)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.cancels[job.ID] = cancel
	a.mu.Unlock()

	return job.ID, nil
}

// RunSample fetches and extracts a single page without creating a job,
// for a "test this assignment" preview. It caps the returned rows at
// maxRows (0 means unlimited) and never returns an error for an
// extraction failure, instead reporting it on SampleResult.Error, since
// a failed sample is a normal outcome a caller displays inline. debug
// additionally captures the raw page excerpt and LLM response on the
// result, kept even when extraction fails.
func (a *ExtractionAPI) RunSample(ctx context.Context, assignmentID string, maxRows int, debug bool) (*SampleResult, error) {
	assignment, err := a.repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("api: load assignment: %w", err)
	}
	ws, err := a.repo.GetWebSource(ctx, assignment.WebSourceID)
	if err != nil {
		return nil, fmt.Errorf("api: load web source: %w", err)
	}

	sourceURL := assignment.StartURL
	if sourceURL == "" {
		sourceURL = ws.BaseURL
	}

	result := &SampleResult{SourceURL: sourceURL}

	rows, dbg, err := a.executor.RunSample(ctx, assignment, ws, sourceURL, debug)
	result.Debug = dbg
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}

	if maxRows > 0 && len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	result.Rows = rows
	result.Columns = columnsOf(rows)
	return result, nil
}

// CommitJob writes a staging-status job's staged rows into its target
// database. Returns an error if the job is not currently in staging
// status; CommitJob is a no-op-unsafe operation, so callers should not
// retry blindly on error without re-checking job status.
func (a *ExtractionAPI) CommitJob(ctx context.Context, jobID string) (*CommitResult, error) {
	job, err := a.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("api: load job: %w", err)
	}
	if job.Status != models.JobStatusStaging {
		return nil, fmt.Errorf("api: job %s is not awaiting commit (status %s)", jobID, job.Status)
	}

	assignment, err := a.repo.GetAssignment(ctx, job.AssignmentID)
	if err != nil {
		return nil, fmt.Errorf("api: load assignment: %w", err)
	}

	if err := a.executor.Commit(ctx, job, assignment); err != nil {
		return nil, err
	}
	return &CommitResult{RowsInserted: job.RowsInserted}, nil
}

// CancelJob requests early termination of jobID. A job with an active
// run has its context cancelled and the executor finishes the
// transition; a job parked in staging (no active run to cancel) is
// transitioned to cancelled directly and its staged data removed.
// Cancelling a job already in a terminal status is an error.
func (a *ExtractionAPI) CancelJob(ctx context.Context, jobID string) error {
	a.mu.Lock()
	cancel, ok := a.cancels[jobID]
	delete(a.cancels, jobID)
	a.mu.Unlock()

	if ok {
		cancel()
		return nil
	}

	job, err := a.repo.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("api: load job: %w", err)
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("api: job %s already finished (status %s)", jobID, job.Status)
	}
	if job.Status != models.JobStatusStaging && job.Status != models.JobStatusPending {
		return fmt.Errorf("api: job %s is running but was not started via TriggerExtraction", jobID)
	}

	if err := a.staging.Delete(job.StagedDataPath); err != nil {
		a.logger.WarnContext(ctx, "failed to remove staged data on cancel", "job_id", jobID, "error", err)
	}
	job.Status = models.JobStatusCancelled
	job.StagedDataInline = nil
	job.StagedDataPath = ""
	job.StagedRowCount = 0
	if err := a.repo.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("api: persist cancellation: %w", err)
	}
	return nil
}

// GetStagedData returns one page of jobID's staged rows. page is
// 1-indexed; pageSize <= 0 returns every row on a single page.
func (a *ExtractionAPI) GetStagedData(ctx context.Context, jobID string, page, pageSize int) (*StagedPage, error) {
	job, err := a.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("api: load job: %w", err)
	}

	rows, err := a.staging.Get(job.StagedDataInline, job.StagedDataPath)
	if err != nil {
		return nil, fmt.Errorf("api: load staged rows: %w", err)
	}

	// column order comes from the serialized payload (first-seen key
	// order), which is stable across reads, unlike Go map iteration
	columns, err := a.staging.Columns(job.StagedDataInline, job.StagedDataPath)
	if err != nil {
		return nil, fmt.Errorf("api: derive staged columns: %w", err)
	}

	total := len(rows)
	if pageSize > 0 {
		start := (page - 1) * pageSize
		if start < 0 {
			start = 0
		}
		if start > total {
			start = total
		}
		end := start + pageSize
		if end > total {
			end = total
		}
		rows = rows[start:end]
	}

	return &StagedPage{Rows: rows, Columns: columns, Total: total}, nil
}

// columnsOf returns the sorted union of every row's keys, so a caller
// gets a stable column list even when rows disagree on which fields
// were populated.
func columnsOf(rows []map[string]any) []string {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for k := range row {
			seen[k] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for k := range seen {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	return columns
}
