// Package executor implements the Extraction Executor: it drives one
// assignment's job from pending through page-by-page extraction to
// either staging or a committed write into the target database,
// depending on the assignment's sync mode.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/Fazmin/syncengine/internal/audit"
	"github.com/Fazmin/syncengine/internal/clock"
	"github.com/Fazmin/syncengine/internal/connector"
	"github.com/Fazmin/syncengine/internal/logging"
	"github.com/Fazmin/syncengine/internal/models"
	"github.com/Fazmin/syncengine/internal/repository"
	"github.com/Fazmin/syncengine/internal/scraper"
	"github.com/Fazmin/syncengine/internal/staging"
)

// insertBatchSize is how many rows go into one INSERT statement during
// commit; a failed batch falls back to row-at-a-time inserts so one bad
// row costs one row, not a hundred.
const insertBatchSize = 100

// SecretDecrypter resolves a DataSource's stored, encrypted password
// into the plaintext credential the connector needs to open a
// connection. Implemented by crypto.SecretBox.Decrypt.
type SecretDecrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// pageFetcher is satisfied by *scraper.Scraper; narrowed to an
// interface here so tests can fake page fetches without standing up a
// real HTTP/browser fetcher.
type pageFetcher interface {
	Fetch(ctx context.Context, url string, ws *models.WebSource) (*scraper.FetchResult, error)
}

// structuredExtractor is satisfied by *llmextractor.Extractor.
type structuredExtractor interface {
	ExtractStructured(ctx context.Context, cfg *models.LLMCaptureConfig, pageText string) ([]map[string]any, error)
	ExtractStructuredRaw(ctx context.Context, cfg *models.LLMCaptureConfig, pageText string) ([]map[string]any, string, error)
}

// rowStager is satisfied by *staging.Store.
type rowStager interface {
	Put(jobID string, rows []map[string]any) (*staging.Result, error)
	Get(inline json.RawMessage, path string) ([]map[string]any, error)
	Delete(path string) error
}

// Executor runs jobs end to end.
type Executor struct {
	repo         repository.Repository
	scraper      pageFetcher
	llm          structuredExtractor
	staging      rowStager
	secretBox    SecretDecrypter
	auditSink    audit.Sink
	logger       *slog.Logger
	clock        clock.Clock
	newConnector func(models.DBType) (connector.Connector, error)
}

// New builds an Executor. llm may be nil if no assignment in the
// deployment uses LLM extraction.
func New(repo repository.Repository, scr pageFetcher, llm structuredExtractor, stagingStore rowStager, secretBox SecretDecrypter, auditSink audit.Sink, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if auditSink == nil {
		auditSink = audit.NewLogSink(logger)
	}
	return &Executor{
		repo:         repo,
		scraper:      scr,
		llm:          llm,
		staging:      stagingStore,
		secretBox:    secretBox,
		auditSink:    auditSink,
		logger:       logger,
		clock:        clock.Real{},
		newConnector: connector.New,
	}
}

// ValidateRunnable checks the preconditions an assignment must meet
// before any job record is created for it: a selector assignment needs
// at least one active rule, an llm assignment needs a capture config.
// Violations return a *ConfigError.
func ValidateRunnable(ctx context.Context, repo repository.Repository, assignment *models.Assignment) error {
	switch assignment.ExtractionMethod {
	case models.ExtractionMethodLLM:
		if assignment.LLMCaptureConfig == nil {
			return &ConfigError{Reason: fmt.Sprintf("assignment %s uses llm extraction but has no capture config", assignment.ID)}
		}
	default:
		rules, err := repo.ListExtractionRules(ctx, assignment.ID)
		if err != nil {
			return fmt.Errorf("executor: load extraction rules: %w", err)
		}
		active := 0
		for _, r := range rules {
			if r.IsActive {
				active++
			}
		}
		if active == 0 {
			return &ConfigError{Reason: fmt.Sprintf("assignment %s has no active extraction rules", assignment.ID)}
		}
	}
	return nil
}

// Run drives job through extraction of every page of assignment's
// configured pagination, staging the extracted rows, and committing
// immediately if assignment.SyncMode is auto. job and assignment must
// already be persisted; Run mutates and persists job's status and
// progress fields as it proceeds.
func (e *Executor) Run(ctx context.Context, job *models.ExtractionJob, assignment *models.Assignment, ws *models.WebSource) error {
	ctx = logging.WithJobID(ctx, job.ID)
	ctx = logging.WithAssignmentID(ctx, assignment.ID)

	now := e.clock.Now()
	job.Status = models.JobStatusRunning
	job.StartedAt = &now
	if err := e.repo.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("executor: mark job running: %w", err)
	}
	e.audit(ctx, audit.EventExtractionStarted, job, "", map[string]any{
		"assignment_id": assignment.ID,
		"method":        assignment.ExtractionMethod,
	})
	e.logEvent(ctx, job.ID, models.LogLevelInfo, fmt.Sprintf("starting extraction job (%s)", assignment.ExtractionMethod), "")

	rows, runErr := e.extractAllPages(ctx, job, assignment, ws)
	if runErr != nil {
		return e.failJob(ctx, job, "extraction", runErr)
	}

	job.RowsExtracted = len(rows)
	result, err := e.staging.Put(job.ID, rows)
	if err != nil {
		return e.failJob(ctx, job, "extraction", fmt.Errorf("stage rows: %w", err))
	}
	job.StagedDataInline = result.Inline
	job.StagedDataPath = result.Path
	job.StagedRowCount = len(rows)

	e.audit(ctx, audit.EventExtractionCompleted, job, "", map[string]any{
		"pages_processed": job.PagesProcessed,
		"rows_extracted":  job.RowsExtracted,
	})

	if assignment.SyncMode == models.SyncModeAuto {
		job.Status = models.JobStatusRunning
		if err := e.repo.UpdateJob(ctx, job); err != nil {
			return fmt.Errorf("executor: persist staged rows before commit: %w", err)
		}
		return e.Commit(ctx, job, assignment)
	}

	job.Status = models.JobStatusStaging
	if err := e.repo.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("executor: mark job staging: %w", err)
	}
	e.logEvent(ctx, job.ID, models.LogLevelInfo, "extraction complete, awaiting manual commit", "")
	return nil
}

// sampleDebugExcerptSize caps how much raw page/model text a debug
// capture retains.
const sampleDebugExcerptSize = 4096

// SampleDebug is the optional debug capture of a sample run: the raw
// page content the extractor saw and, on the LLM path, the model's raw
// response, for operators debugging selectors or a capture prompt.
type SampleDebug struct {
	PageExcerpt string
	LLMResponse string
}

// RunSample extracts rows from a single page without creating or
// mutating any job, for use by an assignment's "test" preview before it
// goes active. With debug set, the returned SampleDebug carries the raw
// page excerpt and (for LLM extraction) the model's raw response — even
// when extraction itself fails, since that is when the capture is most
// useful.
func (e *Executor) RunSample(ctx context.Context, assignment *models.Assignment, ws *models.WebSource, sampleURL string, debug bool) ([]map[string]any, *SampleDebug, error) {
	fetchResult, err := e.scraper.Fetch(ctx, sampleURL, ws)
	if err != nil {
		return nil, nil, fmt.Errorf("executor: sample fetch: %w", err)
	}

	var dbg *SampleDebug
	if debug {
		dbg = &SampleDebug{PageExcerpt: truncateExcerpt(fetchResult.HTML)}
	}

	if assignment.ExtractionMethod == models.ExtractionMethodLLM {
		if e.llm == nil || assignment.LLMCaptureConfig == nil {
			return nil, dbg, fmt.Errorf("executor: llm extraction requested but no extractor/capture config configured")
		}
		rows, raw, err := e.llm.ExtractStructuredRaw(ctx, assignment.LLMCaptureConfig, fetchResult.HTML)
		if dbg != nil {
			dbg.LLMResponse = truncateExcerpt(raw)
		}
		if err != nil {
			return nil, dbg, err
		}
		return rows, dbg, nil
	}

	rules, err := e.repo.ListExtractionRules(ctx, assignment.ID)
	if err != nil {
		return nil, dbg, fmt.Errorf("executor: load extraction rules: %w", err)
	}

	rows, err := e.extractPage(ctx, assignment, rules, fetchResult)
	return rows, dbg, err
}

func truncateExcerpt(s string) string {
	if len(s) <= sampleDebugExcerptSize {
		return s
	}
	return s[:sampleDebugExcerptSize] + "...[truncated]"
}

// extractAllPages fans pages out across up to ws.MaxConcurrent workers
// (the scraper's own rate limiter enforces the inter-request delay) and
// flattens the results back in page order. A failed page is logged,
// counted as processed, and skipped; only cancellation aborts the run.
func (e *Executor) extractAllPages(ctx context.Context, job *models.ExtractionJob, assignment *models.Assignment, ws *models.WebSource) ([]map[string]any, error) {
	pageURLs, err := e.resolvePageURLs(ctx, assignment, ws)
	if err != nil {
		return nil, err
	}

	job.PagesTotal = len(pageURLs)
	if err := e.repo.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("set pages total: %w", err)
	}

	rules, err := e.repo.ListExtractionRules(ctx, assignment.ID)
	if err != nil {
		return nil, fmt.Errorf("load extraction rules: %w", err)
	}

	maxConcurrent := ws.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if maxConcurrent > 10 {
		maxConcurrent = 10
	}

	pageRows := make([][]map[string]any, len(pageURLs))
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex // guards job progress fields and their persistence

	for i, url := range pageURLs {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			rows := e.processPage(ctx, job, assignment, ws, rules, url)
			pageRows[i] = rows

			mu.Lock()
			defer mu.Unlock()
			job.PagesProcessed++
			job.CurrentURL = url
			job.RowsExtracted = countRows(pageRows)
			if err := e.repo.UpdateJob(ctx, job); err != nil {
				e.logger.WarnContext(ctx, "failed to persist page progress", "job_id", job.ID, "error", err)
			}
		}(i, url)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var allRows []map[string]any
	for _, rows := range pageRows {
		allRows = append(allRows, rows...)
	}
	return allRows, nil
}

// processPage fetches and extracts one page, returning its rows. Any
// failure is logged at error level against the page's URL and yields nil
// rows; per-page failures never abort the job.
func (e *Executor) processPage(ctx context.Context, job *models.ExtractionJob, assignment *models.Assignment, ws *models.WebSource, rules []models.ExtractionRule, url string) []map[string]any {
	fetchResult, err := e.scraper.Fetch(ctx, url, ws)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			e.logEvent(ctx, job.ID, models.LogLevelError, fmt.Sprintf("fetch failed: %v", err), url)
		}
		return nil
	}

	rows, err := e.extractPage(ctx, assignment, rules, fetchResult)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			e.logEvent(ctx, job.ID, models.LogLevelError, fmt.Sprintf("extraction failed: %v", err), url)
		}
		return nil
	}

	e.logEvent(ctx, job.ID, models.LogLevelInfo, fmt.Sprintf("extracted %d row(s)", len(rows)), url)
	return rows
}

func countRows(pageRows [][]map[string]any) int {
	n := 0
	for _, rows := range pageRows {
		n += len(rows)
	}
	return n
}

func (e *Executor) resolvePageURLs(ctx context.Context, assignment *models.Assignment, ws *models.WebSource) ([]string, error) {
	if ws.IsListMode && len(ws.URLList) > 0 {
		return ws.URLList, nil
	}

	startURL := assignment.StartURL
	if startURL == "" {
		startURL = ws.BaseURL
	}

	if ws.PaginationType == models.PaginationTypeNextButton {
		pages, err := scraper.FollowNextButton(ctx, startURL, ws.Pagination)
		if err != nil {
			return nil, fmt.Errorf("follow next button pagination: %w", err)
		}
		urls := make([]string, len(pages))
		for i, p := range pages {
			urls[i] = p.URL
		}
		return urls, nil
	}

	return scraper.GeneratePaginatedURLs(startURL, ws.Pagination)
}

func (e *Executor) extractPage(ctx context.Context, assignment *models.Assignment, rules []models.ExtractionRule, fetchResult *scraper.FetchResult) ([]map[string]any, error) {
	if assignment.ExtractionMethod == models.ExtractionMethodLLM {
		if e.llm == nil || assignment.LLMCaptureConfig == nil {
			return nil, fmt.Errorf("llm extraction requested but no extractor/capture config configured")
		}
		return e.llm.ExtractStructured(ctx, assignment.LLMCaptureConfig, fetchResult.HTML)
	}

	rows, err := scraper.Extract(fetchResult.HTML, rules)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = map[string]any(r)
	}
	return out, nil
}

// Commit reads job's staged rows and writes them to the assignment's
// target table via the target data source's connector, in batches of
// insertBatchSize. A row the target rejects is counted into RowsFailed
// and logged at warn; only connection-level and staged-payload failures
// fail the job.
func (e *Executor) Commit(ctx context.Context, job *models.ExtractionJob, assignment *models.Assignment) error {
	if job.Status == models.JobStatusStaging {
		job.Status = models.JobStatusRunning
		if err := e.repo.UpdateJob(ctx, job); err != nil {
			return fmt.Errorf("executor: mark job running for commit: %w", err)
		}
	}

	rows, err := e.staging.Get(job.StagedDataInline, job.StagedDataPath)
	if err != nil {
		return e.failJob(ctx, job, "sync", fmt.Errorf("read staged rows: %w", err))
	}

	ds, err := e.repo.GetDataSource(ctx, assignment.DataSourceID)
	if err != nil {
		return e.failJob(ctx, job, "sync", fmt.Errorf("load data source: %w", err))
	}

	e.audit(ctx, audit.EventSyncStarted, job, ds.ID, map[string]any{
		"target_table": assignment.TargetTable,
		"staged_rows":  len(rows),
	})

	password, err := e.secretBox.Decrypt(ds.Password)
	if err != nil {
		return e.failJob(ctx, job, "sync", fmt.Errorf("decrypt data source credential: %w", err))
	}

	conn, err := e.newConnector(ds.DBType)
	if err != nil {
		return e.failJob(ctx, job, "sync", err)
	}
	if err := conn.Open(ctx, ds, password); err != nil {
		return e.failJob(ctx, job, "sync", fmt.Errorf("open target connection: %w", err))
	}
	defer conn.Close()

	if err := e.insertRows(ctx, conn, job, assignment, rows); err != nil {
		return e.failJob(ctx, job, "sync", fmt.Errorf("insert rows: %w", err))
	}

	if err := e.staging.Delete(job.StagedDataPath); err != nil {
		e.logger.WarnContext(ctx, "failed to clean up spill file", "job_id", job.ID, "error", err)
	}

	completedAt := e.clock.Now()
	job.Status = models.JobStatusCompleted
	job.CompletedAt = &completedAt
	job.StagedDataInline = nil
	job.StagedDataPath = ""
	if err := e.repo.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("executor: mark job completed: %w", err)
	}

	e.audit(ctx, audit.EventSyncCompleted, job, ds.ID, map[string]any{
		"rows_inserted": job.RowsInserted,
		"rows_failed":   job.RowsFailed,
	})
	return nil
}

// insertRows groups rows by their column set (all rows from a
// selector-based extraction share one set; LLM extraction rows can vary
// slightly run to run if the model omits a field) and inserts each group
// in batches. A batch the target rejects is retried row by row so only
// the offending rows count as failed. Running totals are persisted after
// every batch. Cancellation aborts between batches.
func (e *Executor) insertRows(ctx context.Context, conn connector.Connector, job *models.ExtractionJob, assignment *models.Assignment, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}

	for _, group := range groupRowsByColumns(rows) {
		values := make([][]any, len(group.rows))
		for i, row := range group.rows {
			values[i] = make([]any, len(group.columns))
			for c, col := range group.columns {
				values[i][c] = row[col]
			}
		}

		for start := 0; start < len(values); start += insertBatchSize {
			if err := ctx.Err(); err != nil {
				return err
			}

			end := start + insertBatchSize
			if end > len(values) {
				end = len(values)
			}
			batch := values[start:end]

			inserted, err := conn.InsertBatch(ctx, assignment.TargetSchema, assignment.TargetTable, group.columns, batch)
			if err == nil {
				job.RowsInserted += inserted
			} else {
				if cerr := ctx.Err(); cerr != nil {
					return cerr
				}
				e.insertRowByRow(ctx, conn, job, assignment, group.columns, batch)
			}

			if err := e.repo.UpdateJob(ctx, job); err != nil {
				e.logger.WarnContext(ctx, "failed to persist insert progress", "job_id", job.ID, "error", err)
			}
		}
	}

	return nil
}

// insertRowByRow is the fallback after a rejected batch: insert each row
// of the batch on its own so a single bad row is the only one lost.
func (e *Executor) insertRowByRow(ctx context.Context, conn connector.Connector, job *models.ExtractionJob, assignment *models.Assignment, columns []string, batch [][]any) {
	for _, row := range batch {
		if ctx.Err() != nil {
			return
		}
		if _, err := conn.InsertBatch(ctx, assignment.TargetSchema, assignment.TargetTable, columns, [][]any{row}); err != nil {
			job.RowsFailed++
			e.logEvent(ctx, job.ID, models.LogLevelWarn, fmt.Sprintf("row insert failed: %v", err), "")
		} else {
			job.RowsInserted++
		}
	}
}

type rowGroup struct {
	columns []string
	rows    []map[string]any
}

// groupRowsByColumns buckets rows that share an identical column set,
// preserving each bucket's first-seen order so the generated statements
// are stable across otherwise-identical runs.
func groupRowsByColumns(rows []map[string]any) []rowGroup {
	order := make([]string, 0)
	byKey := make(map[string]*rowGroup)

	for _, row := range rows {
		cols := make([]string, 0, len(row))
		for k := range row {
			cols = append(cols, k)
		}
		sort.Strings(cols)

		key := strings.Join(cols, "\x00")
		g, ok := byKey[key]
		if !ok {
			g = &rowGroup{columns: cols}
			byKey[key] = g
			order = append(order, key)
		}
		g.rows = append(g.rows, row)
	}

	groups := make([]rowGroup, len(order))
	for i, key := range order {
		groups[i] = *byKey[key]
	}
	return groups
}

// failJob marks job failed (or cancelled, if err wraps context.Canceled)
// and persists that outcome. phase selects the audit event family
// ("extraction" or "sync"). Persistence uses a detached context, not the
// possibly-already-cancelled ctx that produced err, since a cancelled
// job's final status write must still go through. Cancellation also
// removes any already-written staging data.
func (e *Executor) failJob(ctx context.Context, job *models.ExtractionJob, phase string, err error) error {
	info := ClassifyError(err)

	completedAt := e.clock.Now()
	job.Status = models.JobStatusFailed
	if errors.Is(err, context.Canceled) {
		job.Status = models.JobStatusCancelled
	}
	job.CompletedAt = &completedAt
	job.ErrorMessage = info.Message
	job.ErrorDetails = info.Detail

	persistCtx := detach(ctx)

	if job.Status == models.JobStatusCancelled {
		if e.staging != nil {
			if delErr := e.staging.Delete(job.StagedDataPath); delErr != nil {
				e.logger.WarnContext(persistCtx, "failed to remove staged data on cancel", "job_id", job.ID, "error", delErr)
			}
		}
		job.StagedDataInline = nil
		job.StagedDataPath = ""
		job.StagedRowCount = 0
	}

	if updateErr := e.repo.UpdateJob(persistCtx, job); updateErr != nil {
		e.logger.ErrorContext(persistCtx, "failed to persist job failure", "job_id", job.ID, "error", updateErr)
	}

	eventType := phase + "_failed"
	if job.Status == models.JobStatusCancelled {
		eventType = phase + "_cancelled"
	}
	e.logEvent(persistCtx, job.ID, models.LogLevelError, info.Message, "")
	e.audit(persistCtx, eventType, job, "", map[string]any{"error": info.Message})

	return err
}

// audit emits one event for job, with details serialized to JSON.
func (e *Executor) audit(ctx context.Context, eventType string, job *models.ExtractionJob, dataSourceID string, details map[string]any) {
	encoded, err := json.Marshal(details)
	if err != nil {
		encoded = []byte("{}")
	}
	e.auditSink.Record(ctx, audit.Event{
		EventType:    eventType,
		ResourceType: "extraction_job",
		ResourceID:   job.ID,
		DataSourceID: dataSourceID,
		EventDetails: string(encoded),
	})
}

// detach returns a fresh, never-cancelled context carrying over ctx's
// job/assignment log attribution, for persistence work that must
// complete even if ctx itself was cancelled.
func detach(ctx context.Context) context.Context {
	fresh := context.Background()
	if jobID, ok := logging.JobID(ctx); ok {
		fresh = logging.WithJobID(fresh, jobID)
	}
	if assignmentID, ok := logging.AssignmentID(ctx); ok {
		fresh = logging.WithAssignmentID(fresh, assignmentID)
	}
	return fresh
}

func (e *Executor) logEvent(ctx context.Context, jobID string, level models.LogLevel, message, url string) {
	if err := e.repo.AppendLog(ctx, &models.ProcessLog{JobID: jobID, Level: level, Message: message, URL: url}); err != nil {
		e.logger.WarnContext(ctx, "failed to append process log", "job_id", jobID, "error", err)
	}
}
