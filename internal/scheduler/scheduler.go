// Package scheduler implements the cron-driven trigger table for
// assignments: one cron entry per active assignment, a single-flight
// guard so an assignment never has two runs in progress at once, and a
// manual trigger-now path that shares the same guard.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/Fazmin/syncengine/internal/executor"
	"github.com/Fazmin/syncengine/internal/models"
	"github.com/Fazmin/syncengine/internal/repository"
)

// staleJobMaxAge is how old an unfinished job must be before Initialize
// reaps it as abandoned. The engine runs as a single process, so any
// pending/running job found at startup is a leftover from a previous
// process and zero is safe.
const staleJobMaxAge = 0

// JobRunner drives one job to completion. Satisfied by *executor.Executor.
type JobRunner interface {
	Run(ctx context.Context, job *models.ExtractionJob, assignment *models.Assignment, ws *models.WebSource) error
}

// Status is a snapshot of the scheduler's state, returned by Status().
type Status struct {
	Scheduled []string // assignment IDs with an active cron entry
	Running   []string // assignment IDs currently executing
}

// Scheduler holds one cron.Cron instance and dispatches ticks to the
// injected JobRunner, enforcing that at most one run per assignment is
// ever in flight and at most maxConcurrentJobs runs process-wide.
type Scheduler struct {
	repo   repository.Repository
	runner JobRunner
	logger *slog.Logger

	cron  *cron.Cron
	slots chan struct{} // process-wide job slots; one per concurrent run

	mu      sync.Mutex
	entries map[string]cron.EntryID
	running map[string]struct{}
}

// New builds a Scheduler capped at maxConcurrentJobs simultaneous runs
// (values < 1 are treated as 1). Call Initialize to pick up every
// active assignment on process start, and Start afterward to begin
// firing ticks; Schedule/Unschedule/TriggerNow may be called at any
// point after New.
func New(repo repository.Repository, runner JobRunner, maxConcurrentJobs int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrentJobs < 1 {
		maxConcurrentJobs = 1
	}
	return &Scheduler{
		repo:    repo,
		runner:  runner,
		logger:  logger,
		cron:    cron.New(),
		slots:   make(chan struct{}, maxConcurrentJobs),
		entries: make(map[string]cron.EntryID),
		running: make(map[string]struct{}),
	}
}

// Start begins firing scheduled ticks in the background. Must be called
// once, after any Initialize/Schedule calls made at startup.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels every scheduled entry and waits for in-flight runs'
// cron goroutines to return control, but does not abort a run already
// in progress — Executor.Run is allowed to finish naturally.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// cronSpecFor computes the cron expression an assignment's schedule
// maps to. A manual schedule type has no spec; callers must not call
// Schedule for it.
func cronSpecFor(a *models.Assignment) (string, error) {
	switch a.ScheduleType {
	case models.ScheduleTypeHourly:
		return "0 * * * *", nil
	case models.ScheduleTypeDaily:
		return "0 0 * * *", nil
	case models.ScheduleTypeWeekly:
		return "0 0 * * 0", nil
	case models.ScheduleTypeCron:
		if a.CronExpression == "" {
			return "", fmt.Errorf("scheduler: schedule type cron requires a cron expression")
		}
		return a.CronExpression, nil
	case models.ScheduleTypeManual:
		return "", fmt.Errorf("scheduler: schedule type manual has no cron spec")
	default:
		return "", fmt.Errorf("scheduler: unknown schedule type %q", a.ScheduleType)
	}
}

// Schedule registers a cron entry for assignment, replacing any
// existing entry for the same assignment. Refuses (logs and returns an
// error, does not panic) an assignment whose schedule type is manual or
// whose cron expression fails to parse.
func (s *Scheduler) Schedule(assignment *models.Assignment) error {
	spec, err := cronSpecFor(assignment)
	if err != nil {
		s.logger.Warn("scheduler: refusing to schedule assignment", "assignment_id", assignment.ID, "error", err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[assignment.ID]; ok {
		s.cron.Remove(existing)
	}

	entryID, err := s.cron.AddFunc(spec, func() { s.onTick(assignment.ID) })
	if err != nil {
		s.logger.Warn("scheduler: invalid cron spec", "assignment_id", assignment.ID, "spec", spec, "error", err)
		return fmt.Errorf("scheduler: invalid cron spec %q: %w", spec, err)
	}

	s.entries[assignment.ID] = entryID
	return nil
}

// Unschedule cancels assignmentID's pending entry, if any.
func (s *Scheduler) Unschedule(assignmentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entries[assignmentID]
	if !ok {
		return
	}
	s.cron.Remove(entryID)
	delete(s.entries, assignmentID)
}

// Initialize loads every assignment eligible for automatic scheduling
// (active, auto sync, non-manual schedule) and registers a cron entry
// for each. It does not call Start; callers decide when ticks begin.
func (s *Scheduler) Initialize(ctx context.Context) error {
	reaped, err := s.repo.ReapStaleRunningJobs(ctx, staleJobMaxAge)
	if err != nil {
		s.logger.Warn("scheduler: failed to reap stale jobs", "error", err)
	} else if reaped > 0 {
		s.logger.Info("scheduler: reaped abandoned jobs from previous process", "count", reaped)
	}

	assignments, err := s.repo.ListActiveAssignments(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list active assignments: %w", err)
	}

	for i := range assignments {
		a := &assignments[i]
		if a.SyncMode != models.SyncModeAuto || a.ScheduleType == models.ScheduleTypeManual {
			continue
		}
		if err := s.Schedule(a); err != nil {
			s.logger.Warn("scheduler: skipping assignment during initialize", "assignment_id", a.ID, "error", err)
		}
	}
	return nil
}

// onTick is the cron callback: single-flight guard, then hand off to
// runAssignment with triggeredBy=schedule. Runs in its own goroutine
// (cron invokes callbacks that way already) using a background context
// since no caller is waiting on a tick.
func (s *Scheduler) onTick(assignmentID string) {
	if !s.tryAcquire(assignmentID) {
		s.logger.Info("scheduler: tick skipped, assignment already running", "assignment_id", assignmentID)
		return
	}
	defer s.release(assignmentID)

	if !s.acquireSlot() {
		s.logger.Info("scheduler: tick skipped, process at max concurrent jobs", "assignment_id", assignmentID)
		return
	}
	defer s.releaseSlot()

	ctx := context.Background()
	if err := s.runAssignment(ctx, assignmentID, models.TriggeredBySchedule, ""); err != nil {
		s.logger.Error("scheduler: scheduled run failed", "assignment_id", assignmentID, "error", err)
	}
}

// TriggerNow runs assignmentID immediately, sharing the same
// single-flight guard as scheduled ticks. modeOverride, if non-empty,
// overrides the assignment's configured sync mode for this one run
// (used by a manual "extract and commit now" action); pass "" to use
// the assignment's own SyncMode.
func (s *Scheduler) TriggerNow(ctx context.Context, assignmentID string, modeOverride models.SyncMode) (*models.ExtractionJob, error) {
	if !s.tryAcquire(assignmentID) {
		return nil, fmt.Errorf("scheduler: assignment %s already running", assignmentID)
	}
	if !s.acquireSlot() {
		s.release(assignmentID)
		return nil, fmt.Errorf("scheduler: process at max concurrent jobs")
	}

	job, err := s.createJobRow(ctx, assignmentID, models.TriggeredByManual, modeOverride)
	if err != nil {
		s.releaseSlot()
		s.release(assignmentID)
		return nil, err
	}

	go func() {
		defer s.release(assignmentID)
		defer s.releaseSlot()
		if err := s.runJob(ctx, job); err != nil {
			s.logger.Error("scheduler: triggered run failed", "assignment_id", assignmentID, "error", err)
		}
	}()

	return job, nil
}

// TriggerCancelable is like TriggerNow but runs under a context the
// caller can cancel early, and reports the job's own ID back through
// the returned CancelFunc's companion job value rather than a plain
// error. done, if non-nil, is invoked once the run has returned
// (success, failure, or cancellation) so a caller tracking per-job
// cancel funcs can garbage collect its registry entry.
func (s *Scheduler) TriggerCancelable(assignmentID string, modeOverride models.SyncMode, done func()) (*models.ExtractionJob, context.CancelFunc, error) {
	if !s.tryAcquire(assignmentID) {
		return nil, nil, fmt.Errorf("scheduler: assignment %s already running", assignmentID)
	}
	if !s.acquireSlot() {
		s.release(assignmentID)
		return nil, nil, fmt.Errorf("scheduler: process at max concurrent jobs")
	}

	ctx, cancel := context.WithCancel(context.Background())

	job, err := s.createJobRow(ctx, assignmentID, models.TriggeredByAPI, modeOverride)
	if err != nil {
		s.releaseSlot()
		s.release(assignmentID)
		cancel()
		return nil, nil, err
	}

	go func() {
		defer s.release(assignmentID)
		defer s.releaseSlot()
		if done != nil {
			defer done()
		}
		if err := s.runJob(ctx, job); err != nil {
			s.logger.Error("scheduler: triggered run failed", "assignment_id", assignmentID, "error", err)
		}
	}()

	return job, cancel, nil
}

// runAssignment creates the job row and runs it synchronously; used by
// onTick, which already executes on its own goroutine.
func (s *Scheduler) runAssignment(ctx context.Context, assignmentID string, triggeredBy models.TriggeredBy, modeOverride models.SyncMode) error {
	job, err := s.createJobRow(ctx, assignmentID, triggeredBy, modeOverride)
	if err != nil {
		return err
	}
	return s.runJob(ctx, job)
}

func (s *Scheduler) createJobRow(ctx context.Context, assignmentID string, triggeredBy models.TriggeredBy, modeOverride models.SyncMode) (*models.ExtractionJob, error) {
	assignment, err := s.repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load assignment: %w", err)
	}

	// configuration problems surface to the caller before any job record
	// exists, so a misconfigured assignment never produces failed jobs
	if err := executor.ValidateRunnable(ctx, s.repo, assignment); err != nil {
		return nil, err
	}

	syncMode := assignment.SyncMode
	if modeOverride != "" {
		syncMode = modeOverride
	}

	job := &models.ExtractionJob{
		AssignmentID: assignmentID,
		Status:       models.JobStatusPending,
		SyncMode:     syncMode,
		TriggeredBy:  triggeredBy,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("scheduler: create job: %w", err)
	}
	return job, nil
}

func (s *Scheduler) runJob(ctx context.Context, job *models.ExtractionJob) error {
	assignment, err := s.repo.GetAssignment(ctx, job.AssignmentID)
	if err != nil {
		return fmt.Errorf("scheduler: reload assignment: %w", err)
	}
	ws, err := s.repo.GetWebSource(ctx, assignment.WebSourceID)
	if err != nil {
		return fmt.Errorf("scheduler: load web source: %w", err)
	}
	return s.runner.Run(ctx, job, assignment, ws)
}

// acquireSlot claims one of the process-wide job slots without
// blocking; a tick or trigger arriving at capacity is refused rather
// than queued.
func (s *Scheduler) acquireSlot() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Scheduler) releaseSlot() {
	<-s.slots
}

// tryAcquire is the single-flight check-and-insert; the mutex makes it
// an atomic critical section shared by onTick and TriggerNow.
func (s *Scheduler) tryAcquire(assignmentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.running[assignmentID]; ok {
		return false
	}
	s.running[assignmentID] = struct{}{}
	return true
}

func (s *Scheduler) release(assignmentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, assignmentID)
}

// Status returns a snapshot of scheduled entries and the running set.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	scheduled := make([]string, 0, len(s.entries))
	for id := range s.entries {
		scheduled = append(scheduled, id)
	}
	running := make([]string, 0, len(s.running))
	for id := range s.running {
		running = append(running, id)
	}
	return Status{Scheduled: scheduled, Running: running}
}
