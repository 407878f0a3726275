package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Fazmin/syncengine/internal/models"
)

type fakeSchedulerRepo struct {
	mu          sync.Mutex
	assignments map[string]*models.Assignment
	webSources  map[string]*models.WebSource
	rules       []models.ExtractionRule
	jobs        []models.ExtractionJob
	reapCalls   int
}

func newFakeSchedulerRepo() *fakeSchedulerRepo {
	return &fakeSchedulerRepo{
		assignments: make(map[string]*models.Assignment),
		webSources:  make(map[string]*models.WebSource),
		// one active rule so selector-mode assignments pass the
		// pre-run config validation unless a test clears it
		rules: []models.ExtractionRule{{TargetColumn: "title", Selector: "h1", IsActive: true}},
	}
}

func (r *fakeSchedulerRepo) CreateDataSource(ctx context.Context, ds *models.DataSource) error { return nil }
func (r *fakeSchedulerRepo) GetDataSource(ctx context.Context, id string) (*models.DataSource, error) {
	return nil, nil
}
func (r *fakeSchedulerRepo) ListDataSources(ctx context.Context) ([]models.DataSource, error) { return nil, nil }
func (r *fakeSchedulerRepo) UpdateDataSource(ctx context.Context, ds *models.DataSource) error { return nil }
func (r *fakeSchedulerRepo) DeleteDataSource(ctx context.Context, id string) error             { return nil }

func (r *fakeSchedulerRepo) CreateWebSource(ctx context.Context, ws *models.WebSource) error { return nil }
func (r *fakeSchedulerRepo) GetWebSource(ctx context.Context, id string) (*models.WebSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.webSources[id]
	if !ok {
		return nil, fmt.Errorf("not found: %s", id)
	}
	return ws, nil
}
func (r *fakeSchedulerRepo) ListWebSources(ctx context.Context) ([]models.WebSource, error) { return nil, nil }
func (r *fakeSchedulerRepo) UpdateWebSource(ctx context.Context, ws *models.WebSource) error { return nil }
func (r *fakeSchedulerRepo) DeleteWebSource(ctx context.Context, id string) error            { return nil }

func (r *fakeSchedulerRepo) CreateAssignment(ctx context.Context, a *models.Assignment) error { return nil }
func (r *fakeSchedulerRepo) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[id]
	if !ok {
		return nil, fmt.Errorf("not found: %s", id)
	}
	return a, nil
}
func (r *fakeSchedulerRepo) ListAssignments(ctx context.Context) ([]models.Assignment, error) { return nil, nil }
func (r *fakeSchedulerRepo) ListActiveAssignments(ctx context.Context) ([]models.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Assignment, 0, len(r.assignments))
	for _, a := range r.assignments {
		if a.Status == models.AssignmentStatusActive {
			out = append(out, *a)
		}
	}
	return out, nil
}
func (r *fakeSchedulerRepo) UpdateAssignment(ctx context.Context, a *models.Assignment) error { return nil }
func (r *fakeSchedulerRepo) DeleteAssignment(ctx context.Context, id string) error            { return nil }
func (r *fakeSchedulerRepo) ReplaceExtractionRules(ctx context.Context, assignmentID string, rules []models.ExtractionRule) error {
	return nil
}
func (r *fakeSchedulerRepo) ListExtractionRules(ctx context.Context, assignmentID string) ([]models.ExtractionRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rules, nil
}

func (r *fakeSchedulerRepo) CreateJob(ctx context.Context, job *models.ExtractionJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.ID = fmt.Sprintf("job-%d", len(r.jobs)+1)
	r.jobs = append(r.jobs, *job)
	return nil
}
func (r *fakeSchedulerRepo) GetJob(ctx context.Context, id string) (*models.ExtractionJob, error) { return nil, nil }
func (r *fakeSchedulerRepo) ListJobsByAssignment(ctx context.Context, assignmentID string, limit int) ([]models.ExtractionJob, error) {
	return nil, nil
}
func (r *fakeSchedulerRepo) UpdateJob(ctx context.Context, job *models.ExtractionJob) error { return nil }
func (r *fakeSchedulerRepo) ReapStaleRunningJobs(ctx context.Context, maxAge time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reapCalls++
	return 0, nil
}
func (r *fakeSchedulerRepo) AppendLog(ctx context.Context, log *models.ProcessLog) error    { return nil }
func (r *fakeSchedulerRepo) ListLogs(ctx context.Context, jobID string, limit int) ([]models.ProcessLog, error) {
	return nil, nil
}
func (r *fakeSchedulerRepo) Close() error { return nil }

type fakeRunner struct {
	calls      int32
	inFlight   int32
	blockUntil chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context, job *models.ExtractionJob, assignment *models.Assignment, ws *models.WebSource) error {
	atomic.AddInt32(&r.calls, 1)
	atomic.AddInt32(&r.inFlight, 1)
	defer atomic.AddInt32(&r.inFlight, -1)

	if r.blockUntil != nil {
		<-r.blockUntil
	}
	return nil
}

func TestTriggerNowCreatesJobAndRunsIt(t *testing.T) {
	repo := newFakeSchedulerRepo()
	repo.assignments["a1"] = &models.Assignment{ID: "a1", WebSourceID: "w1", SyncMode: models.SyncModeManual}
	repo.webSources["w1"] = &models.WebSource{ID: "w1"}

	runner := &fakeRunner{}
	sched := New(repo, runner, 4, nil)

	job, err := sched.TriggerNow(context.Background(), "a1", "")
	if err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}
	if job.TriggeredBy != models.TriggeredByManual {
		t.Errorf("job.TriggeredBy = %q, want manual", job.TriggeredBy)
	}

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&runner.calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt32(&runner.calls) != 1 {
		t.Fatalf("runner.calls = %d, want 1", runner.calls)
	}
}

func TestTriggerNowRejectsWhileRunning(t *testing.T) {
	repo := newFakeSchedulerRepo()
	repo.assignments["a1"] = &models.Assignment{ID: "a1", WebSourceID: "w1", SyncMode: models.SyncModeManual}
	repo.webSources["w1"] = &models.WebSource{ID: "w1"}

	block := make(chan struct{})
	runner := &fakeRunner{blockUntil: block}
	sched := New(repo, runner, 4, nil)

	if _, err := sched.TriggerNow(context.Background(), "a1", ""); err != nil {
		t.Fatalf("first TriggerNow: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&runner.inFlight) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	_, err := sched.TriggerNow(context.Background(), "a1", "")
	if err == nil {
		t.Fatal("expected second TriggerNow to be rejected while the first is running")
	}

	close(block)
}

func TestOnTickSkipsWhenAlreadyRunning(t *testing.T) {
	repo := newFakeSchedulerRepo()
	repo.assignments["a1"] = &models.Assignment{ID: "a1", WebSourceID: "w1", SyncMode: models.SyncModeAuto}
	repo.webSources["w1"] = &models.WebSource{ID: "w1"}

	block := make(chan struct{})
	runner := &fakeRunner{blockUntil: block}
	sched := New(repo, runner, 4, nil)

	sched.running["a1"] = struct{}{}
	sched.onTick("a1")
	close(block)

	if atomic.LoadInt32(&runner.calls) != 0 {
		t.Errorf("runner.calls = %d, want 0 (tick should have been skipped)", runner.calls)
	}
}

func TestScheduleRejectsManualScheduleType(t *testing.T) {
	repo := newFakeSchedulerRepo()
	sched := New(repo, &fakeRunner{}, 4, nil)

	err := sched.Schedule(&models.Assignment{ID: "a1", ScheduleType: models.ScheduleTypeManual})
	if err == nil {
		t.Fatal("expected error scheduling a manual-schedule-type assignment")
	}
}

func TestScheduleComputesSpecPerScheduleType(t *testing.T) {
	repo := newFakeSchedulerRepo()
	sched := New(repo, &fakeRunner{}, 4, nil)

	for _, tc := range []struct {
		scheduleType models.ScheduleType
		wantSpec     string
	}{
		{models.ScheduleTypeHourly, "0 * * * *"},
		{models.ScheduleTypeDaily, "0 0 * * *"},
		{models.ScheduleTypeWeekly, "0 0 * * 0"},
	} {
		spec, err := cronSpecFor(&models.Assignment{ScheduleType: tc.scheduleType})
		if err != nil {
			t.Fatalf("cronSpecFor(%s): %v", tc.scheduleType, err)
		}
		if spec != tc.wantSpec {
			t.Errorf("cronSpecFor(%s) = %q, want %q", tc.scheduleType, spec, tc.wantSpec)
		}
	}

	if err := sched.Schedule(&models.Assignment{ID: "a2", ScheduleType: models.ScheduleTypeCron, CronExpression: ""}); err == nil {
		t.Error("expected error for cron schedule type with empty expression")
	}
}

func TestInitializeOnlySchedulesEligibleAssignments(t *testing.T) {
	repo := newFakeSchedulerRepo()
	repo.assignments["active-auto"] = &models.Assignment{ID: "active-auto", Status: models.AssignmentStatusActive, SyncMode: models.SyncModeAuto, ScheduleType: models.ScheduleTypeHourly}
	repo.assignments["active-manual-sched"] = &models.Assignment{ID: "active-manual-sched", Status: models.AssignmentStatusActive, SyncMode: models.SyncModeAuto, ScheduleType: models.ScheduleTypeManual}
	repo.assignments["draft"] = &models.Assignment{ID: "draft", Status: models.AssignmentStatusDraft, SyncMode: models.SyncModeAuto, ScheduleType: models.ScheduleTypeHourly}

	sched := New(repo, &fakeRunner{}, 4, nil)
	if err := sched.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	status := sched.Status()
	if len(status.Scheduled) != 1 || status.Scheduled[0] != "active-auto" {
		t.Errorf("status.Scheduled = %+v, want [active-auto]", status.Scheduled)
	}
	if repo.reapCalls != 1 {
		t.Errorf("reapCalls = %d, want Initialize to reap abandoned jobs once", repo.reapCalls)
	}
}

func TestTriggerNowRejectsWhenProcessAtMaxConcurrentJobs(t *testing.T) {
	repo := newFakeSchedulerRepo()
	repo.assignments["a1"] = &models.Assignment{ID: "a1", WebSourceID: "w1", SyncMode: models.SyncModeManual}
	repo.assignments["a2"] = &models.Assignment{ID: "a2", WebSourceID: "w1", SyncMode: models.SyncModeManual}
	repo.webSources["w1"] = &models.WebSource{ID: "w1"}

	block := make(chan struct{})
	runner := &fakeRunner{blockUntil: block}
	sched := New(repo, runner, 1, nil)

	if _, err := sched.TriggerNow(context.Background(), "a1", ""); err != nil {
		t.Fatalf("first TriggerNow: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&runner.inFlight) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	// a different assignment, so the single-flight guard passes: only
	// the process-wide cap can reject it
	if _, err := sched.TriggerNow(context.Background(), "a2", ""); err == nil {
		t.Fatal("expected TriggerNow for a second assignment to be rejected at capacity 1")
	}

	close(block)

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := sched.TriggerNow(context.Background(), "a2", ""); err == nil {
			return // slot freed after the first run finished
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("slot never freed after the first run completed")
}

func TestOnTickSkipsWhenProcessAtMaxConcurrentJobs(t *testing.T) {
	repo := newFakeSchedulerRepo()
	repo.assignments["a2"] = &models.Assignment{ID: "a2", WebSourceID: "w1", SyncMode: models.SyncModeAuto}
	repo.webSources["w1"] = &models.WebSource{ID: "w1"}

	runner := &fakeRunner{}
	sched := New(repo, runner, 1, nil)

	sched.slots <- struct{}{} // occupy the only slot
	sched.onTick("a2")

	if atomic.LoadInt32(&runner.calls) != 0 {
		t.Errorf("runner.calls = %d, want 0 (tick at capacity must be skipped)", runner.calls)
	}

	status := sched.Status()
	if len(status.Running) != 0 {
		t.Errorf("running = %v, want empty after skipped tick", status.Running)
	}
}

func TestTriggerNowRejectsMisconfiguredAssignmentWithoutCreatingJob(t *testing.T) {
	repo := newFakeSchedulerRepo()
	repo.rules = nil // selector assignment with no active rules
	repo.assignments["a1"] = &models.Assignment{ID: "a1", WebSourceID: "w1", SyncMode: models.SyncModeManual, ExtractionMethod: models.ExtractionMethodSelector}
	repo.webSources["w1"] = &models.WebSource{ID: "w1"}

	sched := New(repo, &fakeRunner{}, 4, nil)

	if _, err := sched.TriggerNow(context.Background(), "a1", ""); err == nil {
		t.Fatal("expected TriggerNow to reject an assignment with no active rules")
	}
	if len(repo.jobs) != 0 {
		t.Errorf("jobs = %d, want 0: config errors must not create job records", len(repo.jobs))
	}

	status := sched.Status()
	if len(status.Running) != 0 {
		t.Errorf("running = %v, want empty after rejected trigger", status.Running)
	}
}
