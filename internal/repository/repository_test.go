package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Fazmin/syncengine/internal/models"
)

func openTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	repo, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestDataSourceCreateGetRoundTrip(t *testing.T) {
	repo := openTestRepository(t)
	ctx := context.Background()

	ds := &models.DataSource{
		DBType:   models.DBTypePostgres,
		Host:     "localhost",
		Port:     5432,
		Database: "orders",
		Username: "app",
		Password: "ciphertext",
	}
	if err := repo.CreateDataSource(ctx, ds); err != nil {
		t.Fatalf("CreateDataSource: %v", err)
	}
	if ds.ID == "" {
		t.Fatal("expected generated ID")
	}

	got, err := repo.GetDataSource(ctx, ds.ID)
	if err != nil {
		t.Fatalf("GetDataSource: %v", err)
	}
	if got.Host != "localhost" || got.Database != "orders" {
		t.Errorf("got = %+v", got)
	}
}

func TestGetDataSourceNotFound(t *testing.T) {
	repo := openTestRepository(t)
	_, err := repo.GetDataSource(context.Background(), "missing")
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAssignmentExtractionRulesRoundTrip(t *testing.T) {
	repo := openTestRepository(t)
	ctx := context.Background()

	ds := &models.DataSource{DBType: models.DBTypeSQLite, Database: "test.db"}
	if err := repo.CreateDataSource(ctx, ds); err != nil {
		t.Fatalf("CreateDataSource: %v", err)
	}
	ws := &models.WebSource{BaseURL: "https://example.com", ScraperType: models.ScraperTypeHTTP, MaxConcurrent: 1}
	if err := repo.CreateWebSource(ctx, ws); err != nil {
		t.Fatalf("CreateWebSource: %v", err)
	}

	assignment := &models.Assignment{
		Name:         "example",
		DataSourceID: ds.ID,
		WebSourceID:  ws.ID,
		StartURL:     "https://example.com/products",
		TargetTable:  "products",
		Status:       models.AssignmentStatusDraft,
	}
	if err := repo.CreateAssignment(ctx, assignment); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	rules := []models.ExtractionRule{
		{TargetColumn: "title", Selector: ".title", SelectorType: models.SelectorTypeCSS, DataType: models.DataTypeString, IsActive: true},
		{TargetColumn: "price", Selector: ".price", SelectorType: models.SelectorTypeCSS, DataType: models.DataTypeNumber, IsActive: true},
	}
	if err := repo.ReplaceExtractionRules(ctx, assignment.ID, rules); err != nil {
		t.Fatalf("ReplaceExtractionRules: %v", err)
	}

	got, err := repo.ListExtractionRules(ctx, assignment.ID)
	if err != nil {
		t.Fatalf("ListExtractionRules: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rules, want 2", len(got))
	}
	if got[0].TargetColumn != "title" || got[1].TargetColumn != "price" {
		t.Errorf("unexpected rule order: %+v", got)
	}
}

func TestJobLifecycleAndLogs(t *testing.T) {
	repo := openTestRepository(t)
	ctx := context.Background()

	ds := &models.DataSource{DBType: models.DBTypeSQLite, Database: "test.db"}
	repo.CreateDataSource(ctx, ds)
	ws := &models.WebSource{BaseURL: "https://example.com", MaxConcurrent: 1}
	repo.CreateWebSource(ctx, ws)
	assignment := &models.Assignment{Name: "a", DataSourceID: ds.ID, WebSourceID: ws.ID, StartURL: "https://example.com", TargetTable: "t"}
	if err := repo.CreateAssignment(ctx, assignment); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	job := &models.ExtractionJob{AssignmentID: assignment.ID, Status: models.JobStatusPending, TriggeredBy: models.TriggeredByManual}
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	job.Status = models.JobStatusRunning
	job.PagesProcessed = 1
	if err := repo.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	if err := repo.AppendLog(ctx, &models.ProcessLog{JobID: job.ID, Level: models.LogLevelInfo, Message: "started"}); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}

	logs, err := repo.ListLogs(ctx, job.ID, 10)
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].Message != "started" {
		t.Errorf("logs = %+v", logs)
	}

	got, err := repo.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.JobStatusRunning || got.PagesProcessed != 1 {
		t.Errorf("got = %+v", got)
	}
}

func TestReapStaleRunningJobsFailsAbandonedJobsOnly(t *testing.T) {
	repo := openTestRepository(t)
	ctx := context.Background()

	ds := &models.DataSource{DBType: models.DBTypeSQLite, Database: "test.db"}
	repo.CreateDataSource(ctx, ds)
	ws := &models.WebSource{BaseURL: "https://example.com", MaxConcurrent: 1}
	repo.CreateWebSource(ctx, ws)
	assignment := &models.Assignment{Name: "a", DataSourceID: ds.ID, WebSourceID: ws.ID, StartURL: "https://example.com", TargetTable: "t"}
	if err := repo.CreateAssignment(ctx, assignment); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	running := &models.ExtractionJob{AssignmentID: assignment.ID, Status: models.JobStatusRunning}
	repo.CreateJob(ctx, running)
	done := &models.ExtractionJob{AssignmentID: assignment.ID, Status: models.JobStatusCompleted}
	repo.CreateJob(ctx, done)

	// simulate a restart: anything still pending/running is abandoned
	time.Sleep(10 * time.Millisecond)
	reaped, err := repo.ReapStaleRunningJobs(ctx, 0)
	if err != nil {
		t.Fatalf("ReapStaleRunningJobs: %v", err)
	}
	if reaped != 1 {
		t.Errorf("reaped = %d, want 1", reaped)
	}

	got, _ := repo.GetJob(ctx, running.ID)
	if got.Status != models.JobStatusFailed {
		t.Errorf("running job status = %q, want failed", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Error("expected an abandonment error message")
	}

	untouched, _ := repo.GetJob(ctx, done.ID)
	if untouched.Status != models.JobStatusCompleted {
		t.Errorf("completed job status = %q, must stay completed", untouched.Status)
	}
}
