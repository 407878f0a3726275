// Package repository implements the engine's control-plane persistence:
// CRUD for data sources, web sources, assignments, extraction rules,
// jobs, and process logs, backed by a SQLite/libsql database and
// golang-migrate schema migrations.
package repository

import (
	"context"
	"embed"
	"errors"
	"time"

	"github.com/Fazmin/syncengine/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// ErrNotFound is returned by single-entity getters when no row matches.
var ErrNotFound = errors.New("repository: not found")

// DataSourceRepository persists DataSource connection descriptors.
type DataSourceRepository interface {
	CreateDataSource(ctx context.Context, ds *models.DataSource) error
	GetDataSource(ctx context.Context, id string) (*models.DataSource, error)
	ListDataSources(ctx context.Context) ([]models.DataSource, error)
	UpdateDataSource(ctx context.Context, ds *models.DataSource) error
	DeleteDataSource(ctx context.Context, id string) error
}

// WebSourceRepository persists WebSource scraping configs.
type WebSourceRepository interface {
	CreateWebSource(ctx context.Context, ws *models.WebSource) error
	GetWebSource(ctx context.Context, id string) (*models.WebSource, error)
	ListWebSources(ctx context.Context) ([]models.WebSource, error)
	UpdateWebSource(ctx context.Context, ws *models.WebSource) error
	DeleteWebSource(ctx context.Context, id string) error
}

// AssignmentRepository persists Assignment configs and their extraction
// rules.
type AssignmentRepository interface {
	CreateAssignment(ctx context.Context, a *models.Assignment) error
	GetAssignment(ctx context.Context, id string) (*models.Assignment, error)
	ListAssignments(ctx context.Context) ([]models.Assignment, error)
	ListActiveAssignments(ctx context.Context) ([]models.Assignment, error)
	UpdateAssignment(ctx context.Context, a *models.Assignment) error
	DeleteAssignment(ctx context.Context, id string) error

	ReplaceExtractionRules(ctx context.Context, assignmentID string, rules []models.ExtractionRule) error
	ListExtractionRules(ctx context.Context, assignmentID string) ([]models.ExtractionRule, error)
}

// JobRepository persists ExtractionJob state and append-only ProcessLog
// entries.
type JobRepository interface {
	CreateJob(ctx context.Context, job *models.ExtractionJob) error
	GetJob(ctx context.Context, id string) (*models.ExtractionJob, error)
	ListJobsByAssignment(ctx context.Context, assignmentID string, limit int) ([]models.ExtractionJob, error)
	UpdateJob(ctx context.Context, job *models.ExtractionJob) error

	// ReapStaleRunningJobs marks every job still pending/running whose
	// last update is older than maxAge as failed, for crash recovery at
	// process start. Returns how many jobs were reaped.
	ReapStaleRunningJobs(ctx context.Context, maxAge time.Duration) (int, error)

	AppendLog(ctx context.Context, log *models.ProcessLog) error
	ListLogs(ctx context.Context, jobID string, limit int) ([]models.ProcessLog, error)
}

// Repository is the Core Repository Interface: every control-plane
// persistence operation the engine needs, composed from the
// entity-scoped interfaces above so callers can depend on a narrower
// slice where that's all they need.
type Repository interface {
	DataSourceRepository
	WebSourceRepository
	AssignmentRepository
	JobRepository

	Close() error
}
