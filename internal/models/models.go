// Package models defines the domain entities of the extraction engine:
// data sources, web sources, assignments, extraction rules, LLM capture
// configs, jobs, and process logs.
package models

import (
	"encoding/json"
	"time"
)

// DBType identifies a supported relational database dialect.
type DBType string

const (
	DBTypePostgres DBType = "postgresql"
	DBTypeMySQL    DBType = "mysql"
	DBTypeMSSQL    DBType = "mssql"
	DBTypeSQLite   DBType = "sqlite"
)

// ConnectionStatus reflects the last observed health of a DataSource.
type ConnectionStatus string

const (
	ConnectionStatusUnknown   ConnectionStatus = "unknown"
	ConnectionStatusOK        ConnectionStatus = "ok"
	ConnectionStatusFailed    ConnectionStatus = "failed"
)

// DataSource is a connection descriptor for a target relational database.
type DataSource struct {
	ID               string
	DBType           DBType
	Host             string
	Port             int
	Database         string
	Username         string
	Password         string // ciphertext at rest; decrypted on demand via SecretBox
	SSLEnabled       bool
	ConnectionStatus ConnectionStatus
	LastTestedAt     *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ScraperType selects how a WebSource's pages are fetched.
type ScraperType string

const (
	ScraperTypeHTTP    ScraperType = "http"
	ScraperTypeBrowser ScraperType = "browser"
	ScraperTypeHybrid  ScraperType = "hybrid"
)

// AuthType selects how requests to a WebSource are authenticated.
type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeCookie AuthType = "cookie"
	AuthTypeHeader AuthType = "header"
	AuthTypeBasic  AuthType = "basic"
)

// PaginationType selects how an assignment discovers/enumerates listing pages.
type PaginationType string

const (
	PaginationTypeNone        PaginationType = "none"
	PaginationTypeQueryParam  PaginationType = "query_param"
	PaginationTypePath        PaginationType = "path"
	PaginationTypeNextButton  PaginationType = "next_button"
)

// PaginationConfig is the declarative, wire-serializable description of
// how to enumerate pages of a listing site.
type PaginationConfig struct {
	Type       PaginationType `json:"type"`
	ParamName  string         `json:"param_name,omitempty"`
	Selector   string         `json:"selector,omitempty"`
	URLPattern string         `json:"url_pattern,omitempty"`
	MaxPages   int            `json:"max_pages,omitempty"`
	StartPage  int            `json:"start_page,omitempty"`
}

// WebSource describes one or more URLs to scrape plus the scraping policy
// applied to every fetch made against them.
type WebSource struct {
	ID             string
	BaseURL        string
	IsListMode     bool
	URLList        []string
	ScraperType    ScraperType
	AuthType       AuthType
	AuthConfig     json.RawMessage
	RequestDelayMs int
	MaxConcurrent  int
	PaginationType PaginationType
	Pagination     PaginationConfig
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SyncMode controls what happens to extracted rows once a job finishes
// extracting pages.
type SyncMode string

const (
	SyncModeManual SyncMode = "manual"
	SyncModeAuto   SyncMode = "auto"
)

// ScheduleType selects how an assignment's cron spec is derived.
type ScheduleType string

const (
	ScheduleTypeManual ScheduleType = "manual"
	ScheduleTypeHourly ScheduleType = "hourly"
	ScheduleTypeDaily  ScheduleType = "daily"
	ScheduleTypeWeekly ScheduleType = "weekly"
	ScheduleTypeCron   ScheduleType = "cron"
)

// AssignmentStatus is the lifecycle state of an assignment's configuration,
// distinct from any one job's status.
type AssignmentStatus string

const (
	AssignmentStatusDraft   AssignmentStatus = "draft"
	AssignmentStatusTesting AssignmentStatus = "testing"
	AssignmentStatusActive  AssignmentStatus = "active"
	AssignmentStatusPaused  AssignmentStatus = "paused"
	AssignmentStatusError   AssignmentStatus = "error"
)

// ExtractionMethod selects whether an assignment extracts rows via
// selector rules or via an LLM structured-output prompt.
type ExtractionMethod string

const (
	ExtractionMethodSelector ExtractionMethod = "selector"
	ExtractionMethodLLM      ExtractionMethod = "llm"
)

// Assignment binds a web source to a data source and target table, with
// the extraction method and schedule to run it on.
type Assignment struct {
	ID               string
	Name             string
	DataSourceID     string
	WebSourceID      string
	StartURL         string
	TargetSchema     string
	TargetTable      string
	SyncMode         SyncMode
	ScheduleType     ScheduleType
	CronExpression   string
	Status           AssignmentStatus
	ExtractionMethod ExtractionMethod
	LLMCaptureConfig *LLMCaptureConfig
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SelectorType is the language an ExtractionRule's selector is written in.
type SelectorType string

const (
	SelectorTypeCSS   SelectorType = "css"
	SelectorTypeXPath SelectorType = "xpath"
)

// TransformType is a post-extraction value transform applied before the
// field is coerced to its DataType.
type TransformType string

const (
	TransformNone  TransformType = ""
	TransformTrim  TransformType = "trim"
	TransformRegex TransformType = "regex"
	TransformDate  TransformType = "date"
	TransformNumber TransformType = "number"
	TransformJSON  TransformType = "json"
)

// DataType is the target Go/SQL-ish type a rule's extracted value is
// coerced to.
type DataType string

const (
	DataTypeString  DataType = "string"
	DataTypeNumber  DataType = "number"
	DataTypeBoolean DataType = "boolean"
	DataTypeDate    DataType = "date"
	DataTypeJSON    DataType = "json"
)

// RegexTransformConfig configures TransformRegex.
type RegexTransformConfig struct {
	Pattern     string `json:"pattern"`
	Flags       string `json:"flags,omitempty"`
	Group       int    `json:"group,omitempty"`
	Replacement string `json:"replacement,omitempty"`
}

// ExtractionRule maps one selector match to one target column.
// Ordered by SortOrder within an assignment; TargetColumn must be unique
// among the active rules of an assignment.
type ExtractionRule struct {
	ID                string
	AssignmentID      string
	SortOrder         int
	TargetColumn      string
	Selector          string
	SelectorType      SelectorType
	Attribute         string // "text", "html", "href", "src", or any attribute name
	TransformType     TransformType
	TransformConfig   json.RawMessage
	DefaultValue      *string
	DataType          DataType
	IsRequired        bool
	ValidationRegex   string
	IsActive          bool
}

// ColumnMapping associates one target-table column with a field of the
// LLM's JSON output.
type ColumnMapping struct {
	ColumnName  string   `json:"column_name"`
	JSONField   string   `json:"json_field"`
	Description string   `json:"description,omitempty"`
	DataType    DataType `json:"data_type"`
	IsRequired  bool     `json:"is_required"`
}

// LLMCaptureConfig is a reusable structured-output prompt, JSON schema, and
// column mapping for an assignment's LLM extraction path.
type LLMCaptureConfig struct {
	SystemPrompt   string          `json:"system_prompt"`
	JSONSchema     json.RawMessage `json:"json_schema"`
	ColumnMappings []ColumnMapping `json:"column_mappings"`
	Model          string          `json:"model"`
	Temperature    float64         `json:"temperature"`
}

// JobStatus is the lifecycle state of an ExtractionJob.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusStaging   JobStatus = "staging"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// TriggeredBy records what initiated a job.
type TriggeredBy string

const (
	TriggeredByManual   TriggeredBy = "manual"
	TriggeredBySchedule TriggeredBy = "schedule"
	TriggeredByAPI      TriggeredBy = "api"
)

// ExtractionJob is one run of an assignment through the executor.
type ExtractionJob struct {
	ID               string
	AssignmentID     string
	Status           JobStatus
	SyncMode         SyncMode
	TriggeredBy      TriggeredBy
	PagesTotal       int
	PagesProcessed   int
	CurrentURL       string
	RowsExtracted    int
	RowsInserted     int
	RowsFailed       int
	StagedRowCount   int
	StagedDataInline json.RawMessage
	StagedDataPath   string
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ErrorMessage     string
	ErrorDetails     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsTerminal reports whether status is one from which no further
// transition is allowed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// LogLevel is the severity of a ProcessLog entry.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ProcessLog is one append-only progress line for a job.
type ProcessLog struct {
	ID        string
	JobID     string
	Level     LogLevel
	Message   string
	URL       string
	Details   json.RawMessage
	CreatedAt time.Time
}

// MappingSuggestion is an ephemeral (never persisted) proposal pairing a
// detected web field with a target-table column.
type MappingSuggestion struct {
	Confidence      float64
	WebField        string
	DBColumn        string
	TableName       string
	Selector        string
	DataTypeOf      string // the target column's raw SQL type, carried through for ExtractionRule generation
	TransformType   TransformType
	TransformConfig json.RawMessage
}

// ColumnInfo describes one column of a discovered table.
type ColumnInfo struct {
	Name          string
	Type          string // raw dialect type string
	Nullable      bool
	IsPrimaryKey  bool
	DefaultValue  *string
}

// TableInfo describes one discovered table and its columns.
type TableInfo struct {
	Schema  string
	Table   string
	Columns []ColumnInfo
}

// DatabaseSchema is the projection of ListTables() used by the mapper.
type DatabaseSchema struct {
	Tables []TableInfo
}
