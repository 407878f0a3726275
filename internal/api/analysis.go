package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Fazmin/syncengine/internal/connector"
	"github.com/Fazmin/syncengine/internal/llmextractor"
	"github.com/Fazmin/syncengine/internal/mapper"
	"github.com/Fazmin/syncengine/internal/models"
	"github.com/Fazmin/syncengine/internal/repository"
	"github.com/Fazmin/syncengine/internal/scraper"
)

// pageFetcher mirrors executor's narrow interface over *scraper.Scraper,
// kept package-local so a test can fake a sample fetch without a real
// HTTP/browser round trip.
type pageFetcher interface {
	Fetch(ctx context.Context, url string, ws *models.WebSource) (*scraper.FetchResult, error)
}

// columnAnalyzer is satisfied by *llmextractor.Extractor.
type columnAnalyzer interface {
	AnalyzeColumns(ctx context.Context, model, pageText string, columns []models.ColumnInfo) ([]llmextractor.ColumnAvailability, error)
	BuildCaptureConfig(ctx context.Context, model, tableName string, selections []llmextractor.ColumnSelection, instructions string) (*models.LLMCaptureConfig, error)
}

// mappingSuggester is satisfied by *mapper.Mapper.
type mappingSuggester interface {
	SuggestMappings(ctx context.Context, analysis *scraper.StructureAnalysis, table models.TableInfo) []models.MappingSuggestion
}

// SecretDecrypter mirrors executor.SecretDecrypter, declared again here
// per the narrow-interface-per-consumer idiom used throughout.
type SecretDecrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// MappingSuggestionResult is SuggestMappings' response shape.
type MappingSuggestionResult struct {
	ProposedRules []models.ExtractionRule
	Suggestions   []models.MappingSuggestion
}

// AnalysisSummary totals a mapping or LLM-availability pass over a
// target table's columns.
type AnalysisSummary struct {
	TotalColumns      int
	MappedColumns     int
	UnmappedColumns   int
	AverageConfidence float64
}

// SchemaAwareAnalysis is AnalyzeWithSchema's response shape.
type SchemaAwareAnalysis struct {
	ProposedMappings []models.MappingSuggestion
	Summary          AnalysisSummary
}

// ColumnAnalysisResult is one column's entry in LLMAnalysisResult.Columns.
type ColumnAnalysisResult struct {
	ColumnName string
	Available  bool
	Confidence float64
	Rationale  string
}

// LLMAnalysisSummary totals an LLMAnalyze pass.
type LLMAnalysisSummary struct {
	TotalColumns       int
	AvailableColumns   int
	UnavailableColumns int
}

// LLMAnalysisResult is LLMAnalyze's response shape.
type LLMAnalysisResult struct {
	AssignmentID   string
	AssignmentName string
	TargetTable    string
	DataSourceName string
	Columns        []ColumnAnalysisResult
	Summary        LLMAnalysisSummary
}

// CaptureResult is LLMCreateCapture's response shape.
type CaptureResult struct {
	Message       string
	CaptureConfig *models.LLMCaptureConfig
}

// AnalysisAPI proposes column mappings and builds LLM capture configs by
// pairing a web source's detected structure (or an LLM's judgment)
// against a target database table's schema.
type AnalysisAPI struct {
	repo         repository.Repository
	fetcher      pageFetcher
	llm          columnAnalyzer
	mapper       mappingSuggester
	secretBox    SecretDecrypter
	newConnector func(models.DBType) (connector.Connector, error)
	logger       *slog.Logger
}

// NewAnalysisAPI builds an AnalysisAPI. llm may be nil if no assignment
// in the deployment uses LLM-backed analysis; calls to LLMAnalyze or
// LLMCreateCapture will then return an error. suggester is typically
// the process's *mapper.Mapper; a nil suggester disables SuggestMappings
// and AnalyzeWithSchema.
func NewAnalysisAPI(repo repository.Repository, fetcher pageFetcher, llm columnAnalyzer, suggester mappingSuggester, secretBox SecretDecrypter, logger *slog.Logger) *AnalysisAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisAPI{
		repo:         repo,
		fetcher:      fetcher,
		llm:          llm,
		mapper:       suggester,
		secretBox:    secretBox,
		newConnector: connector.New,
		logger:       logger,
	}
}

// SuggestMappings proposes ExtractionRule candidates for assignmentID by
// fetching its web source's start page, detecting its structure, and
// scoring each detected field against the target table's columns.
func (a *AnalysisAPI) SuggestMappings(ctx context.Context, assignmentID string) (*MappingSuggestionResult, error) {
	if a.mapper == nil {
		return nil, fmt.Errorf("api: no mapping suggester configured")
	}

	assignment, ws, table, err := a.loadAssignmentAndTable(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	analysis, err := a.analyzeStartPage(ctx, assignment, ws)
	if err != nil {
		return nil, err
	}

	suggestions := a.mapper.SuggestMappings(ctx, analysis, *table)
	rules := mapper.MappingsToExtractionRules(assignmentID, suggestions)
	return &MappingSuggestionResult{ProposedRules: rules, Suggestions: suggestions}, nil
}

// AnalyzeWithSchema is SuggestMappings plus a coverage summary, driven
// directly off webSourceID rather than an assignment's own web source
// (used by the UI to preview a mapping before an assignment exists).
func (a *AnalysisAPI) AnalyzeWithSchema(ctx context.Context, webSourceID, assignmentID string) (*SchemaAwareAnalysis, error) {
	if a.mapper == nil {
		return nil, fmt.Errorf("api: no mapping suggester configured")
	}

	ws, err := a.repo.GetWebSource(ctx, webSourceID)
	if err != nil {
		return nil, fmt.Errorf("api: load web source: %w", err)
	}
	assignment, _, table, err := a.loadAssignmentAndTable(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	analysis, err := a.analyzeStartPage(ctx, assignment, ws)
	if err != nil {
		return nil, err
	}

	suggestions := a.mapper.SuggestMappings(ctx, analysis, *table)

	total := len(table.Columns)
	mapped := len(suggestions)
	var confidenceSum float64
	for _, s := range suggestions {
		confidenceSum += s.Confidence
	}
	avg := 0.0
	if mapped > 0 {
		avg = confidenceSum / float64(mapped)
	}

	return &SchemaAwareAnalysis{
		ProposedMappings: suggestions,
		Summary: AnalysisSummary{
			TotalColumns:      total,
			MappedColumns:     mapped,
			UnmappedColumns:   total - mapped,
			AverageConfidence: avg,
		},
	}, nil
}

// LLMAnalyze asks the configured LLM which of the target table's columns
// it could plausibly populate from assignmentID's start page, without
// committing to a capture config.
func (a *AnalysisAPI) LLMAnalyze(ctx context.Context, assignmentID string) (*LLMAnalysisResult, error) {
	if a.llm == nil {
		return nil, fmt.Errorf("api: no llm column analyzer configured")
	}

	assignment, ws, table, err := a.loadAssignmentAndTable(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	ds, err := a.dataSourceFor(ctx, assignment)
	if err != nil {
		return nil, err
	}

	pageText, err := a.fetchPageText(ctx, assignment, ws)
	if err != nil {
		return nil, err
	}

	model := ""
	if assignment.LLMCaptureConfig != nil {
		model = assignment.LLMCaptureConfig.Model
	}

	availability, err := a.llm.AnalyzeColumns(ctx, model, pageText, table.Columns)
	if err != nil {
		return nil, fmt.Errorf("api: llm column analysis: %w", err)
	}

	columns := make([]ColumnAnalysisResult, 0, len(availability))
	available := 0
	for _, av := range availability {
		if av.Available {
			available++
		}
		columns = append(columns, ColumnAnalysisResult{
			ColumnName: av.ColumnName,
			Available:  av.Available,
			Confidence: av.Confidence,
			Rationale:  av.Rationale,
		})
	}

	return &LLMAnalysisResult{
		AssignmentID:   assignment.ID,
		AssignmentName: assignment.Name,
		TargetTable:    qualifiedTable(assignment.TargetSchema, assignment.TargetTable),
		DataSourceName: ds.Database,
		Columns:        columns,
		Summary: LLMAnalysisSummary{
			TotalColumns:       len(availability),
			AvailableColumns:   available,
			UnavailableColumns: len(availability) - available,
		},
	}, nil
}

// ColumnChoice names one column accepted for LLM capture, carrying the
// analysis confidence LLMAnalyze assigned it (which decides whether the
// capture schema marks it required).
type ColumnChoice struct {
	ColumnName string
	Confidence float64
}

// LLMCreateCapture builds and persists an LLMCaptureConfig for
// assignmentID restricted to the chosen columns, flipping the
// assignment's extraction method to llm. Choices naming columns the
// target table does not have are rejected.
func (a *AnalysisAPI) LLMCreateCapture(ctx context.Context, assignmentID string, choices []ColumnChoice) (*CaptureResult, error) {
	if a.llm == nil {
		return nil, fmt.Errorf("api: no llm column analyzer configured")
	}

	assignment, _, table, err := a.loadAssignmentAndTable(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	columnsByName := make(map[string]models.ColumnInfo, len(table.Columns))
	for _, c := range table.Columns {
		columnsByName[c.Name] = c
	}

	selections := make([]llmextractor.ColumnSelection, 0, len(choices))
	for _, choice := range choices {
		col, ok := columnsByName[choice.ColumnName]
		if !ok {
			return nil, fmt.Errorf("api: column %q not found on table %s", choice.ColumnName, assignment.TargetTable)
		}
		selections = append(selections, llmextractor.ColumnSelection{Column: col, Confidence: choice.Confidence})
	}

	model := ""
	if assignment.LLMCaptureConfig != nil {
		model = assignment.LLMCaptureConfig.Model
	}

	cfg, err := a.llm.BuildCaptureConfig(ctx, model, assignment.TargetTable, selections, "")
	if err != nil {
		return nil, fmt.Errorf("api: build capture config: %w", err)
	}

	assignment.LLMCaptureConfig = cfg
	assignment.ExtractionMethod = models.ExtractionMethodLLM
	if err := a.repo.UpdateAssignment(ctx, assignment); err != nil {
		return nil, fmt.Errorf("api: persist capture config: %w", err)
	}

	return &CaptureResult{
		Message:       fmt.Sprintf("capture config created for %d column(s)", len(cfg.ColumnMappings)),
		CaptureConfig: cfg,
	}, nil
}

func (a *AnalysisAPI) loadAssignmentAndTable(ctx context.Context, assignmentID string) (*models.Assignment, *models.WebSource, *models.TableInfo, error) {
	assignment, err := a.repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("api: load assignment: %w", err)
	}
	ws, err := a.repo.GetWebSource(ctx, assignment.WebSourceID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("api: load web source: %w", err)
	}

	table, err := a.targetTable(ctx, assignment)
	if err != nil {
		return nil, nil, nil, err
	}
	return assignment, ws, table, nil
}

func (a *AnalysisAPI) targetTable(ctx context.Context, assignment *models.Assignment) (*models.TableInfo, error) {
	ds, err := a.dataSourceFor(ctx, assignment)
	if err != nil {
		return nil, err
	}

	password, err := a.secretBox.Decrypt(ds.Password)
	if err != nil {
		return nil, fmt.Errorf("api: decrypt data source credential: %w", err)
	}

	conn, err := a.newConnector(ds.DBType)
	if err != nil {
		return nil, fmt.Errorf("api: build connector: %w", err)
	}
	if err := conn.Open(ctx, ds, password); err != nil {
		return nil, fmt.Errorf("api: open target database: %w", err)
	}
	defer conn.Close()

	schema, err := conn.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("api: list tables: %w", err)
	}

	for i := range schema.Tables {
		t := &schema.Tables[i]
		if t.Table == assignment.TargetTable && (assignment.TargetSchema == "" || t.Schema == assignment.TargetSchema) {
			return t, nil
		}
	}
	return nil, fmt.Errorf("api: target table %s not found in data source %s", qualifiedTable(assignment.TargetSchema, assignment.TargetTable), ds.ID)
}

func (a *AnalysisAPI) dataSourceFor(ctx context.Context, assignment *models.Assignment) (*models.DataSource, error) {
	ds, err := a.repo.GetDataSource(ctx, assignment.DataSourceID)
	if err != nil {
		return nil, fmt.Errorf("api: load data source: %w", err)
	}
	return ds, nil
}

func (a *AnalysisAPI) analyzeStartPage(ctx context.Context, assignment *models.Assignment, ws *models.WebSource) (*scraper.StructureAnalysis, error) {
	sourceURL := assignment.StartURL
	if sourceURL == "" {
		sourceURL = ws.BaseURL
	}
	fetchResult, err := a.fetcher.Fetch(ctx, sourceURL, ws)
	if err != nil {
		return nil, fmt.Errorf("api: fetch start page: %w", err)
	}
	analysis, err := scraper.AnalyzeStructure(fetchResult.HTML)
	if err != nil {
		return nil, fmt.Errorf("api: analyze page structure: %w", err)
	}
	return analysis, nil
}

func (a *AnalysisAPI) fetchPageText(ctx context.Context, assignment *models.Assignment, ws *models.WebSource) (string, error) {
	sourceURL := assignment.StartURL
	if sourceURL == "" {
		sourceURL = ws.BaseURL
	}
	fetchResult, err := a.fetcher.Fetch(ctx, sourceURL, ws)
	if err != nil {
		return "", fmt.Errorf("api: fetch start page: %w", err)
	}
	return scraper.PageText(fetchResult.HTML)
}

func qualifiedTable(schema, table string) string {
	if schema == "" {
		return table
	}
	return schema + "." + table
}
