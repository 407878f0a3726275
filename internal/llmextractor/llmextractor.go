// Package llmextractor implements the two-phase LLM-backed extraction
// path: analyzing a sample page to propose which columns an LLM can
// populate, building a reusable capture config (system prompt + JSON
// schema + column mappings), and running that config against a page at
// extraction time.
package llmextractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Fazmin/syncengine/internal/llmclient"
	"github.com/Fazmin/syncengine/internal/models"
)

// defaultTemperature keeps runtime extraction nearly deterministic.
const defaultTemperature = 0.1

// requiredConfidence is the analysis confidence at or above which a
// column is marked required in the capture schema.
const requiredConfidence = 0.7

// Extractor runs both phases of LLM-backed extraction against an
// injected llmclient.LLMClient.
type Extractor struct {
	client llmclient.LLMClient
}

// New builds an Extractor around client.
func New(client llmclient.LLMClient) *Extractor {
	return &Extractor{client: client}
}

// ColumnAvailability is one column's verdict from phase 1 analysis: can
// the LLM reasonably populate it from the sample page, and if so with
// what confidence and rationale.
type ColumnAvailability struct {
	ColumnName     string  `json:"column_name"`
	Available      bool    `json:"available"`
	Confidence     float64 `json:"confidence"`
	SampleValue    string  `json:"sample_value,omitempty"`
	Rationale      string  `json:"rationale"`
	ExtractionHint string  `json:"extraction_hint,omitempty"`
}

// ColumnSelection pairs a column accepted after phase 1 with the
// confidence the analysis assigned it, which decides whether the capture
// schema marks the column required.
type ColumnSelection struct {
	Column      models.ColumnInfo
	Confidence  float64
	Description string
}

// AnalyzeColumns is phase 1: given a sample page's text content and the
// target table's column list, ask the LLM which columns it could
// plausibly fill in and how confident it is. Auto-generated columns
// (identity primary keys, created_at/updated_at timestamps) are marked
// unavailable without consulting the LLM. An LLM failure degrades to
// all-unavailable verdicts rather than an error, so callers always get
// one verdict per column.
func (e *Extractor) AnalyzeColumns(ctx context.Context, model, pageText string, columns []models.ColumnInfo) ([]ColumnAvailability, error) {
	verdicts := make([]ColumnAvailability, len(columns))
	askable := make([]models.ColumnInfo, 0, len(columns))
	askableIdx := make(map[string]int, len(columns))

	for i, col := range columns {
		if isAutoGenerated(col) {
			verdicts[i] = ColumnAvailability{ColumnName: col.Name, Available: false, Rationale: "Auto-generated column"}
			continue
		}
		verdicts[i] = ColumnAvailability{ColumnName: col.Name}
		askableIdx[col.Name] = i
		askable = append(askable, col)
	}

	if len(askable) == 0 {
		return verdicts, nil
	}

	analyzed, err := e.callAnalysis(ctx, model, pageText, askable)
	if err != nil {
		for name, i := range askableIdx {
			verdicts[i] = ColumnAvailability{ColumnName: name, Available: false, Rationale: "LLM analysis failed"}
		}
		return verdicts, nil
	}

	for _, av := range analyzed {
		if i, ok := askableIdx[av.ColumnName]; ok {
			verdicts[i] = av
		}
	}
	for name, i := range askableIdx {
		if verdicts[i].Rationale == "" && !verdicts[i].Available {
			verdicts[i] = ColumnAvailability{ColumnName: name, Available: false, Rationale: "LLM analysis failed"}
		}
	}

	return verdicts, nil
}

// isAutoGenerated reports whether col is populated by the database
// itself: an identity/serial primary key, or a created_at/updated_at
// style timestamp.
func isAutoGenerated(col models.ColumnInfo) bool {
	t := strings.ToLower(col.Type)
	name := strings.ToLower(col.Name)

	if col.IsPrimaryKey && (strings.Contains(t, "int") || strings.Contains(t, "serial")) {
		return true
	}
	if col.DefaultValue != nil && strings.Contains(strings.ToLower(*col.DefaultValue), "nextval") {
		return true
	}

	switch name {
	case "created_at", "updated_at", "createdat", "updatedat":
		return strings.Contains(t, "time") || strings.Contains(t, "date")
	}
	return false
}

func (e *Extractor) callAnalysis(ctx context.Context, model, pageText string, columns []models.ColumnInfo) ([]ColumnAvailability, error) {
	result, err := e.client.Call(ctx, llmclient.CallOptions{
		Model:        model,
		SystemPrompt: analysisSystemPrompt,
		UserPrompt:   buildAnalysisPrompt(pageText, columns),
		JSONSchema:   columnAvailabilitySchema(),
		Temperature:  0,
		MaxTokens:    2048,
	})
	if err != nil {
		return nil, fmt.Errorf("llmextractor: analyze columns: %w", err)
	}

	var wrapper struct {
		Columns []ColumnAvailability `json:"columns"`
	}
	if err := json.Unmarshal([]byte(result.Content), &wrapper); err != nil {
		return nil, fmt.Errorf("llmextractor: decode column availability: %w", err)
	}
	return wrapper.Columns, nil
}

const analysisSystemPrompt = `You analyze a single rendered web page and decide, for each
candidate database column, whether a later extraction pass could reliably populate it
from this page's content. Be conservative: mark a column unavailable if the page does
not clearly contain the information, rather than guessing.`

// buildAnalysisPrompt assembles the column-availability prompt: describe
// the page, then enumerate candidate columns.
func buildAnalysisPrompt(pageText string, columns []models.ColumnInfo) string {
	var sb strings.Builder
	sb.WriteString("Page content (truncated):\n")
	sb.WriteString(truncate(pageText, 8000))
	sb.WriteString("\n\nCandidate columns:\n")
	for _, col := range columns {
		sb.WriteString(fmt.Sprintf("- %s (%s)\n", col.Name, col.Type))
	}
	sb.WriteString("\nFor each candidate column, decide if it is available on this page.")
	return sb.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...[truncated]"
}

func columnAvailabilitySchema() []byte {
	return []byte(`{
		"type": "object",
		"properties": {
			"columns": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"column_name": {"type": "string"},
						"available": {"type": "boolean"},
						"confidence": {"type": "number"},
						"sample_value": {"type": "string"},
						"rationale": {"type": "string"},
						"extraction_hint": {"type": "string"}
					},
					"required": ["column_name", "available", "confidence", "rationale"]
				}
			}
		},
		"required": ["columns"]
	}`)
}

// BuildCaptureConfig is phase 2: given the columns selected after phase 1
// (typically those the caller decided to keep after reviewing
// AnalyzeColumns' verdicts), produce a reusable LLMCaptureConfig —
// system prompt, JSON schema, and column mappings — that ExtractStructured
// can run repeatedly against every page of the assignment. The system
// prompt is itself LLM-authored where possible, falling back to a
// deterministic template when the call fails.
func (e *Extractor) BuildCaptureConfig(ctx context.Context, model, tableName string, selections []ColumnSelection, instructions string) (*models.LLMCaptureConfig, error) {
	if len(selections) == 0 {
		return nil, fmt.Errorf("llmextractor: no columns selected for capture config")
	}

	mappings := make([]models.ColumnMapping, 0, len(selections))
	itemProperties := make(map[string]any, len(selections))
	itemRequired := make([]string, 0, len(selections))

	for _, sel := range selections {
		col := sel.Column
		required := sel.Confidence >= requiredConfidence
		mappings = append(mappings, models.ColumnMapping{
			ColumnName:  col.Name,
			JSONField:   col.Name,
			Description: sel.Description,
			DataType:    mapSQLTypeToDataType(col.Type),
			IsRequired:  required,
		})
		itemProperties[col.Name] = map[string]any{"type": jsonSchemaType(col.Type)}
		if required {
			itemRequired = append(itemRequired, col.Name)
		}
	}

	schema := map[string]any{
		"type":     "object",
		"required": []string{"items"},
		"properties": map[string]any{
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":       "object",
					"properties": itemProperties,
					"required":   itemRequired,
				},
			},
		},
	}
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("llmextractor: marshal capture schema: %w", err)
	}

	systemPrompt := e.composeSystemPrompt(ctx, model, tableName, mappings, instructions)

	return &models.LLMCaptureConfig{
		SystemPrompt:   systemPrompt,
		JSONSchema:     schemaJSON,
		ColumnMappings: mappings,
		Model:          model,
		Temperature:    defaultTemperature,
	}, nil
}

// composeSystemPrompt asks the LLM to author the capture prompt from the
// column list, falling back to a deterministic template on any failure.
func (e *Extractor) composeSystemPrompt(ctx context.Context, model, tableName string, mappings []models.ColumnMapping, instructions string) string {
	var fields strings.Builder
	for _, m := range mappings {
		fields.WriteString(fmt.Sprintf("- %s (%s)", m.JSONField, m.DataType))
		if m.Description != "" {
			fields.WriteString(": " + m.Description)
		}
		fields.WriteString("\n")
	}

	result, err := e.client.Call(ctx, llmclient.CallOptions{
		Model: model,
		SystemPrompt: "You write concise system prompts for a structured-data extraction " +
			"model. Respond with the prompt text only, no preamble.",
		UserPrompt: fmt.Sprintf(
			"Write a system prompt instructing a model to extract records for the table %q "+
				"from a web page's content and return them as a JSON object with an `items` "+
				"array. The fields per item:\n%s", tableName, fields.String()),
		Temperature: 0,
		MaxTokens:   1024,
	})
	if err == nil && strings.TrimSpace(result.Content) != "" {
		prompt := strings.TrimSpace(result.Content)
		if instructions != "" {
			prompt += "\n\nAdditional instructions:\n" + instructions
		}
		return prompt
	}

	return fallbackSystemPrompt(tableName, mappings, instructions)
}

func fallbackSystemPrompt(tableName string, mappings []models.ColumnMapping, instructions string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Extract records for %s from the page content. Return a JSON object with an `items` array, one object per record, with these fields:\n", tableName))
	for _, m := range mappings {
		sb.WriteString(fmt.Sprintf("- %s (%s)", m.JSONField, m.DataType))
		if m.Description != "" {
			sb.WriteString(": " + m.Description)
		}
		sb.WriteString("\n")
	}
	if instructions != "" {
		sb.WriteString("\nAdditional instructions:\n")
		sb.WriteString(instructions)
	}
	sb.WriteString("\nIf a field cannot be found, omit it rather than guessing.")
	return sb.String()
}

func mapSQLTypeToDataType(sqlType string) models.DataType {
	t := strings.ToLower(sqlType)
	switch {
	case strings.Contains(t, "int") || strings.Contains(t, "numeric") || strings.Contains(t, "decimal") || strings.Contains(t, "float") || strings.Contains(t, "double") || strings.Contains(t, "real"):
		return models.DataTypeNumber
	case strings.Contains(t, "bool"):
		return models.DataTypeBoolean
	case strings.Contains(t, "date") || strings.Contains(t, "time"):
		return models.DataTypeDate
	case strings.Contains(t, "json"):
		return models.DataTypeJSON
	default:
		return models.DataTypeString
	}
}

// jsonSchemaType maps a raw SQL type to the JSON schema type the capture
// schema declares: numerics become number, booleans boolean, everything
// else (dates, json, text) string.
func jsonSchemaType(sqlType string) string {
	t := strings.ToLower(sqlType)
	switch {
	case strings.Contains(t, "int") || strings.Contains(t, "numeric") || strings.Contains(t, "decimal") || strings.Contains(t, "float") || strings.Contains(t, "double") || strings.Contains(t, "real"):
		return "number"
	case strings.Contains(t, "bool"):
		return "boolean"
	default:
		return "string"
	}
}

// ExtractStructured is the runtime path: run cfg's capture config against
// one page's content and return one row per item of the model's `items`
// array, retrying once if the first attempt returns content that fails
// schema decoding. Rows the model returns empty are dropped.
func (e *Extractor) ExtractStructured(ctx context.Context, cfg *models.LLMCaptureConfig, pageText string) ([]map[string]any, error) {
	rows, _, err := e.ExtractStructuredRaw(ctx, cfg, pageText)
	return rows, err
}

// ExtractStructuredRaw is ExtractStructured plus the model's raw
// response text, for debug capture on sample runs. raw carries the last
// attempt's content even when decoding failed, so an operator can see
// exactly what the prompt produced.
func (e *Extractor) ExtractStructuredRaw(ctx context.Context, cfg *models.LLMCaptureConfig, pageText string) ([]map[string]any, string, error) {
	var lastErr error
	var lastRaw string
	for attempt := 0; attempt < 2; attempt++ {
		result, err := e.client.Call(ctx, llmclient.CallOptions{
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
			UserPrompt:   truncate(pageText, 12000),
			JSONSchema:   cfg.JSONSchema,
			Temperature:  cfg.Temperature,
			MaxTokens:    4096,
		})
		if err != nil {
			lastErr = err
			continue
		}
		lastRaw = result.Content

		var wrapper struct {
			Items []map[string]any `json:"items"`
		}
		if err := json.Unmarshal([]byte(result.Content), &wrapper); err != nil {
			lastErr = fmt.Errorf("decode structured output: %w", err)
			continue
		}

		rows := make([]map[string]any, 0, len(wrapper.Items))
		for _, item := range wrapper.Items {
			row := mapItemToRow(item, cfg.ColumnMappings)
			if len(row) > 0 {
				rows = append(rows, row)
			}
		}
		return rows, lastRaw, nil
	}

	return nil, lastRaw, fmt.Errorf("llmextractor: extract structured after retry: %w", lastErr)
}

// mapItemToRow builds a column-keyed row from one item of the model's
// output. A required field the model omitted becomes an explicit null; a
// non-required omitted field is dropped from the row entirely.
func mapItemToRow(item map[string]any, mappings []models.ColumnMapping) map[string]any {
	row := make(map[string]any, len(mappings))
	populated := 0
	for _, m := range mappings {
		v, ok := item[m.JSONField]
		switch {
		case ok:
			row[m.ColumnName] = v
			if v != nil {
				populated++
			}
		case m.IsRequired:
			row[m.ColumnName] = nil
		}
	}
	if populated == 0 {
		return nil
	}
	return row
}
