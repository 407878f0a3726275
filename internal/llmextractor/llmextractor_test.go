package llmextractor

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/Fazmin/syncengine/internal/llmclient"
	"github.com/Fazmin/syncengine/internal/models"
)

type fakeLLMClient struct {
	responses []string
	calls     int
	err       error
}

func (f *fakeLLMClient) Call(ctx context.Context, opts llmclient.CallOptions) (*llmclient.CallResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	content := f.responses[f.calls]
	f.calls++
	return &llmclient.CallResult{Content: content}, nil
}

func TestAnalyzeColumns(t *testing.T) {
	fake := &fakeLLMClient{responses: []string{
		`{"columns": [{"column_name": "title", "available": true, "confidence": 0.9, "rationale": "present in h1"}]}`,
	}}
	extractor := New(fake)

	results, err := extractor.AnalyzeColumns(context.Background(), "claude-3", "Some page text", []models.ColumnInfo{
		{Name: "title", Type: "text"},
	})
	if err != nil {
		t.Fatalf("AnalyzeColumns: %v", err)
	}
	if len(results) != 1 || !results[0].Available {
		t.Errorf("results = %+v", results)
	}
}

func TestAnalyzeColumnsMarksAutoGeneratedWithoutLLM(t *testing.T) {
	fake := &fakeLLMClient{responses: []string{
		`{"columns": [{"column_name": "email", "available": true, "confidence": 0.9, "rationale": "present"}]}`,
	}}
	extractor := New(fake)

	results, err := extractor.AnalyzeColumns(context.Background(), "claude-3", "page text", []models.ColumnInfo{
		{Name: "id", Type: "integer", IsPrimaryKey: true},
		{Name: "email", Type: "text"},
		{Name: "created_at", Type: "timestamp"},
	})
	if err != nil {
		t.Fatalf("AnalyzeColumns: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d verdicts, want 3", len(results))
	}

	byName := map[string]ColumnAvailability{}
	for _, r := range results {
		byName[r.ColumnName] = r
	}
	if byName["id"].Available || byName["id"].Rationale != "Auto-generated column" {
		t.Errorf("id verdict = %+v, want unavailable auto-generated", byName["id"])
	}
	if byName["created_at"].Available || byName["created_at"].Rationale != "Auto-generated column" {
		t.Errorf("created_at verdict = %+v, want unavailable auto-generated", byName["created_at"])
	}
	if !byName["email"].Available {
		t.Errorf("email verdict = %+v, want available", byName["email"])
	}
}

func TestAnalyzeColumnsDegradesToUnavailableOnLLMFailure(t *testing.T) {
	fake := &fakeLLMClient{err: context.DeadlineExceeded}
	extractor := New(fake)

	results, err := extractor.AnalyzeColumns(context.Background(), "claude-3", "page text", []models.ColumnInfo{
		{Name: "title", Type: "text"},
		{Name: "price", Type: "numeric"},
	})
	if err != nil {
		t.Fatalf("AnalyzeColumns must not error on LLM failure, got %v", err)
	}
	for _, r := range results {
		if r.Available {
			t.Errorf("%s marked available despite LLM failure", r.ColumnName)
		}
		if r.Rationale != "LLM analysis failed" {
			t.Errorf("%s rationale = %q", r.ColumnName, r.Rationale)
		}
	}
}

func TestBuildCaptureConfigWrapsItemsArray(t *testing.T) {
	fake := &fakeLLMClient{err: context.DeadlineExceeded} // force the deterministic prompt fallback
	extractor := New(fake)

	cfg, err := extractor.BuildCaptureConfig(context.Background(), "claude-3", "products", []ColumnSelection{
		{Column: models.ColumnInfo{Name: "price", Type: "numeric"}, Confidence: 0.9},
		{Column: models.ColumnInfo{Name: "description", Type: "text"}, Confidence: 0.5},
	}, "focus on the main product listing")
	if err != nil {
		t.Fatalf("BuildCaptureConfig: %v", err)
	}
	if len(cfg.ColumnMappings) != 2 {
		t.Fatalf("got %d mappings, want 2", len(cfg.ColumnMappings))
	}
	if cfg.ColumnMappings[0].DataType != models.DataTypeNumber {
		t.Errorf("price DataType = %v, want number", cfg.ColumnMappings[0].DataType)
	}
	if cfg.Temperature != defaultTemperature {
		t.Errorf("Temperature = %v, want %v", cfg.Temperature, defaultTemperature)
	}
	if !strings.Contains(cfg.SystemPrompt, "products") {
		t.Errorf("fallback system prompt should name the table, got %q", cfg.SystemPrompt)
	}

	var schema struct {
		Required   []string `json:"required"`
		Properties struct {
			Items struct {
				Type  string `json:"type"`
				Items struct {
					Properties map[string]struct {
						Type string `json:"type"`
					} `json:"properties"`
					Required []string `json:"required"`
				} `json:"items"`
			} `json:"items"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(cfg.JSONSchema, &schema); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "items" {
		t.Errorf("top-level required = %v, want [items]", schema.Required)
	}
	if schema.Properties.Items.Type != "array" {
		t.Errorf("items type = %q, want array", schema.Properties.Items.Type)
	}
	if schema.Properties.Items.Items.Properties["price"].Type != "number" {
		t.Errorf("price schema type = %q, want number", schema.Properties.Items.Items.Properties["price"].Type)
	}
	// only price's confidence clears the required threshold
	if len(schema.Properties.Items.Items.Required) != 1 || schema.Properties.Items.Items.Required[0] != "price" {
		t.Errorf("item required = %v, want [price]", schema.Properties.Items.Items.Required)
	}
}

func TestExtractStructuredRetriesOnDecodeFailure(t *testing.T) {
	fake := &fakeLLMClient{responses: []string{
		"not json",
		`{"items": [{"price": 19.99}, {"price": 24.50}]}`,
	}}
	extractor := New(fake)
	cfg := &models.LLMCaptureConfig{
		Model:          "claude-3",
		ColumnMappings: []models.ColumnMapping{{ColumnName: "price", JSONField: "price", DataType: models.DataTypeNumber}},
	}

	rows, err := extractor.ExtractStructured(context.Background(), cfg, "page text")
	if err != nil {
		t.Fatalf("ExtractStructured: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0]["price"] != 19.99 {
		t.Errorf("price = %v, want 19.99", rows[0]["price"])
	}
	if fake.calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", fake.calls)
	}
}

func TestExtractStructuredDropsEmptyAndNullsRequired(t *testing.T) {
	fake := &fakeLLMClient{responses: []string{
		`{"items": [{"name": "a"}, {}, {"extra": "ignored"}]}`,
	}}
	extractor := New(fake)
	cfg := &models.LLMCaptureConfig{
		Model: "claude-3",
		ColumnMappings: []models.ColumnMapping{
			{ColumnName: "name", JSONField: "name", IsRequired: true},
			{ColumnName: "note", JSONField: "note", IsRequired: false},
		},
	}

	rows, err := extractor.ExtractStructured(context.Background(), cfg, "page text")
	if err != nil {
		t.Fatalf("ExtractStructured: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1 (empty items dropped)", len(rows))
	}
	if rows[0]["name"] != "a" {
		t.Errorf("name = %v", rows[0]["name"])
	}
	if _, ok := rows[0]["note"]; ok {
		t.Error("non-required missing field should be dropped, not present")
	}
}

func TestExtractStructuredFailsAfterBothAttemptsBad(t *testing.T) {
	fake := &fakeLLMClient{responses: []string{"bad", "still bad"}}
	extractor := New(fake)
	cfg := &models.LLMCaptureConfig{Model: "claude-3"}

	if _, err := extractor.ExtractStructured(context.Background(), cfg, "page text"); err == nil {
		t.Fatal("expected error after both attempts fail to decode")
	}
}
