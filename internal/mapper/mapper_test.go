package mapper

import (
	"context"
	"fmt"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/Fazmin/syncengine/internal/llmclient"
	"github.com/Fazmin/syncengine/internal/models"
	"github.com/Fazmin/syncengine/internal/scraper"
)

type fakeLLMClient struct {
	content string
	err     error
	calls   int
}

func (f *fakeLLMClient) Call(ctx context.Context, opts llmclient.CallOptions) (*llmclient.CallResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llmclient.CallResult{Content: f.content}, nil
}

func TestMapperPrefersLLMMappings(t *testing.T) {
	fake := &fakeLLMClient{content: `{"mappings": [
		{"web_field_name": "span.product-title", "table_name": "products", "column_name": "title", "confidence": 0.95},
		{"web_field_name": "span.made-up", "table_name": "products", "column_name": "price", "confidence": 0.9},
		{"web_field_name": "span.product-price", "table_name": "products", "column_name": "no_such_column", "confidence": 0.9}
	]}`}
	m := New(fake, "claude-3", nil)

	analysis := &scraper.StructureAnalysis{
		Fields: []scraper.StructureField{
			{Selector: "span.product-title", Sample: "Widget"},
			{Selector: "span.product-price", Sample: "$19.99"},
		},
	}
	table := models.TableInfo{
		Table: "products",
		Columns: []models.ColumnInfo{
			{Name: "title", Type: "text"},
			{Name: "price", Type: "numeric"},
		},
	}

	suggestions := m.SuggestMappings(context.Background(), analysis, table)
	// mappings naming nonexistent fields or columns are dropped
	if len(suggestions) != 1 {
		t.Fatalf("got %d suggestions, want 1: %+v", len(suggestions), suggestions)
	}
	if suggestions[0].DBColumn != "title" || suggestions[0].Confidence != 0.95 {
		t.Errorf("suggestion = %+v", suggestions[0])
	}
}

func TestMapperFallsBackToRuleBasedOnLLMFailure(t *testing.T) {
	fake := &fakeLLMClient{err: fmt.Errorf("model unavailable")}
	m := New(fake, "claude-3", nil)

	analysis := &scraper.StructureAnalysis{
		Fields: []scraper.StructureField{
			{Selector: "span.product-title", Sample: "Widget"},
		},
	}
	table := models.TableInfo{
		Table:   "products",
		Columns: []models.ColumnInfo{{Name: "title", Type: "text"}},
	}

	suggestions := m.SuggestMappings(context.Background(), analysis, table)
	if len(suggestions) != 1 || suggestions[0].DBColumn != "title" {
		t.Fatalf("fallback suggestions = %+v", suggestions)
	}
	if fake.calls != 1 {
		t.Errorf("llm calls = %d, want 1", fake.calls)
	}
}

func TestSuggestMappingsSynonymDictionary(t *testing.T) {
	analysis := &scraper.StructureAnalysis{
		Fields: []scraper.StructureField{
			{Selector: "span.cost", Sample: "$12.00"},
		},
	}
	table := models.TableInfo{
		Table:   "products",
		Columns: []models.ColumnInfo{{Name: "price", Type: "numeric"}},
	}

	suggestions := SuggestMappings(analysis, table)
	if len(suggestions) != 1 {
		t.Fatalf("got %d suggestions, want 1 via synonym match", len(suggestions))
	}
	if suggestions[0].Confidence != 0.6 {
		t.Errorf("synonym confidence = %v, want 0.6", suggestions[0].Confidence)
	}
	if suggestions[0].TransformType != models.TransformNumber {
		t.Errorf("transform = %v, want number for numeric column", suggestions[0].TransformType)
	}
}

func TestSuggestMappingsMatchesByNameSimilarity(t *testing.T) {
	analysis := &scraper.StructureAnalysis{
		Fields: []scraper.StructureField{
			{Selector: "span.product-title", Sample: "Widget"},
			{Selector: "span.product-price", Sample: "$19.99"},
			{Selector: "div.unrelated-footer", Sample: "copyright"},
		},
	}
	table := models.TableInfo{
		Table: "products",
		Columns: []models.ColumnInfo{
			{Name: "title", Type: "text"},
			{Name: "price", Type: "numeric"},
		},
	}

	suggestions := SuggestMappings(analysis, table)
	if len(suggestions) != 2 {
		t.Fatalf("got %d suggestions, want 2: %+v", len(suggestions), suggestions)
	}

	byColumn := map[string]models.MappingSuggestion{}
	for _, s := range suggestions {
		byColumn[s.DBColumn] = s
	}
	if byColumn["title"].WebField != "span.product-title" {
		t.Errorf("title mapped to %q", byColumn["title"].WebField)
	}
	if byColumn["price"].WebField != "span.product-price" {
		t.Errorf("price mapped to %q", byColumn["price"].WebField)
	}
}

func TestSuggestMappingsOmitsLowConfidenceColumns(t *testing.T) {
	analysis := &scraper.StructureAnalysis{
		Fields: []scraper.StructureField{
			{Selector: "div.xyz", Sample: "irrelevant"},
		},
	}
	table := models.TableInfo{
		Table:   "orders",
		Columns: []models.ColumnInfo{{Name: "customer_email", Type: "text"}},
	}

	suggestions := SuggestMappings(analysis, table)
	if len(suggestions) != 0 {
		t.Errorf("expected no suggestions, got %+v", suggestions)
	}
}

func TestLoadTableFixtureParsesYAML(t *testing.T) {
	const fixture = `
schema: public
table: orders
columns:
  - name: customer_email
    type: text
  - name: total
    type: numeric
`
	table, err := LoadTableFixture([]byte(fixture))
	if err != nil {
		t.Fatalf("LoadTableFixture: %v", err)
	}
	if table.Schema != "public" || table.Table != "orders" {
		t.Errorf("table = %+v", table)
	}
	if len(table.Columns) != 2 || table.Columns[0].Name != "customer_email" {
		t.Errorf("columns = %+v", table.Columns)
	}
}

func TestDumpSuggestionsYAMLRoundTrips(t *testing.T) {
	suggestions := []models.MappingSuggestion{
		{Confidence: 0.8, WebField: "span.price", DBColumn: "price", TableName: "products"},
	}

	out, err := DumpSuggestionsYAML(suggestions)
	if err != nil {
		t.Fatalf("DumpSuggestionsYAML: %v", err)
	}

	var decoded []models.MappingSuggestion
	if err := yaml.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("yaml.Unmarshal of dump output: %v", err)
	}
	if len(decoded) != 1 || decoded[0].DBColumn != "price" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestMappingsToExtractionRulesInfersDataType(t *testing.T) {
	suggestions := []models.MappingSuggestion{
		{DBColumn: "price", Selector: ".price", DataTypeOf: "numeric"},
		{DBColumn: "in_stock", Selector: ".stock", DataTypeOf: "boolean"},
	}

	rules := MappingsToExtractionRules("assignment-1", suggestions)
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
	if rules[0].DataType != models.DataTypeNumber {
		t.Errorf("price DataType = %v, want number", rules[0].DataType)
	}
	if rules[1].DataType != models.DataTypeBoolean {
		t.Errorf("in_stock DataType = %v, want boolean", rules[1].DataType)
	}
	if rules[0].AssignmentID != "assignment-1" {
		t.Errorf("AssignmentID = %q", rules[0].AssignmentID)
	}
}
