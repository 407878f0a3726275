// Package mapper proposes ExtractionRule candidates by pairing a web
// page's detected structure against a target database table's columns,
// preferring an LLM's judgment and falling back to rule-based name
// matching when no LLM is available.
package mapper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Fazmin/syncengine/internal/llmclient"
	"github.com/Fazmin/syncengine/internal/models"
	"github.com/Fazmin/syncengine/internal/scraper"
)

// synonymConfidence is the fixed confidence assigned to a dictionary
// match in the rule-based fallback path.
const synonymConfidence = 0.6

// columnSynonyms maps a column-name token to web-field tokens that
// commonly carry the same meaning.
var columnSynonyms = map[string][]string{
	"title":       {"name", "heading", "subject", "headline"},
	"name":        {"title", "heading", "label"},
	"price":       {"cost", "amount", "value"},
	"image":       {"img", "photo", "thumbnail", "picture"},
	"link_url":    {"url", "link", "href"},
	"url":         {"link", "href"},
	"date":        {"created_at", "updated_at", "published_at", "time", "posted"},
	"description": {"summary", "body", "text", "details", "excerpt"},
	"author":      {"byline", "writer", "creator"},
	"category":    {"tag", "section", "type"},
}

// Mapper proposes column mappings. With a non-nil LLM client it asks the
// model first and only falls back to rule-based matching when the call
// fails or returns nothing usable; with a nil client it is rule-based
// only.
type Mapper struct {
	client llmclient.LLMClient
	model  string
	logger *slog.Logger
}

// New builds a Mapper. client may be nil to disable the LLM path; model
// is the model name used for mapping calls when client is set.
func New(client llmclient.LLMClient, model string, logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{client: client, model: model, logger: logger}
}

// SuggestMappings proposes one suggestion per mappable column of table,
// sorted by descending confidence: LLM-judged where possible, rule-based
// otherwise.
func (m *Mapper) SuggestMappings(ctx context.Context, analysis *scraper.StructureAnalysis, table models.TableInfo) []models.MappingSuggestion {
	if m.client != nil {
		suggestions, err := m.suggestWithLLM(ctx, analysis, table)
		if err == nil && len(suggestions) > 0 {
			sortByConfidence(suggestions)
			return suggestions
		}
		if err != nil {
			m.logger.WarnContext(ctx, "llm mapping suggestion failed, using rule-based fallback", "error", err)
		}
	}
	return SuggestMappings(analysis, table)
}

// llmMapping is the shape of one entry the LLM returns from a mapping call.
type llmMapping struct {
	WebFieldName string  `json:"web_field_name"`
	TableName    string  `json:"table_name"`
	ColumnName   string  `json:"column_name"`
	Confidence   float64 `json:"confidence"`
	TransformType string `json:"transform_type,omitempty"`
	Reasoning    string  `json:"reasoning,omitempty"`
}

func (m *Mapper) suggestWithLLM(ctx context.Context, analysis *scraper.StructureAnalysis, table models.TableInfo) ([]models.MappingSuggestion, error) {
	result, err := m.client.Call(ctx, llmclient.CallOptions{
		Model: m.model,
		SystemPrompt: "You map fields detected on a web page to columns of a database table. " +
			"Only propose mappings you are confident about; skip columns with no plausible field.",
		UserPrompt:  buildMappingPrompt(analysis, table),
		JSONSchema:  mappingSchema(),
		Temperature: 0,
		MaxTokens:   2048,
	})
	if err != nil {
		return nil, fmt.Errorf("mapper: llm mapping call: %w", err)
	}

	var wrapper struct {
		Mappings []llmMapping `json:"mappings"`
	}
	if err := json.Unmarshal([]byte(result.Content), &wrapper); err != nil {
		return nil, fmt.Errorf("mapper: decode llm mappings: %w", err)
	}

	fieldsBySelector := make(map[string]scraper.StructureField, len(analysis.Fields))
	for _, f := range analysis.Fields {
		fieldsBySelector[f.Selector] = f
	}
	columnsByName := make(map[string]models.ColumnInfo, len(table.Columns))
	for _, c := range table.Columns {
		columnsByName[c.Name] = c
	}

	var suggestions []models.MappingSuggestion
	for _, lm := range wrapper.Mappings {
		field, fieldOK := fieldsBySelector[lm.WebFieldName]
		col, colOK := columnsByName[lm.ColumnName]
		if !fieldOK || !colOK {
			continue // only keep mappings whose field and column both exist
		}
		suggestions = append(suggestions, models.MappingSuggestion{
			Confidence:    clamp01(lm.Confidence),
			WebField:      field.Selector,
			DBColumn:      col.Name,
			TableName:     table.Table,
			Selector:      field.Selector,
			DataTypeOf:    col.Type,
			TransformType: transformFor(models.TransformType(lm.TransformType), col.Type),
		})
	}
	return suggestions, nil
}

func buildMappingPrompt(analysis *scraper.StructureAnalysis, table models.TableInfo) string {
	var sb strings.Builder
	sb.WriteString("Detected web fields (selector: sample value):\n")
	for _, f := range analysis.Fields {
		sb.WriteString(fmt.Sprintf("- %s: %q\n", f.Selector, f.Sample))
	}
	sb.WriteString(fmt.Sprintf("\nTarget table %s columns:\n", table.Table))
	for _, c := range table.Columns {
		sb.WriteString(fmt.Sprintf("- %s (%s)\n", c.Name, c.Type))
	}
	sb.WriteString("\nPropose mappings from field selectors to column names. " +
		"Use the field's selector verbatim as web_field_name.")
	return sb.String()
}

func mappingSchema() []byte {
	return []byte(`{
		"type": "object",
		"properties": {
			"mappings": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"web_field_name": {"type": "string"},
						"table_name": {"type": "string"},
						"column_name": {"type": "string"},
						"confidence": {"type": "number"},
						"transform_type": {"type": "string"},
						"reasoning": {"type": "string"}
					},
					"required": ["web_field_name", "column_name", "confidence"]
				}
			}
		},
		"required": ["mappings"]
	}`)
}

// SuggestMappings is the rule-based path: a fixed synonym dictionary
// first, then token-overlap scoring, one suggestion per column, ordered
// by descending confidence. A column with no match above the minimum
// threshold is omitted rather than forced into a low-quality guess.
func SuggestMappings(analysis *scraper.StructureAnalysis, table models.TableInfo) []models.MappingSuggestion {
	const minConfidence = 0.35

	var suggestions []models.MappingSuggestion
	for _, col := range table.Columns {
		best := scraper.StructureField{}
		bestScore := 0.0

		for _, field := range analysis.Fields {
			score := nameSimilarity(col.Name, field.Selector, field.Sample)
			if synonymMatch(col.Name, field.Selector) && score < synonymConfidence {
				score = synonymConfidence
			}
			if score > bestScore {
				bestScore = score
				best = field
			}
		}

		if bestScore < minConfidence {
			continue
		}

		suggestions = append(suggestions, models.MappingSuggestion{
			Confidence: bestScore,
			WebField:   best.Selector,
			DBColumn:   col.Name,
			TableName:  table.Table,
			// best.Selector is already relative to the record node when
			// analysis.IsRepeating, since AnalyzeStructure samples fields
			// from within the first matched record.
			Selector:      best.Selector,
			DataTypeOf:    col.Type,
			TransformType: transformFor("", col.Type),
		})
	}

	sortByConfidence(suggestions)
	return suggestions
}

// synonymMatch reports whether any token of the column name maps, via
// the synonym dictionary, to a token of the field selector (or vice
// versa).
func synonymMatch(columnName, selector string) bool {
	selTokens := tokenize(selector)
	for _, ct := range tokenize(columnName) {
		for _, syn := range columnSynonyms[ct] {
			for _, st := range selTokens {
				if st == syn {
					return true
				}
			}
		}
	}
	return false
}

// transformFor resolves the transform a suggestion carries: the LLM's
// choice when it made a valid one, else a deterministic pick from the
// column's type — number into numeric columns, date into date/time
// columns, trim otherwise.
func transformFor(llmChoice models.TransformType, columnType string) models.TransformType {
	switch llmChoice {
	case models.TransformTrim, models.TransformRegex, models.TransformDate, models.TransformNumber, models.TransformJSON:
		return llmChoice
	}

	t := strings.ToLower(columnType)
	switch {
	case strings.Contains(t, "int") || strings.Contains(t, "numeric") || strings.Contains(t, "decimal") || strings.Contains(t, "float") || strings.Contains(t, "double") || strings.Contains(t, "real"):
		return models.TransformNumber
	case strings.Contains(t, "date") || strings.Contains(t, "time"):
		return models.TransformDate
	default:
		return models.TransformTrim
	}
}

func sortByConfidence(suggestions []models.MappingSuggestion) {
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// nameSimilarity scores how likely field (identified by its selector and
// a sample value) maps to column by comparing normalized tokens of the
// column name against the selector's class/tag tokens and, as a weak
// secondary signal, whether the sample value's shape is compatible with
// the column's declared type.
func nameSimilarity(columnName, selector, sample string) float64 {
	colTokens := tokenize(columnName)
	selTokens := tokenize(selector)

	if len(colTokens) == 0 || len(selTokens) == 0 {
		return 0
	}

	matches := 0
	for _, ct := range colTokens {
		for _, st := range selTokens {
			if ct == st || strings.Contains(st, ct) || strings.Contains(ct, st) {
				matches++
				break
			}
		}
	}

	score := float64(matches) / float64(len(colTokens))

	if sample == "" {
		score *= 0.5
	}

	if score > 1 {
		score = 1
	}
	return score
}

func tokenize(s string) []string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("-", " ", "_", " ", ".", " ", "#", " ").Replace(s)
	var tokens []string
	for _, t := range strings.Fields(s) {
		if len(t) >= 2 {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// MappingsToExtractionRules converts confirmed suggestions (typically
// after a caller has reviewed SuggestMappings' output and dropped any it
// doesn't want) into ready-to-persist ExtractionRule values for
// assignmentID, ordered by the suggestions' own order.
func MappingsToExtractionRules(assignmentID string, suggestions []models.MappingSuggestion) []models.ExtractionRule {
	rules := make([]models.ExtractionRule, 0, len(suggestions))
	for i, s := range suggestions {
		rules = append(rules, models.ExtractionRule{
			AssignmentID:    assignmentID,
			SortOrder:       i,
			TargetColumn:    s.DBColumn,
			Selector:        s.Selector,
			SelectorType:    models.SelectorTypeCSS,
			Attribute:       "text",
			TransformType:   s.TransformType,
			TransformConfig: s.TransformConfig,
			DataType:        inferDataType(s.DataTypeOf),
			IsActive:        true,
		})
	}
	return rules
}

// tableFixture is the on-disk shape of a table description used by
// tests through LoadTableFixture, kept deliberately
// smaller than models.TableInfo (no primary-key/default metadata) since
// hand-written fixtures only need to describe shape, not constraints.
type tableFixture struct {
	Schema  string `yaml:"schema"`
	Table   string `yaml:"table"`
	Columns []struct {
		Name string `yaml:"name"`
		Type string `yaml:"type"`
	} `yaml:"columns"`
}

// LoadTableFixture parses a YAML table description into a models.TableInfo,
// for feeding SuggestMappings from hand-written test fixtures instead of
// live catalog discovery.
func LoadTableFixture(data []byte) (models.TableInfo, error) {
	var f tableFixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return models.TableInfo{}, fmt.Errorf("mapper: parse table fixture: %w", err)
	}

	table := models.TableInfo{Schema: f.Schema, Table: f.Table}
	for _, c := range f.Columns {
		table.Columns = append(table.Columns, models.ColumnInfo{Name: c.Name, Type: c.Type})
	}
	return table, nil
}

// DumpSuggestionsYAML renders suggestions as YAML for a debug dump, so an
// operator reviewing a proposed mapping before confirming it can read a
// flat file instead of a JSON blob.
func DumpSuggestionsYAML(suggestions []models.MappingSuggestion) ([]byte, error) {
	out, err := yaml.Marshal(suggestions)
	if err != nil {
		return nil, fmt.Errorf("mapper: dump suggestions: %w", err)
	}
	return out, nil
}

func inferDataType(sqlType string) models.DataType {
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
