package scraper

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/araddon/dateparse"

	"github.com/Fazmin/syncengine/internal/models"
)

// ExtractedRow is one record pulled from a page: target column name to
// the (already transformed) value, keyed identically to ExtractionRule's
// TargetColumn.
type ExtractedRow map[string]any

// Extract applies rules against html. The first rule's selector decides
// the record scope: two or more matches make each matched node one row
// context, with every rule resolved relative to it; one or zero matches
// treat the whole document as a single row context. Rules whose selector
// finds nothing within a context yield the rule's default value, or nil.
func Extract(html string, rules []models.ExtractionRule) ([]ExtractedRow, error) {
	active := activeRules(rules)
	if len(active) == 0 {
		return nil, fmt.Errorf("scraper: no active extraction rules")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("scraper: parse html: %w", err)
	}

	first := active[0]
	if first.SelectorType != models.SelectorTypeXPath {
		// XPath selectors always run against the full document in this
		// scraper, so only a CSS first rule can establish row contexts.
		nodes := doc.Find(first.Selector)
		if nodes.Length() >= 2 {
			rows := make([]ExtractedRow, 0, nodes.Length())
			var firstErr error
			nodes.Each(func(_ int, node *goquery.Selection) {
				row, err := extractRowFromSelection(node, html, active)
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					return
				}
				rows = append(rows, row)
			})
			return rows, firstErr
		}
	}

	row, err := extractRowFromSelection(doc.Selection, html, active)
	if err != nil {
		return nil, err
	}
	return []ExtractedRow{row}, nil
}

func activeRules(rules []models.ExtractionRule) []models.ExtractionRule {
	active := make([]models.ExtractionRule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			active = append(active, r)
		}
	}
	return active
}

func extractRowFromSelection(scope *goquery.Selection, rawHTML string, rules []models.ExtractionRule) (ExtractedRow, error) {
	row := make(ExtractedRow, len(rules))

	for _, rule := range rules {
		raw, found, err := extractRawValue(scope, rawHTML, rule)
		if err != nil {
			return nil, err
		}
		if !found {
			row[rule.TargetColumn] = applyDefault(rule)
			continue
		}

		transformed, err := applyTransform(raw, rule)
		if err != nil {
			row[rule.TargetColumn] = nil
			continue
		}

		value, err := coerceDataType(transformed, rule)
		if err != nil {
			value = nil
		}
		row[rule.TargetColumn] = value
	}

	return row, nil
}

func extractRawValue(scope *goquery.Selection, rawHTML string, rule models.ExtractionRule) (value string, found bool, err error) {
	switch rule.SelectorType {
	case models.SelectorTypeXPath:
		return extractXPath(rawHTML, rule)
	default:
		return extractCSS(scope, rule)
	}
}

func extractCSS(scope *goquery.Selection, rule models.ExtractionRule) (string, bool, error) {
	sel := scope.Find(rule.Selector)
	if rule.Selector == "" || rule.Selector == "." {
		sel = scope
	}
	if sel.Length() == 0 {
		return "", false, nil
	}
	return attributeValue(sel, rule.Attribute), true, nil
}

func attributeValue(sel *goquery.Selection, attribute string) string {
	switch attribute {
	case "", "text":
		return strings.TrimSpace(sel.First().Text())
	case "html":
		html, _ := sel.First().Html()
		return html
	default:
		val, _ := sel.First().Attr(attribute)
		return val
	}
}

func extractXPath(rawHTML string, rule models.ExtractionRule) (string, bool, error) {
	node, err := htmlquery.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", false, fmt.Errorf("parse html for xpath: %w", err)
	}

	result := htmlquery.FindOne(node, rule.Selector)
	if result == nil {
		return "", false, nil
	}

	switch rule.Attribute {
	case "", "text":
		return strings.TrimSpace(htmlquery.InnerText(result)), true, nil
	case "html":
		return htmlquery.OutputHTML(result, true), true, nil
	default:
		return htmlquery.SelectAttr(result, rule.Attribute), true, nil
	}
}

func applyTransform(value string, rule models.ExtractionRule) (string, error) {
	switch rule.TransformType {
	case models.TransformNone:
		return value, nil
	case models.TransformTrim:
		return strings.TrimSpace(value), nil
	case models.TransformRegex:
		return applyRegexTransform(value, rule)
	case models.TransformDate:
		t, err := dateparse.ParseAny(value)
		if err != nil {
			return "", fmt.Errorf("parse date %q: %w", value, err)
		}
		return t.Format("2006-01-02T15:04:05Z07:00"), nil
	case models.TransformNumber:
		cleaned := strings.TrimSpace(strings.ReplaceAll(value, ",", ""))
		return cleaned, nil
	case models.TransformJSON:
		return value, nil
	default:
		return value, nil
	}
}

func applyRegexTransform(value string, rule models.ExtractionRule) (string, error) {
	var cfg models.RegexTransformConfig
	if len(rule.TransformConfig) > 0 {
		if err := json.Unmarshal(rule.TransformConfig, &cfg); err != nil {
			return "", fmt.Errorf("decode regex transform config: %w", err)
		}
	}
	if cfg.Pattern == "" {
		return value, nil
	}

	pattern := cfg.Pattern
	if flags := regexModeFlags(cfg.Flags); flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("compile regex %q: %w", pattern, err)
	}

	if cfg.Replacement != "" {
		return re.ReplaceAllString(value, cfg.Replacement), nil
	}

	matches := re.FindStringSubmatch(value)
	group := cfg.Group
	if group >= len(matches) {
		return "", fmt.Errorf("regex %q has no group %d in %q", cfg.Pattern, group, value)
	}
	return matches[group], nil
}

// regexModeFlags keeps only the mode flags Go's regexp accepts in a
// (?...) group, dropping anything else a rule author carried over from
// another regex dialect (e.g. JavaScript's g).
func regexModeFlags(flags string) string {
	var kept []byte
	for _, f := range []byte(flags) {
		switch f {
		case 'i', 'm', 's', 'U':
			kept = append(kept, f)
		}
	}
	return string(kept)
}

func coerceDataType(value string, rule models.ExtractionRule) (any, error) {
	switch rule.DataType {
	case models.DataTypeNumber:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("parse number %q: %w", value, err)
		}
		return f, nil
	case models.DataTypeBoolean:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("parse bool %q: %w", value, err)
		}
		return b, nil
	case models.DataTypeJSON:
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			return nil, fmt.Errorf("parse json %q: %w", value, err)
		}
		return v, nil
	default: // string, date (already ISO8601 string after transform)
		return value, nil
	}
}

func applyDefault(rule models.ExtractionRule) any {
	if rule.DefaultValue != nil {
		return *rule.DefaultValue
	}
	return nil
}
