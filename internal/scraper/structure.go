package scraper

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Fazmin/syncengine/internal/models"
)

// StructureField is one candidate field detected on a page: a selector
// that isolates it and a sample of the text/attribute found there.
type StructureField struct {
	Selector string
	Sample   string
	Count    int // number of nodes matching Selector on the page
}

// StructureAnalysis is the output of AnalyzeStructure, feeding the
// schema mapper's suggestion pass.
type StructureAnalysis struct {
	Title          string
	IsRepeating    bool // true if the page looks like a listing of repeated records
	RecordCount    int
	RecordSelector string
	Fields         []StructureField
	Pagination     models.PaginationConfig
	FormCount      int
	Links          []string // absolute or page-relative hrefs, capped
}

// numberedClassPattern matches class names that look machine-generated
// per-index (e.g. "item-1", "row_23", "card--4"), the same signal
// hint_repeats.go uses to recognize listing markup.
var numberedClassPattern = regexp.MustCompile(`^(.*?)[-_]\d+$`)

// AnalyzeStructure inspects html and proposes a record selector (if the
// page looks like a repeated list) plus a handful of representative
// child field selectors with sampled values, for the mapper to turn into
// MappingSuggestion entries.
func AnalyzeStructure(html string) (*StructureAnalysis, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	recordSelector, count := detectRepeatingSelector(doc)
	analysis := &StructureAnalysis{
		Title:          strings.TrimSpace(doc.Find("title").First().Text()),
		IsRepeating:    recordSelector != "",
		RecordCount:    count,
		RecordSelector: recordSelector,
		Pagination:     DetectPagination(html),
		FormCount:      doc.Find("form").Length(),
		Links:          sampleLinks(doc),
	}

	var scope *goquery.Selection
	if analysis.IsRepeating {
		scope = doc.Find(recordSelector).First()
	} else {
		scope = doc.Find("body")
	}

	analysis.Fields = sampleFields(scope)
	for i := range analysis.Fields {
		analysis.Fields[i].Count = doc.Find(analysis.Fields[i].Selector).Length()
	}
	return analysis, nil
}

// sampleLinks collects distinct hrefs from the page, capped to keep the
// analysis payload reviewable.
func sampleLinks(doc *goquery.Document) []string {
	const maxLinks = 50
	seen := map[string]bool{}
	var links []string

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return true
		}
		if !seen[href] {
			seen[href] = true
			links = append(links, href)
		}
		return len(links) < maxLinks
	})

	return links
}

// PageText strips html down to its visible text, for feeding to an LLM
// analysis prompt where markup would only waste tokens.
func PageText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(doc.Text()), " "), nil
}

// detectRepeatingSelector finds the class carried by the most elements
// that have child elements (at least 3 of them), stripping numeric
// suffixes so "item-1", "item-2", ... collapse into a single "item"
// family before counting, mirroring hint_repeats.go's approach of
// normalizing numbered class names. Leaf elements are not counted, since
// a record needs at least one field inside it. Which class wins a tie is
// not defined.
func detectRepeatingSelector(doc *goquery.Document) (string, int) {
	counts := map[string]int{}

	doc.Find("[class]").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Length() == 0 {
			return
		}
		class, _ := s.Attr("class")
		for _, c := range strings.Fields(class) {
			normalized := normalizeClassName(c)
			if normalized == "" {
				continue
			}
			counts["."+normalized] = counts["."+normalized] + 1
		}
	})

	bestSelector := ""
	bestCount := 0
	for selector, count := range counts {
		if count > bestCount && count >= 3 {
			bestSelector = selector
			bestCount = count
		}
	}

	return bestSelector, bestCount
}

func normalizeClassName(class string) string {
	if m := numberedClassPattern.FindStringSubmatch(class); m != nil {
		return m[1]
	}
	return class
}

// sampleFields walks every leaf element under scope with text content and
// proposes a relative CSS selector plus a truncated text sample for each
// distinct tag+class combination found, capped to keep the suggestion
// list reviewable.
func sampleFields(scope *goquery.Selection) []StructureField {
	const maxFields = 25
	seen := map[string]bool{}
	var fields []StructureField

	scope.Find("*").Each(func(_ int, s *goquery.Selection) {
		if len(fields) >= maxFields {
			return
		}
		text := strings.TrimSpace(s.Text())
		if text == "" || len(s.Children().Nodes) > 0 {
			return // skip empty or non-leaf nodes; leaves are the likely field anchors
		}

		tag := goquery.NodeName(s)
		class, _ := s.Attr("class")
		key := tag + "|" + class
		if seen[key] {
			return
		}
		seen[key] = true

		selector := tag
		if class != "" {
			selector = tag + "." + strings.Fields(class)[0]
		}

		sample := text
		if len(sample) > 120 {
			sample = sample[:120] + "..."
		}

		fields = append(fields, StructureField{Selector: selector, Sample: sample, Count: 1})
	})

	return fields
}
