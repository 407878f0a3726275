package scraper

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/Fazmin/syncengine/internal/models"
)

// GeneratePaginatedURLs returns the sequence of page URLs to fetch for a
// query_param or path pagination config, starting at StartPage (default
// 1) and stopping at MaxPages (0 means unlimited, capped at 500 to avoid
// runaway crawls from a misconfigured assignment).
func GeneratePaginatedURLs(baseURL string, cfg models.PaginationConfig) ([]string, error) {
	const hardCap = 500

	start := cfg.StartPage
	if start == 0 {
		start = 1
	}
	max := cfg.MaxPages
	if max == 0 || max > hardCap {
		max = hardCap
	}

	switch cfg.Type {
	case models.PaginationTypeNone:
		return []string{baseURL}, nil

	case models.PaginationTypeQueryParam:
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("scraper: parse base url: %w", err)
		}
		param := cfg.ParamName
		if param == "" {
			param = "page"
		}

		urls := make([]string, 0, max)
		for page := start; page < start+max; page++ {
			q := u.Query()
			q.Set(param, strconv.Itoa(page))
			u.RawQuery = q.Encode()
			urls = append(urls, u.String())
		}
		return urls, nil

	case models.PaginationTypePath:
		if cfg.URLPattern == "" {
			return nil, fmt.Errorf("scraper: path pagination requires url_pattern")
		}
		urls := make([]string, 0, max)
		for page := start; page < start+max; page++ {
			urls = append(urls, strings.ReplaceAll(cfg.URLPattern, "{page}", strconv.Itoa(page)))
		}
		return urls, nil

	case models.PaginationTypeNextButton:
		return nil, fmt.Errorf("scraper: next_button pagination requires following live links, use FollowNextButton")

	default:
		return nil, fmt.Errorf("scraper: unknown pagination type %q", cfg.Type)
	}
}

// detectDefaultMaxPages caps how far a detected pagination config will
// enumerate before an operator tunes it.
const detectDefaultMaxPages = 100

// paginationQueryKeys are the query-parameter names recognized as page
// cursors, matched case-insensitively against each anchor's query string.
var paginationQueryKeys = []string{"page", "p", "offset", "start"}

var (
	nextButtonTextPattern = regexp.MustCompile(`^(Next|next|→|»)$`)
	pathSegmentPattern    = regexp.MustCompile(`(/(?:page|p)/)(\d+)/?$`)
	trailingNumberPattern = regexp.MustCompile(`/(\d+)/?$`)
)

// DetectPagination inspects a fetched page for pagination signals and
// proposes a PaginationConfig, used by the mapper's structure analysis
// to pre-fill an assignment's pagination settings. Patterns are tried
// in order — query parameter, next button, path segment — and the first
// match wins; detected configs carry the default page cap.
func DetectPagination(html string) models.PaginationConfig {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.PaginationConfig{Type: models.PaginationTypeNone}
	}

	if param := detectQueryParamPagination(doc); param != "" {
		return models.PaginationConfig{
			Type:      models.PaginationTypeQueryParam,
			ParamName: param,
			MaxPages:  detectDefaultMaxPages,
		}
	}

	if selector := detectNextButton(doc); selector != "" {
		return models.PaginationConfig{
			Type:     models.PaginationTypeNextButton,
			Selector: selector,
			MaxPages: detectDefaultMaxPages,
		}
	}

	if pattern := detectPathPagination(doc); pattern != "" {
		return models.PaginationConfig{
			Type:       models.PaginationTypePath,
			URLPattern: pattern,
			MaxPages:   detectDefaultMaxPages,
		}
	}

	return models.PaginationConfig{Type: models.PaginationTypeNone}
}

// detectQueryParamPagination returns the first recognized page-cursor
// parameter name found in any anchor's query string, case-insensitively.
func detectQueryParamPagination(doc *goquery.Document) string {
	found := ""
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		u, err := url.Parse(href)
		if err != nil {
			return true
		}
		for key := range u.Query() {
			for _, candidate := range paginationQueryKeys {
				if strings.EqualFold(key, candidate) {
					found = key
					return false
				}
			}
		}
		return true
	})
	return found
}

// detectNextButton returns a selector for the page's next link, checking
// rel/class/aria attributes first and falling back to anchor text
// (Next, →, »).
func detectNextButton(doc *goquery.Document) string {
	for _, sel := range []string{
		`a[rel="next"]`,
		`a.next`,
		`a.pagination-next`,
		`a[aria-label="Next"]`,
		`a[aria-label="next"]`,
	} {
		if doc.Find(sel).Length() > 0 {
			return sel
		}
	}

	found := ""
	doc.Find("a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if class, ok := s.Attr("class"); ok && strings.Contains(strings.ToLower(class), "next") {
			found = "a." + strings.Fields(class)[0]
			return false
		}
		text := strings.TrimSpace(s.Text())
		if nextButtonTextPattern.MatchString(text) {
			if class, ok := s.Attr("class"); ok && class != "" {
				found = "a." + strings.Fields(class)[0]
			} else {
				found = fmt.Sprintf("a:contains('%s')", text)
			}
			return false
		}
		return true
	})
	return found
}

// detectPathPagination returns a URL pattern with the page number
// replaced by {page} for the first anchor whose path looks like
// /page/N, /p/N, or a trailing /N.
func detectPathPagination(doc *goquery.Document) string {
	found := ""
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		u, err := url.Parse(href)
		if err != nil || u.Path == "" {
			return true
		}

		// replace in the full href when possible so scheme/host survive;
		// an href with a trailing query falls back to the bare path
		if pathSegmentPattern.MatchString(u.Path) {
			target := href
			if !pathSegmentPattern.MatchString(target) {
				target = u.Path
			}
			found = pathSegmentPattern.ReplaceAllString(target, "${1}{page}")
			return false
		}
		if trailingNumberPattern.MatchString(u.Path) {
			target := href
			if !trailingNumberPattern.MatchString(target) {
				target = u.Path
			}
			found = trailingNumberPattern.ReplaceAllString(target, "/{page}")
			return false
		}
		return true
	})
	return found
}

// FollowNextButton crawls forward from startURL by repeatedly locating and
// following the node matched by cfg.Selector, up to cfg.MaxPages (0
// means unlimited, capped at 500), returning the HTML of every page
// visited in order. Used for next_button pagination, where the set of
// page URLs cannot be predicted in advance.
func FollowNextButton(ctx context.Context, startURL string, cfg models.PaginationConfig) ([]FetchResult, error) {
	const hardCap = 500
	max := cfg.MaxPages
	if max == 0 || max > hardCap {
		max = hardCap
	}

	var pages []FetchResult
	var visitErr error

	c := colly.NewCollector()
	c.SetRequestTimeout(30_000_000_000) // 30s, ns

	c.OnResponse(func(r *colly.Response) {
		pages = append(pages, FetchResult{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			HTML:       string(r.Body),
		})
	})

	c.OnHTML(cfg.Selector, func(e *colly.HTMLElement) {
		if len(pages) >= max {
			return
		}
		next := e.Attr("href")
		if next == "" {
			return
		}
		if err := c.Visit(e.Request.AbsoluteURL(next)); err != nil && visitErr == nil {
			visitErr = err
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		if visitErr == nil {
			visitErr = err
		}
	})

	if err := c.Visit(startURL); err != nil {
		return nil, fmt.Errorf("scraper: visit %s: %w", startURL, err)
	}
	c.Wait()

	if visitErr != nil && len(pages) == 0 {
		return nil, fmt.Errorf("scraper: follow next button: %w", visitErr)
	}

	if len(pages) > max {
		pages = pages[:max]
	}
	return pages, nil
}
