// Package scraper implements page fetching (HTTP, headless browser, or
// hybrid), rule-based field extraction via CSS or XPath selectors,
// pagination discovery, and lightweight structure analysis used to
// propose extraction rules.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Fazmin/syncengine/internal/models"
)

// DefaultMinVisibleText is the visible-text size below which a hybrid
// fetch treats an HTTP response as a client-rendered shell and retries
// with the browser.
const DefaultMinVisibleText = 512

// ErrBotProtectionDetected reports that a fetched page is a bot
// challenge interstitial rather than content. Hybrid mode retries such
// pages with the browser fetcher; callers without one see this error.
var ErrBotProtectionDetected = errors.New("scraper: bot protection detected")

// FetchResult is one fetched page: its final URL (after redirects) and
// raw HTML body.
type FetchResult struct {
	URL        string
	StatusCode int
	HTML       string
	FetchedAt  time.Time
}

// Fetcher retrieves a single page. httpFetcher and browserFetcher both
// implement it; Scraper picks between them (or both, for hybrid) per
// WebSource.ScraperType.
type Fetcher interface {
	Fetch(ctx context.Context, url string, ws *models.WebSource) (*FetchResult, error)
	Close() error
}

// Scraper fetches and extracts structured rows from a WebSource according
// to its scraper policy and a set of ExtractionRule.
type Scraper struct {
	httpFetcher    Fetcher
	browserFetcher Fetcher
	logger         *slog.Logger

	// MinVisibleText is the hybrid-mode escalation threshold: an HTTP
	// response whose visible text is smaller than this retries with the
	// browser. Defaults to DefaultMinVisibleText.
	MinVisibleText int
}

// New constructs a Scraper backed by both an HTTP and a browser fetcher.
// browserFetcher may be nil if headless browser support is unavailable in
// the deployment (browser WebSources then fail fast; hybrid ones return
// the plain HTTP result when it is only thin or client-rendered, and an
// error when the HTTP attempt failed or hit bot protection).
func New(httpFetcher, browserFetcher Fetcher, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{
		httpFetcher:    httpFetcher,
		browserFetcher: browserFetcher,
		logger:         logger,
		MinVisibleText: DefaultMinVisibleText,
	}
}

// Close releases both underlying fetchers (browser pool, HTTP transport).
func (s *Scraper) Close() error {
	var firstErr error
	if s.httpFetcher != nil {
		if err := s.httpFetcher.Close(); err != nil {
			firstErr = err
		}
	}
	if s.browserFetcher != nil {
		if err := s.browserFetcher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Fetch retrieves one page according to ws.ScraperType. Hybrid tries
// HTTP first and escalates to the browser when the HTTP attempt fails,
// the response is a bot-protection challenge, its visible text is under
// MinVisibleText bytes, or the body carries a client-rendered marker.
func (s *Scraper) Fetch(ctx context.Context, url string, ws *models.WebSource) (*FetchResult, error) {
	switch ws.ScraperType {
	case models.ScraperTypeBrowser:
		if s.browserFetcher == nil {
			return nil, fmt.Errorf("scraper: browser fetch requested but no browser fetcher configured")
		}
		return s.browserFetcher.Fetch(ctx, url, ws)

	case models.ScraperTypeHybrid:
		return s.fetchHybrid(ctx, url, ws)

	default: // models.ScraperTypeHTTP and unset
		if s.httpFetcher == nil {
			return nil, fmt.Errorf("scraper: http fetch requested but no http fetcher configured")
		}
		return s.httpFetcher.Fetch(ctx, url, ws)
	}
}

func (s *Scraper) fetchHybrid(ctx context.Context, url string, ws *models.WebSource) (*FetchResult, error) {
	var httpResult *FetchResult
	var httpErr error

	if s.httpFetcher != nil {
		result, err := s.httpFetcher.Fetch(ctx, url, ws)
		switch {
		case err != nil:
			httpErr = err
			s.logger.WarnContext(ctx, "hybrid fetch: http attempt failed, escalating to browser", "url", url, "error", err)
		case IsBotProtected(result.HTML):
			httpResult, httpErr = result, ErrBotProtectionDetected
			s.logger.WarnContext(ctx, "hybrid fetch: bot protection detected, escalating to browser", "url", url)
		case visibleTextSize(result.HTML) < s.MinVisibleText:
			httpResult = result
			s.logger.DebugContext(ctx, "hybrid fetch: body implausibly small, escalating to browser", "url", url, "visible_bytes", visibleTextSize(result.HTML))
		case hasClientRenderedMarker(result.HTML):
			httpResult = result
			s.logger.DebugContext(ctx, "hybrid fetch: client-rendered marker found, escalating to browser", "url", url)
		default:
			return result, nil
		}
	}

	if s.browserFetcher == nil {
		if httpErr != nil {
			return nil, fmt.Errorf("scraper: hybrid fetch needs browser but none configured: %w", httpErr)
		}
		if httpResult != nil {
			// thin or client-rendered page with no browser to escalate
			// to: the HTTP body is still the best available answer
			return httpResult, nil
		}
		return nil, fmt.Errorf("scraper: hybrid fetch has neither http nor browser fetcher configured")
	}

	return s.browserFetcher.Fetch(ctx, url, ws)
}

// visibleTextSize measures how many bytes of human-visible text the
// page renders, the hybrid-mode signal for a JS shell that returned 200
// with no server-rendered content.
func visibleTextSize(html string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return len(html)
	}
	doc.Find("script, style, noscript").Remove()
	return len(strings.Join(strings.Fields(doc.Text()), " "))
}

// clientRenderedMarkers are strings whose presence marks a page as a
// client-side app shell that needs a browser to render.
var clientRenderedMarkers = []string{
	`id="root"`,
	`id="app"`,
	"__NEXT_DATA__",
	"data-reactroot",
	"ng-version=",
	"data-server-rendered",
}

func hasClientRenderedMarker(html string) bool {
	for _, marker := range clientRenderedMarkers {
		if strings.Contains(html, marker) {
			return true
		}
	}
	return false
}

// botProtectionMarkers are phrases the common challenge interstitials
// serve in place of the page.
var botProtectionMarkers = []string{
	"just a moment",
	"cf-browser-verification",
	"cf-challenge",
	"attention required!",
	"verify you are human",
	"checking your browser",
}

// IsBotProtected reports whether html looks like a bot-protection
// challenge page rather than content.
func IsBotProtected(html string) bool {
	lower := strings.ToLower(html)
	for _, marker := range botProtectionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
