package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Fazmin/syncengine/internal/models"
)

type stubFetcher struct {
	html  string
	err   error
	calls int
}

func (f *stubFetcher) Fetch(ctx context.Context, url string, ws *models.WebSource) (*FetchResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &FetchResult{URL: url, StatusCode: 200, HTML: f.html}, nil
}

func (f *stubFetcher) Close() error { return nil }

// fullPage is comfortably above the visible-text threshold and free of
// client-rendered markers.
func fullPage() string {
	var sb strings.Builder
	sb.WriteString("<html><body><h1>Product Listing</h1>")
	for i := 0; i < 60; i++ {
		sb.WriteString("<p>A reasonably long paragraph of server-rendered catalog text.</p>")
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

func hybridWS() *models.WebSource {
	return &models.WebSource{ID: "w1", ScraperType: models.ScraperTypeHybrid}
}

func TestHybridFetchKeepsSubstantialHTTPResult(t *testing.T) {
	httpF := &stubFetcher{html: fullPage()}
	browserF := &stubFetcher{html: "<html><body>browser rendered</body></html>"}
	s := New(httpF, browserF, nil)

	result, err := s.Fetch(context.Background(), "https://example.test", hybridWS())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if browserF.calls != 0 {
		t.Errorf("browser calls = %d, want 0 for a substantial http body", browserF.calls)
	}
	if !strings.Contains(result.HTML, "Product Listing") {
		t.Errorf("result.HTML = %q, want the http body", result.HTML)
	}
}

func TestHybridFetchEscalatesOnTinyBody(t *testing.T) {
	// HTTP 200 with a ~50-byte JS shell: no Go error, but the visible
	// text is far under the threshold
	httpF := &stubFetcher{html: `<html><body><div id="spa"></div></body></html>`}
	browserF := &stubFetcher{html: fullPage()}
	s := New(httpF, browserF, nil)

	result, err := s.Fetch(context.Background(), "https://example.test", hybridWS())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if httpF.calls != 1 || browserF.calls != 1 {
		t.Errorf("calls http/browser = %d/%d, want 1/1", httpF.calls, browserF.calls)
	}
	if !strings.Contains(result.HTML, "Product Listing") {
		t.Errorf("result.HTML = %q, want the browser-rendered body", result.HTML)
	}
}

func TestHybridFetchEscalatesOnClientRenderedMarker(t *testing.T) {
	// bulk the body up past the size threshold so only the marker triggers
	shell := `<html><body><div id="root"></div><p>` + strings.Repeat("filler text ", 100) + `</p></body></html>`
	httpF := &stubFetcher{html: shell}
	browserF := &stubFetcher{html: fullPage()}
	s := New(httpF, browserF, nil)

	if _, err := s.Fetch(context.Background(), "https://example.test", hybridWS()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if browserF.calls != 1 {
		t.Errorf("browser calls = %d, want escalation on id=\"root\" marker", browserF.calls)
	}
}

func TestHybridFetchEscalatesOnBotProtection(t *testing.T) {
	challenge := `<html><head><title>Just a moment...</title></head><body>` +
		strings.Repeat("<p>Checking your browser before accessing the site.</p>", 30) + `</body></html>`
	httpF := &stubFetcher{html: challenge}
	browserF := &stubFetcher{html: fullPage()}
	s := New(httpF, browserF, nil)

	result, err := s.Fetch(context.Background(), "https://example.test", hybridWS())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if browserF.calls != 1 {
		t.Errorf("browser calls = %d, want escalation on challenge page", browserF.calls)
	}
	if strings.Contains(result.HTML, "Just a moment") {
		t.Error("expected the browser body, not the challenge interstitial")
	}
}

func TestHybridFetchBotProtectionWithoutBrowserSurfacesError(t *testing.T) {
	challenge := `<html><body>Verify you are human</body></html>`
	httpF := &stubFetcher{html: challenge}
	s := New(httpF, nil, nil)

	_, err := s.Fetch(context.Background(), "https://example.test", hybridWS())
	if !errors.Is(err, ErrBotProtectionDetected) {
		t.Fatalf("err = %v, want ErrBotProtectionDetected", err)
	}
}

func TestHybridFetchThinBodyWithoutBrowserReturnsHTTPResult(t *testing.T) {
	shell := `<html><body><div id="spa"></div></body></html>`
	httpF := &stubFetcher{html: shell}
	s := New(httpF, nil, nil)

	result, err := s.Fetch(context.Background(), "https://example.test", hybridWS())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if result.HTML != shell {
		t.Errorf("result.HTML = %q, want the http body as best effort", result.HTML)
	}
}

func TestHybridFetchFallsBackOnHTTPError(t *testing.T) {
	httpF := &stubFetcher{err: fmt.Errorf("connection refused")}
	browserF := &stubFetcher{html: fullPage()}
	s := New(httpF, browserF, nil)

	if _, err := s.Fetch(context.Background(), "https://example.test", hybridWS()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if browserF.calls != 1 {
		t.Errorf("browser calls = %d, want 1 after http error", browserF.calls)
	}
}

func TestBrowserModeWithoutFetcherFails(t *testing.T) {
	s := New(&stubFetcher{html: fullPage()}, nil, nil)
	ws := &models.WebSource{ID: "w1", ScraperType: models.ScraperTypeBrowser}

	if _, err := s.Fetch(context.Background(), "https://example.test", ws); err == nil {
		t.Fatal("expected error for browser mode with no browser fetcher")
	}
}
