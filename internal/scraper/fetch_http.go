package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Fazmin/syncengine/internal/models"
)

// httpFetcher retrieves pages with net/http, applying a WebSource's auth
// config and rate policy. It is the default fetcher; next-button crawling
// (FollowNextButton) runs its own colly collector with its own transport
// and does not go through this fetcher.
type httpFetcher struct {
	client   *http.Client
	limiters map[string]*RateLimiter
}

// NewHTTPFetcher builds an httpFetcher with a shared *http.Client.
func NewHTTPFetcher(timeout time.Duration) *httpFetcher {
	return &httpFetcher{
		client: &http.Client{
			Timeout: timeout,
		},
		limiters: make(map[string]*RateLimiter),
	}
}

func (f *httpFetcher) Fetch(ctx context.Context, url string, ws *models.WebSource) (*FetchResult, error) {
	limiter := f.limiterFor(ws)
	release, err := limiter.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("scraper: rate limit acquire: %w", err)
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("scraper: build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; syncengine/1.0)")

	if err := applyAuth(req, ws); err != nil {
		return nil, fmt.Errorf("scraper: apply auth: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scraper: http get %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("scraper: read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("scraper: %s returned status %d", url, resp.StatusCode)
	}

	return &FetchResult{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		HTML:       string(body),
		FetchedAt:  time.Now(),
	}, nil
}

func (f *httpFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// limiterFor returns (creating on first use) the rate limiter for ws's
// own concurrency/delay policy, keyed by WebSource ID so distinct
// WebSources never share a bucket.
func (f *httpFetcher) limiterFor(ws *models.WebSource) *RateLimiter {
	if l, ok := f.limiters[ws.ID]; ok {
		return l
	}
	l := NewRateLimiter(ws.MaxConcurrent, time.Duration(ws.RequestDelayMs)*time.Millisecond)
	f.limiters[ws.ID] = l
	return l
}

func applyAuth(req *http.Request, ws *models.WebSource) error {
	switch ws.AuthType {
	case models.AuthTypeNone, "":
		return nil
	case models.AuthTypeCookie:
		cfg, err := decodeAuthConfig(ws.AuthConfig)
		if err != nil {
			return err
		}
		if cookie, ok := cfg["cookie"]; ok {
			req.Header.Set("Cookie", cookie)
		}
		return nil
	case models.AuthTypeHeader:
		cfg, err := decodeAuthConfig(ws.AuthConfig)
		if err != nil {
			return err
		}
		for k, v := range cfg {
			req.Header.Set(k, v)
		}
		return nil
	case models.AuthTypeBasic:
		cfg, err := decodeAuthConfig(ws.AuthConfig)
		if err != nil {
			return err
		}
		req.SetBasicAuth(cfg["username"], cfg["password"])
		return nil
	default:
		return fmt.Errorf("unsupported auth type %q", ws.AuthType)
	}
}
