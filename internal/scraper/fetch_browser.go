package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/Fazmin/syncengine/internal/models"
)

// browserFetcher fetches JS-rendered pages through a small pool of
// connections to one launched headless browser, returning each connection
// to the pool after use and opening a fresh page per fetch.
type browserFetcher struct {
	pool     chan *rod.Browser
	launcher *launcher.Launcher
	limiters map[string]*RateLimiter
	mu       sync.Mutex
}

// NewBrowserFetcher launches one headless Chromium process and connects
// poolSize browser clients to it.
// execPath may be empty to let the launcher download/locate a browser.
func NewBrowserFetcher(poolSize int, execPath string) (*browserFetcher, error) {
	if poolSize <= 0 {
		poolSize = 1
	}

	l := launcher.New().Headless(true)
	if execPath != "" {
		l = l.Bin(execPath)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("scraper: launch browser: %w", err)
	}

	f := &browserFetcher{
		pool:     make(chan *rod.Browser, poolSize),
		launcher: l,
		limiters: make(map[string]*RateLimiter),
	}

	for i := 0; i < poolSize; i++ {
		browser := rod.New().ControlURL(u)
		if err := browser.Connect(); err != nil {
			f.Close()
			return nil, fmt.Errorf("scraper: connect browser %d: %w", i, err)
		}
		f.pool <- browser
	}

	return f, nil
}

func (f *browserFetcher) Fetch(ctx context.Context, url string, ws *models.WebSource) (*FetchResult, error) {
	limiter := f.limiterFor(ws)
	release, err := limiter.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("scraper: rate limit acquire: %w", err)
	}
	defer release()

	var browser *rod.Browser
	select {
	case browser = <-f.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { f.pool <- browser }()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("scraper: open page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return nil, fmt.Errorf("scraper: navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("scraper: wait load %s: %w", url, err)
	}
	// give SPA-rendered pages a moment to finish client-side rendering
	page.Timeout(5 * time.Second).WaitStable(500 * time.Millisecond)

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("scraper: read rendered html: %w", err)
	}

	info, err := page.Info()
	finalURL := url
	if err == nil && info != nil {
		finalURL = info.URL
	}

	return &FetchResult{
		URL:        finalURL,
		StatusCode: 200,
		HTML:       html,
		FetchedAt:  time.Now(),
	}, nil
}

func (f *browserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	close(f.pool)
	for browser := range f.pool {
		browser.Close()
	}
	if f.launcher != nil {
		f.launcher.Cleanup()
	}
	return nil
}

func (f *browserFetcher) limiterFor(ws *models.WebSource) *RateLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if l, ok := f.limiters[ws.ID]; ok {
		return l
	}
	l := NewRateLimiter(ws.MaxConcurrent, time.Duration(ws.RequestDelayMs)*time.Millisecond)
	f.limiters[ws.ID] = l
	return l
}
