package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-alaska/config"
	"github.com/aluiziolira/go-scrape-alaska/parser"
	"github.com/gocolly/colly/v2"
)

// Page is a fetched HTML document.
type Page struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// HTML returns the body decoded to UTF-8.
func (p *Page) HTML() string {
	return parser.DecodeHTML(p.Body, p.ContentType)
}

// Fetcher retrieves one page, retrying transient failures itself.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Page, error)
}

// CollyFetcher fetches pages one at a time through a synchronous colly
// collector.
type CollyFetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	metrics   *Metrics
	logger    *slog.Logger
	sleep     func(context.Context, time.Duration) error

	// one request is in flight at a time; mu guards the callback state
	mu      sync.Mutex
	current *fetchState
	retries int
}

type fetchState struct {
	page   *Page
	status int
	start  time.Time
}

// NewCollyFetcher builds a fetcher restricted to the configured site.
func NewCollyFetcher(cfg *config.Config, metrics *Metrics, logger *slog.Logger) (*CollyFetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}
	if logger == nil {
		logger = slog.Default()
	}

	host := strings.TrimPrefix(parsed.Hostname(), "www.")
	collector := colly.NewCollector(
		colly.AllowedDomains(host, "www."+host),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	f := &CollyFetcher{
		cfg:       cfg,
		collector: collector,
		metrics:   metrics,
		logger:    logger.With("component", "fetcher"),
		sleep:     sleepContext,
	}
	f.configureHandlers()
	return f, nil
}

// WithTransport swaps the HTTP transport used by the collector.
func (f *CollyFetcher) WithTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}

// TotalRetries reports how many retry attempts have been made.
func (f *CollyFetcher) TotalRetries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.retries
}

// Fetch GETs rawURL, retrying timeouts, connection failures, 429 and 5xx
// responses with capped exponential backoff.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(f.cfg, attempt)
			f.logger.Debug("retrying request",
				slog.String("url", rawURL),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", delay),
			)
			f.mu.Lock()
			f.retries++
			f.mu.Unlock()
			f.metrics.IncRetries()
			if err := f.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := f.fetchOnce(rawURL)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return nil, lastErr
}

func (f *CollyFetcher) fetchOnce(rawURL string) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state := &fetchState{}
	f.current = state
	defer func() { f.current = nil }()

	if err := f.collector.Visit(rawURL); err != nil {
		return nil, classifyError(err, state.status)
	}
	if state.page == nil {
		return nil, fmt.Errorf("no response for %s", rawURL)
	}
	return state.page, nil
}

func (f *CollyFetcher) configureHandlers() {
	f.collector.OnRequest(func(r *colly.Request) {
		if f.current != nil {
			f.current.start = time.Now()
		}
	})

	f.collector.OnResponse(func(r *colly.Response) {
		state := f.current
		if state == nil {
			return
		}
		if !state.start.IsZero() {
			f.metrics.ObserveDuration(time.Since(state.start))
		}
		state.status = r.StatusCode
		state.page = &Page{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        r.Body,
		}
	})

	f.collector.OnError(func(r *colly.Response, err error) {
		state := f.current
		if state == nil || r == nil {
			return
		}
		state.status = r.StatusCode
	})
}

func backoff(cfg *config.Config, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
