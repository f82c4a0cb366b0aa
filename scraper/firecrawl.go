package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	firecrawl "github.com/mendableai/firecrawl-go/v2"

	"github.com/aluiziolira/go-scrape-alaska/config"
	"github.com/aluiziolira/go-scrape-alaska/models"
	"github.com/aluiziolira/go-scrape-alaska/parser"
)

// FirecrawlExtractor asks the Firecrawl scrape API for the rendered HTML of
// a page and parses it with the regular detail parser.
type FirecrawlExtractor struct {
	endpoint string
	apiKey   string
	client   *http.Client
	metrics  *Metrics
	now      func() time.Time
}

// NewFirecrawlExtractor builds the API-backed strategy.
func NewFirecrawlExtractor(cfg *config.Config, client *http.Client, metrics *Metrics) *FirecrawlExtractor {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &FirecrawlExtractor{
		endpoint: strings.TrimSuffix(cfg.FirecrawlEndpoint, "/"),
		apiKey:   cfg.FirecrawlAPIKey,
		client:   client,
		metrics:  metrics,
		now:      time.Now,
	}
}

// callTransport binds one scrape call to ctx and keeps the last HTTP status
// the API answered with. The SDK reports failures as plain strings.
type callTransport struct {
	ctx    context.Context
	base   http.RoundTripper
	status int
}

func (t *callTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req.WithContext(t.ctx))
	if resp != nil {
		t.status = resp.StatusCode
	}
	return resp, err
}

// Extract implements Extractor.
func (e *FirecrawlExtractor) Extract(ctx context.Context, url string) (*models.Product, error) {
	base := e.client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	call := &callTransport{ctx: ctx, base: base}

	app, err := firecrawl.NewFirecrawlApp(e.apiKey, e.endpoint)
	if err != nil {
		return nil, fmt.Errorf("firecrawl client: %w", err)
	}
	app.Client = &http.Client{Transport: call, Timeout: e.client.Timeout}

	e.metrics.IncRequest("api")
	start := time.Now()
	doc, err := app.ScrapeURL(url, &firecrawl.ScrapeParams{Formats: []string{"html"}})
	e.metrics.ObserveDuration(time.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if call.status >= http.StatusBadRequest {
			return nil, classifyError(fmt.Errorf("firecrawl: %w", err), call.status)
		}
		return nil, classifyError(fmt.Errorf("firecrawl: %w", err), 0)
	}
	if doc == nil {
		return nil, errors.New("firecrawl: empty response")
	}
	if md := doc.Metadata; md != nil && md.StatusCode != nil && *md.StatusCode >= http.StatusBadRequest {
		return nil, classifyError(fmt.Errorf("firecrawl: target returned %d", *md.StatusCode), *md.StatusCode)
	}

	html := doc.HTML
	if html == "" {
		html = doc.RawHTML
	}
	if html == "" {
		return nil, fmt.Errorf("firecrawl returned no html for %s", url)
	}
	return parser.ParseDetail(html, url, e.now()), nil
}
