package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aluiziolira/go-scrape-alaska/config"
	"github.com/aluiziolira/go-scrape-alaska/models"
	"github.com/aluiziolira/go-scrape-alaska/parser"
)

// Extractor produces a product record for a detail page URL.
type Extractor interface {
	Extract(ctx context.Context, url string) (*models.Product, error)
}

// NewExtractor returns the strategy named by cfg.Extractor. client is used
// for the third-party API strategies and may be nil.
func NewExtractor(cfg *config.Config, fetcher Fetcher, client *http.Client, metrics *Metrics, logger *slog.Logger) (Extractor, error) {
	switch cfg.Extractor {
	case "", config.ExtractorHTML:
		return NewHTMLExtractor(fetcher), nil
	case config.ExtractorFirecrawl:
		return NewFirecrawlExtractor(cfg, client, metrics), nil
	case config.ExtractorOpenAI:
		return NewOpenAIExtractor(cfg, fetcher, client, metrics, logger), nil
	default:
		return nil, fmt.Errorf("unknown extractor %q", cfg.Extractor)
	}
}

// HTMLExtractor fetches the page itself and parses the raw HTML.
type HTMLExtractor struct {
	fetcher Fetcher
	now     func() time.Time
}

// NewHTMLExtractor builds the default extraction strategy.
func NewHTMLExtractor(fetcher Fetcher) *HTMLExtractor {
	return &HTMLExtractor{fetcher: fetcher, now: time.Now}
}

// Extract implements Extractor.
func (e *HTMLExtractor) Extract(ctx context.Context, url string) (*models.Product, error) {
	page, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return parser.ParseDetail(page.HTML(), url, e.now()), nil
}
