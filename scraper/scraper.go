package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-alaska/config"
	"github.com/aluiziolira/go-scrape-alaska/models"
	"github.com/aluiziolira/go-scrape-alaska/parser"
	"github.com/aluiziolira/go-scrape-alaska/pipeline"
)

const defaultDedupeSize = 100000

// Scraper drives the crawl: it walks the catalog listing pages, collects
// product URLs, then extracts each product in order. Everything runs on the
// calling goroutine with fixed delays between requests.
type Scraper struct {
	cfg        *config.Config
	fetcher    Fetcher
	extractor  Extractor
	httpClient *http.Client
	Metrics    *Metrics
	logger     *slog.Logger
	sleep      func(context.Context, time.Duration) error

	requestCount int
	pageCount    int
	errorCount   int
	discovered   int
	truncated    bool
	cutShort     bool
	failedURLs   []string
	errorsByType map[string]int
}

// Option customises a Scraper.
type Option func(*Scraper)

// WithFetcher replaces the default colly fetcher.
func WithFetcher(f Fetcher) Option {
	return func(s *Scraper) { s.fetcher = f }
}

// WithExtractor replaces the extractor selected by the configuration.
func WithExtractor(e Extractor) Option {
	return func(s *Scraper) { s.extractor = e }
}

// WithHTTPClient sets the client used by the API-backed extractors.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Scraper) { s.httpClient = c }
}

// WithMetrics shares a metrics registry with the caller.
func WithMetrics(m *Metrics) Option {
	return func(s *Scraper) { s.Metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scraper) { s.logger = l }
}

// WithSleep replaces the delay function, mostly for tests.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Scraper) { s.sleep = fn }
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config, opts ...Option) (*Scraper, error) {
	s := &Scraper{
		cfg:   cfg,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.Metrics == nil {
		s.Metrics = NewMetrics()
	}
	if s.fetcher == nil {
		fetcher, err := NewCollyFetcher(cfg, s.Metrics, s.logger)
		if err != nil {
			return nil, err
		}
		s.fetcher = fetcher
	}
	if s.extractor == nil {
		extractor, err := NewExtractor(cfg, s.fetcher, s.httpClient, s.Metrics, s.logger)
		if err != nil {
			return nil, err
		}
		s.extractor = extractor
	}
	s.reset()
	return s, nil
}

// Run crawls the catalog and feeds every extracted product into p. It fails
// with ErrListingUnavailable when the first listing page cannot be fetched.
// A cancelled context returns the partial result together with ctx.Err().
func (s *Scraper) Run(ctx context.Context, p *pipeline.Pipeline) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.reset()
	start := time.Now()

	urls, err := s.discover(ctx)
	if err != nil {
		if errors.Is(err, ErrListingUnavailable) {
			return nil, err
		}
		return s.result(start, p), err
	}
	s.logger.Info("listing phase complete",
		slog.Int("pages", s.pageCount),
		slog.Int("product_urls", len(urls)),
		slog.Bool("truncated", s.truncated),
		slog.Bool("cut_short", s.cutShort),
	)

	err = s.extractAll(ctx, urls, p)
	return s.result(start, p), err
}

// RunURLs extracts a fixed list of product pages, skipping discovery.
func (s *Scraper) RunURLs(ctx context.Context, urls []string, p *pipeline.Pipeline) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.reset()
	start := time.Now()

	unique := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok || u == "" {
			continue
		}
		seen[u] = struct{}{}
		unique = append(unique, u)
	}
	s.discovered = len(unique)
	s.Metrics.SetProductURLs(len(unique))

	err := s.extractAll(ctx, unique, p)
	return s.result(start, p), err
}

func (s *Scraper) discover(ctx context.Context) ([]string, error) {
	size := s.cfg.DedupeMaxSize
	if size <= 0 {
		size = defaultDedupeSize
	}
	seen, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}

	maxPages := s.cfg.MaxPages
	if maxPages <= 0 || maxPages > config.PageCap {
		maxPages = config.PageCap
	}

	var urls []string
	visited := make(map[string]struct{})
	next := s.cfg.ListingURL
	for page := 1; next != ""; page++ {
		if page > maxPages {
			s.truncated = true
			s.logger.Warn("page cap reached, stopping discovery",
				slog.Int("max_pages", maxPages),
				slog.String("next", next),
			)
			break
		}
		if _, ok := visited[next]; ok {
			s.logger.Warn("listing pagination loops back", slog.String("url", next))
			break
		}
		visited[next] = struct{}{}

		if page > 1 {
			if err := s.sleep(ctx, s.cfg.ListingDelay); err != nil {
				return urls, err
			}
		}

		s.requestCount++
		s.Metrics.IncRequest("listing")
		fetched, err := s.fetcher.Fetch(ctx, next)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return urls, ctxErr
			}
			s.recordFailure(next, err)
			if page == 1 {
				return nil, fmt.Errorf("%w: %s: %w", ErrListingUnavailable, next, err)
			}
			s.cutShort = true
			s.logger.Warn("skipping remaining listing pages", slog.String("url", next), slog.Any("error", err))
			break
		}
		s.pageCount++
		s.Metrics.IncListingPages()

		pageURL := fetched.URL
		if pageURL == "" {
			pageURL = next
		}
		listing := parser.ParseListing(fetched.HTML(), pageURL)

		added := 0
		for _, u := range listing.URLs {
			// grow rather than evict: an evicted URL would be fetched twice
			if seen.Len() >= size {
				size *= 2
				seen.Resize(size)
			}
			if found, _ := seen.ContainsOrAdd(u, struct{}{}); found {
				continue
			}
			urls = append(urls, u)
			added++
		}
		s.logger.Debug("listing page parsed",
			slog.Int("page", page),
			slog.String("url", pageURL),
			slog.Int("found", len(listing.URLs)),
			slog.Int("new", added),
		)

		if len(listing.URLs) == 0 {
			s.logger.Info("listing page has no products, ending pagination", slog.Int("page", page))
			break
		}
		next = listing.Next
	}

	s.discovered = len(urls)
	s.Metrics.SetProductURLs(len(urls))
	return urls, nil
}

func (s *Scraper) extractAll(ctx context.Context, urls []string, p *pipeline.Pipeline) error {
	for i, u := range urls {
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.DetailDelay); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		s.requestCount++
		s.Metrics.IncRequest("detail")
		product, err := s.extractor.Extract(ctx, u)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			s.recordFailure(u, err)
			continue
		}
		s.Metrics.IncRecords(s.extractorName())

		if err := p.Process(product); err != nil {
			if errors.Is(err, pipeline.ErrPipelineClosed) {
				return err
			}
			s.logger.Warn("product rejected", slog.String("url", u), slog.Any("error", err))
			continue
		}
		s.logger.Debug("product extracted",
			slog.Int("index", i+1),
			slog.Int("total", len(urls)),
			slog.String("name", product.Name),
			slog.String("msp", product.MSP),
		)
	}
	return nil
}

func (s *Scraper) recordFailure(url string, err error) {
	category := errorTypeLabel(err)
	s.errorCount++
	s.errorsByType[category]++
	s.failedURLs = append(s.failedURLs, url)
	s.Metrics.IncError(category)
	s.logger.Error("request error",
		slog.String("url", url),
		slog.String("category", category),
		slog.Any("error", err),
	)
}

func (s *Scraper) extractorName() string {
	if s.cfg.Extractor == "" {
		return config.ExtractorHTML
	}
	return s.cfg.Extractor
}

func (s *Scraper) reset() {
	s.requestCount = 0
	s.pageCount = 0
	s.errorCount = 0
	s.discovered = 0
	s.truncated = false
	s.cutShort = false
	s.failedURLs = nil
	s.errorsByType = make(map[string]int)
}

func (s *Scraper) result(start time.Time, p *pipeline.Pipeline) *models.ScraperResult {
	failed := make([]string, len(s.failedURLs))
	copy(failed, s.failedURLs)
	byType := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		byType[k] = v
	}

	result := &models.ScraperResult{
		Products:        p.Products(),
		StartTime:       start,
		EndTime:         time.Now(),
		ErrorCount:      s.errorCount,
		FailedURLs:      failed,
		ErrorsByType:    byType,
		RequestCount:    s.requestCount,
		PageCount:       s.pageCount,
		DiscoveredURLs:  s.discovered,
		Truncated:       s.truncated,
		ListingCutShort: s.cutShort,
	}
	if r, ok := s.fetcher.(interface{ TotalRetries() int }); ok {
		result.RetryCount = r.TotalRetries()
	}
	if metrics := p.GetMetrics(); metrics != nil {
		if processed, ok := metrics["processed_products"].(int64); ok {
			result.TotalCount = int(processed)
		}
	}
	return result
}
