package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-alaska/config"
	"github.com/aluiziolira/go-scrape-alaska/models"
	"github.com/aluiziolira/go-scrape-alaska/pipeline"
)

const testListingURL = "https://alaska.vn/product/"

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.MaxRetries = 0
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = time.Millisecond
	return cfg
}

func newTestFetcher(t *testing.T, cfg *config.Config, transport http.RoundTripper) *CollyFetcher {
	t.Helper()
	f, err := NewCollyFetcher(cfg, NewMetrics(), nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	f.WithTransport(transport)
	f.sleep = noSleep
	return f
}

func newTestScraper(t *testing.T, cfg *config.Config, transport http.RoundTripper, opts ...Option) *Scraper {
	t.Helper()
	opts = append([]Option{WithFetcher(newTestFetcher(t, cfg, transport)), WithSleep(noSleep)}, opts...)
	s, err := NewScraper(cfg, opts...)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	return s
}

type collectingWriter struct {
	products []*models.Product
	closed   bool
}

func (cw *collectingWriter) Write(products []*models.Product) error {
	cw.products = append(cw.products, products...)
	return nil
}

func (cw *collectingWriter) Close() error {
	cw.closed = true
	return nil
}

func (cw *collectingWriter) Validate() error {
	return nil
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	return httpmock.ResponderFromResponse(resp)
}

func buildListingPage(slugs []string, next string) string {
	var builder strings.Builder
	builder.WriteString(`<html><body><nav><a href="/">Trang chủ</a><a href="/lien-he/">Liên hệ</a></nav><div class="products">`)
	for _, slug := range slugs {
		fmt.Fprintf(&builder, `<div class="product"><a href="https://alaska.vn/%s/"><img src="/wp-content/uploads/%s.jpg"></a>`, slug, slug)
		fmt.Fprintf(&builder, `<h3><a href="https://alaska.vn/%s/">%s</a></h3></div>`, slug, strings.ToUpper(slug))
	}
	builder.WriteString(`</div>`)
	if next != "" {
		fmt.Fprintf(&builder, `<nav class="pagination"><a class="next page-numbers" href="%s">»</a></nav>`, next)
	}
	builder.WriteString(`</body></html>`)
	return builder.String()
}

const detailWithPrices = `<html><head><title>Tủ mát LC-100 | Alaska</title></head><body>
<h1>Tủ mát LC-100</h1>
<p>MSP: LC-100</p>
<p>MIỀN BẮC: 10.000.000 VNĐ</p>
<ul class="product-features"><li>Làm lạnh nhanh</li><li>Tiết kiệm điện</li></ul>
<table><tr><td>Dung tích</td><td>100 lít</td></tr></table>
<img src="/wp-content/uploads/lc-100.jpg">
</body></html>`

const detailWithoutPrices = `<html><head><title>Tủ mát LC-200 | Alaska</title></head><body>
<h1>Tủ mát LC-200</h1>
<p>Sản phẩm đang được cập nhật.</p>
</body></html>`

func TestBackoffCapped(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = 200 * time.Millisecond
	cfg.RetryBackoffMax = 500 * time.Millisecond

	if got := backoff(cfg, 1); got != 200*time.Millisecond {
		t.Fatalf("first backoff = %v, want 200ms", got)
	}
	if got := backoff(cfg, 2); got != 400*time.Millisecond {
		t.Fatalf("second backoff = %v, want 400ms", got)
	}
	if got := backoff(cfg, 4); got > cfg.RetryBackoffMax {
		t.Fatalf("delay %v exceeds max %v", got, cfg.RetryBackoffMax)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server", err: errors.New("Service Unavailable"), statusCode: http.StatusServiceUnavailable, expected: "server"},
		{name: "canceled", err: context.Canceled, statusCode: 0, expected: "canceled"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestFetcherHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
		{status: http.StatusInternalServerError, expected: "server"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			cfg := testConfig()
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", testListingURL, httpmock.NewStringResponder(tt.status, ""))

			f := newTestFetcher(t, cfg, transport)
			_, err := f.Fetch(context.Background(), testListingURL)
			if err == nil {
				t.Fatalf("expected error for status %d", tt.status)
			}
			if got := errorTypeLabel(err); got != tt.expected {
				t.Fatalf("label = %q, want %q (err=%v)", got, tt.expected, err)
			}
		})
	}
}

func TestFetcherRetriesServerErrors(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2

	calls := 0
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testListingURL, func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return httpmock.NewStringResponse(http.StatusServiceUnavailable, ""), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, "<html><body>ok</body></html>"), nil
	})

	f := newTestFetcher(t, cfg, transport)
	page, err := f.Fetch(context.Background(), testListingURL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if f.TotalRetries() != 1 {
		t.Fatalf("retries = %d, want 1", f.TotalRetries())
	}
	if !strings.Contains(page.HTML(), "ok") {
		t.Fatalf("unexpected body %q", page.HTML())
	}
}

func TestFetcherDoesNotRetryNotFound(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 3

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testListingURL, httpmock.NewStringResponder(http.StatusNotFound, ""))

	f := newTestFetcher(t, cfg, transport)
	if _, err := f.Fetch(context.Background(), testListingURL); err == nil {
		t.Fatal("expected error")
	}
	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestFetcherStopsRetryingOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 5

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testListingURL, httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

	ctx, cancel := context.WithCancel(context.Background())
	f := newTestFetcher(t, cfg, transport)
	f.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	if _, err := f.Fetch(ctx, testListingURL); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestScraper_Integration(t *testing.T) {
	cfg := testConfig()
	page2 := "https://alaska.vn/product/page/2/"

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testListingURL, htmlResponder(buildListingPage([]string{"tu-mat-lc-100", "tu-mat-lc-200"}, page2)))
	transport.RegisterResponder("GET", page2, htmlResponder(buildListingPage([]string{"tu-mat-lc-200"}, "")))
	transport.RegisterResponder("GET", "https://alaska.vn/tu-mat-lc-100/", htmlResponder(detailWithPrices))
	transport.RegisterResponder("GET", "https://alaska.vn/tu-mat-lc-200/", htmlResponder(detailWithoutPrices))

	recorder := &sleepRecorder{}
	s := newTestScraper(t, cfg, transport, WithSleep(recorder.sleep))

	writer := &collectingWriter{}
	p := pipeline.NewPipeline(writer)

	result, err := s.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}

	if result.PageCount != 2 {
		t.Fatalf("pages = %d, want 2", result.PageCount)
	}
	if result.DiscoveredURLs != 2 {
		t.Fatalf("discovered = %d, want 2", result.DiscoveredURLs)
	}
	if result.TotalCount != 2 || len(writer.products) != 2 {
		t.Fatalf("products = %d/%d, want 2 (failed=%v)", result.TotalCount, len(writer.products), result.FailedURLs)
	}
	if result.Truncated || result.ListingCutShort {
		t.Fatal("run should cover every listing page")
	}

	calls := transport.GetCallCountInfo()
	if got := calls["GET https://alaska.vn/tu-mat-lc-200/"]; got != 1 {
		t.Fatalf("duplicate product fetched %d times, want 1", got)
	}

	first, second := writer.products[0], writer.products[1]
	if first.URL != "https://alaska.vn/tu-mat-lc-100/" || second.URL != "https://alaska.vn/tu-mat-lc-200/" {
		t.Fatalf("unexpected order: %s, %s", first.URL, second.URL)
	}
	if first.Name != "Tủ mát LC-100" || first.MSP != "LC-100" {
		t.Fatalf("first product = %q/%q", first.Name, first.MSP)
	}
	if v, _ := first.Prices.Get("MIỀN BẮC"); v != "10.000.000 VNĐ" {
		t.Fatalf("MIỀN BẮC price = %q", v)
	}
	if len(first.Features) != 2 {
		t.Fatalf("features = %v, want 2", first.Features)
	}
	if len(second.Prices) != 0 || second.Prices == nil {
		t.Fatalf("second product prices = %#v, want empty mapping", second.Prices)
	}
	if len(second.Features) != 0 || second.Features == nil {
		t.Fatalf("second product features = %#v, want empty list", second.Features)
	}
	if second.ScrapedAt.IsZero() {
		t.Fatal("scraped_at must be set")
	}

	want := []time.Duration{cfg.ListingDelay, cfg.DetailDelay}
	if len(recorder.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", recorder.delays, want)
	}
	for i := range want {
		if recorder.delays[i] != want[i] {
			t.Fatalf("delays = %v, want %v", recorder.delays, want)
		}
	}
}

type stubExtractor struct {
	calls []string
	fail  map[string]error
}

func (e *stubExtractor) Extract(_ context.Context, url string) (*models.Product, error) {
	e.calls = append(e.calls, url)
	if err := e.fail[url]; err != nil {
		return nil, err
	}
	p := models.NewProduct(url, time.Now())
	p.Name = url
	return p, nil
}

func TestScraperStopsAtPageCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = config.PageCap

	pageURL := func(n int) string {
		if n == 1 {
			return testListingURL
		}
		return fmt.Sprintf("https://alaska.vn/product/page/%d/", n)
	}

	transport := httpmock.NewMockTransport()
	for n := 1; n <= config.PageCap+1; n++ {
		transport.RegisterResponder("GET", pageURL(n), htmlResponder(buildListingPage([]string{fmt.Sprintf("item-%d", n)}, pageURL(n+1))))
	}

	extractor := &stubExtractor{}
	s := newTestScraper(t, cfg, transport, WithExtractor(extractor))
	p := pipeline.NewPipeline(&collectingWriter{})

	result, err := s.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.PageCount != config.PageCap {
		t.Fatalf("pages = %d, want %d", result.PageCount, config.PageCap)
	}
	if !result.Truncated {
		t.Fatal("expected truncated result")
	}
	if got := transport.GetCallCountInfo()["GET "+pageURL(config.PageCap+1)]; got != 0 {
		t.Fatalf("page %d was requested %d times", config.PageCap+1, got)
	}
	if len(extractor.calls) != config.PageCap {
		t.Fatalf("extracted %d products, want %d", len(extractor.calls), config.PageCap)
	}
}

func TestScraperDedupeSurvivesSmallCache(t *testing.T) {
	cfg := testConfig()
	cfg.DedupeMaxSize = 1
	page2 := "https://alaska.vn/product/page/2/"
	page3 := "https://alaska.vn/product/page/3/"

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testListingURL, htmlResponder(buildListingPage([]string{"a-1", "b-2"}, page2)))
	transport.RegisterResponder("GET", page2, htmlResponder(buildListingPage([]string{"c-3"}, page3)))
	transport.RegisterResponder("GET", page3, htmlResponder(buildListingPage([]string{"a-1", "d-4"}, "")))

	extractor := &stubExtractor{}
	s := newTestScraper(t, cfg, transport, WithExtractor(extractor))
	p := pipeline.NewPipeline(&collectingWriter{})

	result, err := s.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"https://alaska.vn/a-1/", "https://alaska.vn/b-2/", "https://alaska.vn/c-3/", "https://alaska.vn/d-4/"}
	if strings.Join(extractor.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("extracted %v, want %v", extractor.calls, want)
	}
	if result.DiscoveredURLs != len(want) {
		t.Fatalf("discovered = %d, want %d", result.DiscoveredURLs, len(want))
	}
}

func TestScraperFirstListingFailureIsFatal(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testListingURL, httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	extractor := &stubExtractor{}
	s := newTestScraper(t, cfg, transport, WithExtractor(extractor))
	writer := &collectingWriter{}
	p := pipeline.NewPipeline(writer)

	result, err := s.Run(context.Background(), p)
	if !errors.Is(err, ErrListingUnavailable) {
		t.Fatalf("expected ErrListingUnavailable, got %v", err)
	}
	if result != nil {
		t.Fatalf("expected no result, got %+v", result)
	}
	if len(extractor.calls) != 0 {
		t.Fatalf("no product should be extracted, got %v", extractor.calls)
	}
	if errorTypeLabel(err) != "server" {
		t.Fatalf("underlying error should stay classified, got %q", errorTypeLabel(err))
	}
}

func TestScraperLaterListingFailureIsSkipped(t *testing.T) {
	cfg := testConfig()
	page2 := "https://alaska.vn/product/page/2/"

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testListingURL, htmlResponder(buildListingPage([]string{"tu-mat-lc-100"}, page2)))
	transport.RegisterResponder("GET", page2, httpmock.NewStringResponder(http.StatusNotFound, ""))

	extractor := &stubExtractor{}
	s := newTestScraper(t, cfg, transport, WithExtractor(extractor))
	p := pipeline.NewPipeline(&collectingWriter{})

	result, err := s.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.PageCount != 1 || result.TotalCount != 1 {
		t.Fatalf("pages=%d products=%d, want 1/1", result.PageCount, result.TotalCount)
	}
	if result.ErrorsByType["not_found"] != 1 {
		t.Fatalf("errors by type = %v", result.ErrorsByType)
	}
	if len(result.FailedURLs) != 1 || result.FailedURLs[0] != page2 {
		t.Fatalf("failed urls = %v", result.FailedURLs)
	}
	if !result.ListingCutShort || result.Truncated {
		t.Fatalf("cut short=%v truncated=%v, want true/false", result.ListingCutShort, result.Truncated)
	}
}

func TestScraperEmptyListingEndsPagination(t *testing.T) {
	cfg := testConfig()
	page2 := "https://alaska.vn/product/page/2/"

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testListingURL, htmlResponder(buildListingPage(nil, page2)))
	transport.RegisterResponder("GET", page2, htmlResponder(buildListingPage([]string{"tu-mat-lc-100"}, "")))

	s := newTestScraper(t, cfg, transport, WithExtractor(&stubExtractor{}))
	p := pipeline.NewPipeline(&collectingWriter{})

	result, err := s.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.PageCount != 1 || result.DiscoveredURLs != 0 {
		t.Fatalf("pages=%d discovered=%d, want 1/0", result.PageCount, result.DiscoveredURLs)
	}
	if got := transport.GetCallCountInfo()["GET "+page2]; got != 0 {
		t.Fatalf("page 2 requested %d times", got)
	}
}

func TestScraperDetailFailureIsSkipped(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testListingURL, htmlResponder(buildListingPage([]string{"a-1", "b-2", "c-3"}, "")))

	failing := "https://alaska.vn/b-2/"
	extractor := &stubExtractor{fail: map[string]error{failing: ErrNotFound{Err: errors.New("Not Found")}}}
	s := newTestScraper(t, cfg, transport, WithExtractor(extractor))
	writer := &collectingWriter{}
	p := pipeline.NewPipeline(writer)

	result, err := s.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(extractor.calls) != 3 {
		t.Fatalf("extractor calls = %v, want all 3 attempted", extractor.calls)
	}
	if len(writer.products) != 2 {
		t.Fatalf("written = %d, want 2", len(writer.products))
	}
	if result.ErrorCount != 1 || result.FailedURLs[0] != failing {
		t.Fatalf("errors=%d failed=%v", result.ErrorCount, result.FailedURLs)
	}
}

func TestScraperRunURLs(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterRegexpResponder("GET", regexp.MustCompile(`^https://alaska\.vn/tu-mat-lc-\d+[a-z]?/$`), htmlResponder(detailWithoutPrices))

	recorder := &sleepRecorder{}
	s := newTestScraper(t, cfg, transport, WithSleep(recorder.sleep))
	writer := &collectingWriter{}
	p := pipeline.NewPipeline(writer)

	urls := []string{
		"https://alaska.vn/tu-mat-lc-535c/",
		"https://alaska.vn/tu-mat-lc-800c/",
		"https://alaska.vn/tu-mat-lc-535c/",
	}
	result, err := s.RunURLs(context.Background(), urls, p)
	if err != nil {
		t.Fatalf("run urls: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if result.DiscoveredURLs != 2 || len(writer.products) != 2 {
		t.Fatalf("discovered=%d written=%d, want 2/2", result.DiscoveredURLs, len(writer.products))
	}
	if result.PageCount != 0 {
		t.Fatalf("sample mode must not visit listing pages, got %d", result.PageCount)
	}
	if got := transport.GetTotalCallCount(); got != 2 {
		t.Fatalf("detail fetches = %d, want 2", got)
	}
	if writer.products[0].URL != urls[0] || writer.products[1].URL != urls[1] {
		t.Fatalf("unexpected order: %s, %s", writer.products[0].URL, writer.products[1].URL)
	}
	if len(recorder.delays) != 1 || recorder.delays[0] != cfg.DetailDelay {
		t.Fatalf("delays = %v, want one detail delay", recorder.delays)
	}
}

func TestScraperRunURLsAllFailedStillExports(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterNoResponder(httpmock.NewStringResponder(http.StatusNotFound, ""))

	s := newTestScraper(t, cfg, transport)
	writer := &collectingWriter{}
	p := pipeline.NewPipeline(writer)

	result, err := s.RunURLs(context.Background(), []string{"https://alaska.vn/a-1/", "https://alaska.vn/b-2/"}, p)
	if err != nil {
		t.Fatalf("run urls: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !writer.closed || len(writer.products) != 0 {
		t.Fatalf("closed=%v written=%d, want empty export", writer.closed, len(writer.products))
	}
	if result.ErrorsByType["not_found"] != 2 {
		t.Fatalf("errors by type = %v", result.ErrorsByType)
	}
}

func TestScraperCancelledRunReturnsPartialResult(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testListingURL, htmlResponder(buildListingPage([]string{"a-1", "b-2"}, "")))

	ctx, cancel := context.WithCancel(context.Background())
	extractor := &stubExtractor{}
	s := newTestScraper(t, cfg, transport,
		WithExtractor(extractor),
		WithSleep(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}),
	)
	p := pipeline.NewPipeline(&collectingWriter{})

	result, err := s.Run(ctx, p)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result == nil || result.TotalCount != 1 {
		t.Fatalf("expected one product before cancellation, got %+v", result)
	}
}
