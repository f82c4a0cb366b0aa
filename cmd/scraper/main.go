package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-alaska/config"
	"github.com/aluiziolira/go-scrape-alaska/models"
	"github.com/aluiziolira/go-scrape-alaska/pipeline"
	"github.com/aluiziolira/go-scrape-alaska/scraper"
)

type runMode string

const (
	modeSample runMode = "sample"
	modeFull   runMode = "full"
)

var (
	cfgFile      string
	verbose      bool
	outputFile   string
	outputFormat string
	extractor    string
	maxPages     int
	listingDelay time.Duration
	detailDelay  time.Duration
	maxRetries   int
	metricsAddr  string
	baseURL      string
	listingURL   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scraper",
		Short: "Scrape the alaska.vn product catalog into a JSON file",
		Long: `Scrape product pages from alaska.vn.

  sample  extract a fixed list of product pages (default)
  full    walk the catalog listing, then extract every product found`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, modeSample, args)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file path")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVarP(&outputFile, "output", "o", "", "output file path (defaults per mode)")
	flags.StringVarP(&outputFormat, "format", "f", "", "output format: json, csv, or dual")
	flags.StringVar(&extractor, "extractor", "", "extraction strategy: html, firecrawl, or openai")
	flags.IntVar(&maxPages, "pages", 0, fmt.Sprintf("maximum listing pages to visit (at most %d)", config.PageCap))
	flags.DurationVar(&listingDelay, "listing-delay", 0, "delay between listing page requests")
	flags.DurationVar(&detailDelay, "detail-delay", 0, "delay between product page requests")
	flags.IntVar(&maxRetries, "max-retries", 0, "maximum retry attempts per URL")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	flags.StringVar(&baseURL, "base-url", "", "site root")
	flags.StringVar(&listingURL, "listing-url", "", "first catalog listing page")

	rootCmd.AddCommand(sampleCmd())
	rootCmd.AddCommand(fullCmd())

	if err := rootCmd.Execute(); err != nil {
		slog.Error("scraper failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func sampleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sample [urls...]",
		Short: "Extract a fixed list of product pages",
		Long:  "Extract the given product URLs, or the configured sample URLs when none are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, modeSample, args)
		},
	}
}

func fullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "full",
		Short: "Crawl the whole catalog",
		Long:  fmt.Sprintf("Follow the catalog listing pages (at most %d), then extract every product found.", config.PageCap),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, modeFull, nil)
		},
	}
}

func run(cmd *cobra.Command, mode runMode, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())
	logger = logger.With(slog.String("run_id", uuid.NewString()))

	output := cfg.OutputFile
	urls := args
	if mode == modeSample {
		output = cfg.SampleOutputFile
		if len(urls) == 0 {
			urls = cfg.SampleURLs
		}
	}
	if cmd.Flags().Changed("output") {
		output = outputFile
	}

	logger.Info("starting scrape",
		slog.String("mode", string(mode)),
		slog.String("extractor", cfg.Extractor),
		slog.String("listing_url", cfg.ListingURL),
		slog.Int("pages", cfg.MaxPages),
		slog.Int("urls", len(urls)),
		slog.String("output", output),
	)

	metrics := scraper.NewMetrics()
	s, err := scraper.NewScraper(cfg, scraper.WithLogger(logger), scraper.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("initialising scraper: %w", err)
	}

	writer, err := createWriter(cfg.OutputFormat, output)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	p := pipeline.NewPipeline(writer)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsServer := startMetricsServer(cfg.MetricsAddr, metrics.Registry, logger)
	defer shutdownMetricsServer(metricsServer, logger)

	startTime := time.Now()
	var result *models.ScraperResult
	if mode == modeFull {
		result, err = s.Run(ctx, p)
	} else {
		result, err = s.RunURLs(ctx, urls, p)
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) || result == nil {
			p.Discard()
			return fmt.Errorf("scraping failed: %w", err)
		}
		logger.Warn("interrupted, exporting products collected so far",
			slog.Int("products", result.TotalCount),
		)
	}

	if err := p.Close(); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	duration := time.Since(startTime)
	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(result.TotalCount) / duration.Seconds()
	}
	printSummary(result, duration, itemsPerSec, output, p.GetMetrics())
	return nil
}

// applyCLIOverrides copies explicitly set flags over the loaded config.
func applyCLIOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("verbose") {
		cfg.Verbose = verbose
	}
	if flags.Changed("format") {
		cfg.OutputFormat = strings.ToLower(outputFormat)
	}
	if flags.Changed("extractor") {
		cfg.Extractor = strings.ToLower(extractor)
	}
	if flags.Changed("pages") {
		cfg.MaxPages = maxPages
	}
	if flags.Changed("listing-delay") {
		cfg.ListingDelay = listingDelay
	}
	if flags.Changed("detail-delay") {
		cfg.DetailDelay = detailDelay
	}
	if flags.Changed("max-retries") {
		cfg.MaxRetries = maxRetries
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	if flags.Changed("base-url") {
		cfg.BaseURL = baseURL
	}
	if flags.Changed("listing-url") {
		cfg.ListingURL = listingURL
	}
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(withExt(filename, ".csv"))
	case "dual":
		return pipeline.NewDualWriter(withExt(filename, ".csv"), withExt(filename, ".json"))
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func withExt(filename, ext string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename)) + ext
}

func printSummary(result *models.ScraperResult, duration time.Duration, itemsPerSec float64, outputFile string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")

	fmt.Printf("  Products:      %d\n", result.TotalCount)
	if result.PageCount > 0 {
		fmt.Printf("  Listing pages: %d\n", result.PageCount)
	}
	fmt.Printf("  Product URLs:  %d\n", result.DiscoveredURLs)
	if result.Truncated {
		fmt.Printf("  Truncated:     page cap of %d reached\n", config.PageCap)
	}
	if result.ListingCutShort {
		fmt.Printf("  Cut short:     listing page %d failed, later pages not visited\n", result.PageCount+1)
	}
	successRate := 0.0
	if result.RequestCount > 0 {
		successRate = float64(result.RequestCount-result.ErrorCount) / float64(result.RequestCount) * 100
	}
	fmt.Printf("  Success rate:  %.2f%%\n", successRate)
	fmt.Printf("  Errors:        %d\n", result.ErrorCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	fmt.Printf("  Failed URLs:   %d\n", len(result.FailedURLs))
	for _, u := range result.FailedURLs {
		fmt.Printf("    - %s\n", u)
	}
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Items/sec:     %.2f\n", itemsPerSec)
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
