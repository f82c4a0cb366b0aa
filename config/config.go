package config

import (
	"fmt"
	"net/url"
	"time"
)

// PageCap is the hard ceiling on listing pages visited in one run.
const PageCap = 50

// Extraction strategies.
const (
	ExtractorHTML      = "html"
	ExtractorFirecrawl = "firecrawl"
	ExtractorOpenAI    = "openai"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL          string        `mapstructure:"base_url"`
	ListingURL       string        `mapstructure:"listing_url"`
	MaxPages         int           `mapstructure:"max_pages"`
	ListingDelay     time.Duration `mapstructure:"listing_delay"`
	DetailDelay      time.Duration `mapstructure:"detail_delay"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax  time.Duration `mapstructure:"retry_backoff_max"`
	DedupeMaxSize    int           `mapstructure:"dedupe_max_size"`
	OutputFile       string        `mapstructure:"output_file"`
	SampleOutputFile string        `mapstructure:"sample_output_file"`
	SampleURLs       []string      `mapstructure:"sample_urls"`
	OutputFormat     string        `mapstructure:"output_format"` // csv, json, or dual
	UserAgent        string        `mapstructure:"user_agent"`
	Verbose          bool          `mapstructure:"verbose"`
	MetricsAddr      string        `mapstructure:"metrics_addr"`

	Extractor         string `mapstructure:"extractor"` // html, firecrawl, or openai
	FirecrawlAPIKey   string `mapstructure:"firecrawl_api_key"`
	FirecrawlEndpoint string `mapstructure:"firecrawl_endpoint"`
	OpenAIAPIKey      string `mapstructure:"openai_api_key"`
	OpenAIModel       string `mapstructure:"openai_model"`
	OpenAIBaseURL     string `mapstructure:"openai_base_url"`
}

// DefaultConfig returns conservative defaults for alaska.vn.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:          "https://alaska.vn",
		ListingURL:       "https://alaska.vn/product/",
		MaxPages:         PageCap,
		ListingDelay:     1 * time.Second,
		DetailDelay:      2 * time.Second,
		Timeout:          30 * time.Second,
		MaxRetries:       2,
		RetryBackoff:     500 * time.Millisecond,
		RetryBackoffMax:  5 * time.Second,
		DedupeMaxSize:    100000,
		OutputFile:       "alaska_products.json",
		SampleOutputFile: "test_products.json",
		SampleURLs: []string{
			"https://alaska.vn/tu-mat-lc-535c/",
			"https://alaska.vn/tu-mat-2-canh-lc-800c/",
		},
		OutputFormat:      "json",
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		Verbose:           false,
		Extractor:         ExtractorHTML,
		FirecrawlEndpoint: "https://api.firecrawl.dev",
		OpenAIModel:       "gpt-4o-mini",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	if err := validateURL("base URL", c.BaseURL); err != nil {
		return err
	}
	if c.ListingURL == "" {
		return fmt.Errorf("listing URL cannot be empty")
	}
	if err := validateURL("listing URL", c.ListingURL); err != nil {
		return err
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.MaxPages > PageCap {
		return fmt.Errorf("max pages cannot exceed %d", PageCap)
	}
	if c.ListingDelay < 0 {
		return fmt.Errorf("listing delay cannot be negative")
	}
	if c.DetailDelay < 0 {
		return fmt.Errorf("detail delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.SampleOutputFile == "" {
		return fmt.Errorf("sample output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	switch c.Extractor {
	case ExtractorHTML:
	case ExtractorFirecrawl:
		if c.FirecrawlAPIKey == "" {
			return fmt.Errorf("firecrawl extractor requires an API key")
		}
		if err := validateURL("firecrawl endpoint", c.FirecrawlEndpoint); err != nil {
			return err
		}
	case ExtractorOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("openai extractor requires an API key")
		}
		if c.OpenAIModel == "" {
			return fmt.Errorf("openai extractor requires a model")
		}
	default:
		return fmt.Errorf("extractor must be html, firecrawl, or openai")
	}

	return nil
}

func validateURL(name, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}
