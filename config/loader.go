package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. SCRAPER_MAX_PAGES.
const EnvPrefix = "SCRAPER"

// ConfigName is the file searched for in . and ./configs when no path is
// given, with any extension viper understands. It must differ from the
// binary name: viper also tries the bare name once a config type is set.
const ConfigName = "alaska-scraper"

// Load builds a Config from defaults, an optional YAML file and the
// environment. A .env file in the working directory is read first so API
// credentials can live outside the shell profile.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// the upstream services document these names without our prefix
	_ = v.BindEnv("firecrawl_api_key", EnvPrefix+"_FIRECRAWL_API_KEY", "FIRECRAWL_API_KEY")
	_ = v.BindEnv("openai_api_key", EnvPrefix+"_OPENAI_API_KEY", "OPENAI_API_KEY")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if filepath.Ext(configPath) == "" {
			v.SetConfigType("yaml")
		}
	} else {
		v.SetConfigName(ConfigName)
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can see it.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("base_url", cfg.BaseURL)
	v.SetDefault("listing_url", cfg.ListingURL)
	v.SetDefault("max_pages", cfg.MaxPages)
	v.SetDefault("listing_delay", cfg.ListingDelay)
	v.SetDefault("detail_delay", cfg.DetailDelay)
	v.SetDefault("timeout", cfg.Timeout)
	v.SetDefault("max_retries", cfg.MaxRetries)
	v.SetDefault("retry_backoff", cfg.RetryBackoff)
	v.SetDefault("retry_backoff_max", cfg.RetryBackoffMax)
	v.SetDefault("dedupe_max_size", cfg.DedupeMaxSize)
	v.SetDefault("output_file", cfg.OutputFile)
	v.SetDefault("sample_output_file", cfg.SampleOutputFile)
	v.SetDefault("sample_urls", cfg.SampleURLs)
	v.SetDefault("output_format", cfg.OutputFormat)
	v.SetDefault("user_agent", cfg.UserAgent)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("extractor", cfg.Extractor)
	v.SetDefault("firecrawl_api_key", cfg.FirecrawlAPIKey)
	v.SetDefault("firecrawl_endpoint", cfg.FirecrawlEndpoint)
	v.SetDefault("openai_api_key", cfg.OpenAIAPIKey)
	v.SetDefault("openai_model", cfg.OpenAIModel)
	v.SetDefault("openai_base_url", cfg.OpenAIBaseURL)
}
