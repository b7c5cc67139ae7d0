// Package config loads the extractor's settings from the environment and an
// optional compras.env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/compras-etl/pkg/endpoint"
	"github.com/Sternrassler/compras-etl/pkg/logging"
	"github.com/Sternrassler/compras-etl/pkg/sink"
	"github.com/spf13/viper"
)

type APIConfig struct {
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration
	MaxRetries  int
	BackoffUnit time.Duration
	PageDelay   time.Duration
	LookupDelay time.Duration
}

type ExtractConfig struct {
	Year                int
	ContractsPerQuarter int
	UnitCatalogLimit    int
	BodyCatalogLimit    int
	ResolveRelated      bool
}

type OutputConfig struct {
	RawDir       string
	ProcessedDir string
	Format       string
	MetricsFile  string
}

type CacheConfig struct {
	RedisAddr string
	TTL       time.Duration
}

type LogConfig struct {
	Level  logging.LogLevel
	Pretty bool
}

type Config struct {
	API     APIConfig
	Extract ExtractConfig
	Output  OutputConfig
	Cache   CacheConfig
	Log     LogConfig
}

var defaults = map[string]any{
	"COMPRAS_BASE_URL":              endpoint.DefaultBaseURL,
	"COMPRAS_USER_AGENT":            "compras-etl/0.1.0",
	"COMPRAS_HTTP_TIMEOUT":          "20s",
	"COMPRAS_MAX_RETRIES":           3,
	"COMPRAS_BACKOFF_UNIT":          "5s",
	"COMPRAS_PAGE_DELAY":            "500ms",
	"COMPRAS_LOOKUP_DELAY":          "1s",
	"COMPRAS_YEAR":                  2024,
	"COMPRAS_CONTRACTS_PER_QUARTER": 500,
	"COMPRAS_UNIT_CATALOG_LIMIT":    0,
	"COMPRAS_BODY_CATALOG_LIMIT":    0,
	"COMPRAS_RESOLVE_RELATED":       true,
	"COMPRAS_OUTPUT_DIR":            "data/raw",
	"COMPRAS_PROCESSED_DIR":         "data/processed",
	"COMPRAS_SINK_FORMAT":           sink.FormatCSV,
	"COMPRAS_METRICS_FILE":          "",
	"COMPRAS_REDIS_ADDR":            "",
	"COMPRAS_CACHE_TTL":             "1h",
	"LOG_LEVEL":                     "info",
	"LOG_PRETTY":                    false,
}

// Load reads the configuration. Environment variables override the file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("compras")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	_ = v.ReadInConfig()

	level, err := logging.ParseLevel(v.GetString("LOG_LEVEL"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		API: APIConfig{
			BaseURL:     strings.TrimSpace(v.GetString("COMPRAS_BASE_URL")),
			UserAgent:   v.GetString("COMPRAS_USER_AGENT"),
			Timeout:     v.GetDuration("COMPRAS_HTTP_TIMEOUT"),
			MaxRetries:  v.GetInt("COMPRAS_MAX_RETRIES"),
			BackoffUnit: v.GetDuration("COMPRAS_BACKOFF_UNIT"),
			PageDelay:   v.GetDuration("COMPRAS_PAGE_DELAY"),
			LookupDelay: v.GetDuration("COMPRAS_LOOKUP_DELAY"),
		},
		Extract: ExtractConfig{
			Year:                v.GetInt("COMPRAS_YEAR"),
			ContractsPerQuarter: v.GetInt("COMPRAS_CONTRACTS_PER_QUARTER"),
			UnitCatalogLimit:    v.GetInt("COMPRAS_UNIT_CATALOG_LIMIT"),
			BodyCatalogLimit:    v.GetInt("COMPRAS_BODY_CATALOG_LIMIT"),
			ResolveRelated:      v.GetBool("COMPRAS_RESOLVE_RELATED"),
		},
		Output: OutputConfig{
			RawDir:       v.GetString("COMPRAS_OUTPUT_DIR"),
			ProcessedDir: v.GetString("COMPRAS_PROCESSED_DIR"),
			Format:       strings.ToLower(strings.TrimSpace(v.GetString("COMPRAS_SINK_FORMAT"))),
			MetricsFile:  v.GetString("COMPRAS_METRICS_FILE"),
		},
		Cache: CacheConfig{
			RedisAddr: strings.TrimSpace(v.GetString("COMPRAS_REDIS_ADDR")),
			TTL:       v.GetDuration("COMPRAS_CACHE_TTL"),
		},
		Log: LogConfig{
			Level:  level,
			Pretty: v.GetBool("LOG_PRETTY"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("COMPRAS_BASE_URL is required")
	}
	if cfg.API.UserAgent == "" {
		return fmt.Errorf("COMPRAS_USER_AGENT is required")
	}
	if cfg.API.Timeout <= 0 {
		return fmt.Errorf("COMPRAS_HTTP_TIMEOUT must be positive")
	}
	if cfg.API.MaxRetries < 1 {
		return fmt.Errorf("COMPRAS_MAX_RETRIES must be at least 1 (got %d)", cfg.API.MaxRetries)
	}
	if cfg.API.BackoffUnit < 0 || cfg.API.PageDelay < 0 || cfg.API.LookupDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if cfg.Extract.Year < 2000 || cfg.Extract.Year > 2100 {
		return fmt.Errorf("COMPRAS_YEAR must be between 2000 and 2100 (got %d)", cfg.Extract.Year)
	}
	if cfg.Extract.ContractsPerQuarter <= 0 {
		return fmt.Errorf("COMPRAS_CONTRACTS_PER_QUARTER must be positive (got %d)", cfg.Extract.ContractsPerQuarter)
	}
	if cfg.Extract.UnitCatalogLimit < 0 || cfg.Extract.BodyCatalogLimit < 0 {
		return fmt.Errorf("catalog limits must not be negative")
	}
	switch cfg.Output.Format {
	case sink.FormatCSV, sink.FormatXLSX:
	default:
		return fmt.Errorf("COMPRAS_SINK_FORMAT must be csv or xlsx (got %q)", cfg.Output.Format)
	}
	if cfg.Output.RawDir == "" || cfg.Output.ProcessedDir == "" {
		return fmt.Errorf("output directories are required")
	}
	if cfg.Cache.RedisAddr != "" && cfg.Cache.TTL <= 0 {
		return fmt.Errorf("COMPRAS_CACHE_TTL must be positive when COMPRAS_REDIS_ADDR is set")
	}
	return nil
}
