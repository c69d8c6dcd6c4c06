package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/viper"
)

// ConfigFileEnv names the environment variable pointing at an optional YAML
// config file. Environment variables override values from the file.
const ConfigFileEnv = "PAYINSIGHTS_CONFIG"

type Config struct {
	// HTTP Server
	Port string

	// Dataset
	DataBackend      string
	DatasetPath      string
	DatasetDelimiter string
	TablesDir        string
	ManifestPath     string
	ReloadInterval   time.Duration

	// Database
	SQLiteDBPath string

	// AMQP
	AMQPURL          string
	AMQPExchange     string
	AMQPRequestQueue string
	AMQPResultKey    string

	// Google Sheets
	GoogleSpreadsheetID string
	GoogleSheetRange    string

	// Reports
	CacheSize         int
	CacheTTL          time.Duration
	RenderConcurrency int

	// HTTP limits
	RateLimitPerMinute int

	// Logging
	LogLevel  string
	LogFormat string
}

var defaults = map[string]any{
	"port":                  "8081",
	"data_backend":          "csv",
	"dataset_path":          "./data/apple_pay_only_dataset.csv",
	"dataset_delimiter":     ",",
	"tables_dir":            "./data/tables",
	"manifest_path":         "",
	"reload_interval":       15 * time.Minute,
	"sqlite_db_path":        "./data/payinsights.db",
	"amqp_url":              "",
	"amqp_exchange":         "payinsights",
	"amqp_request_queue":    "report_requests",
	"amqp_result_key":       "report_results",
	"google_spreadsheet_id": "",
	"google_sheet_range":    "Transactions!A:Z",
	"cache_size":            32,
	"cache_ttl":             5 * time.Minute,
	"render_concurrency":    4,
	"rate_limit_per_minute": 120,
	"log_level":             "info",
	"log_format":            "text",
}

// Load reads configuration from defaults, the optional config file and the
// environment, in increasing order of precedence.
func Load() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port: v.GetString("port"),

		DataBackend:      strings.ToLower(v.GetString("data_backend")),
		DatasetPath:      v.GetString("dataset_path"),
		DatasetDelimiter: v.GetString("dataset_delimiter"),
		TablesDir:        v.GetString("tables_dir"),
		ManifestPath:     v.GetString("manifest_path"),
		ReloadInterval:   v.GetDuration("reload_interval"),

		SQLiteDBPath: v.GetString("sqlite_db_path"),

		AMQPURL:          v.GetString("amqp_url"),
		AMQPExchange:     v.GetString("amqp_exchange"),
		AMQPRequestQueue: v.GetString("amqp_request_queue"),
		AMQPResultKey:    v.GetString("amqp_result_key"),

		GoogleSpreadsheetID: v.GetString("google_spreadsheet_id"),
		GoogleSheetRange:    v.GetString("google_sheet_range"),

		CacheSize:         v.GetInt("cache_size"),
		CacheTTL:          v.GetDuration("cache_ttl"),
		RenderConcurrency: v.GetInt("render_concurrency"),

		RateLimitPerMinute: v.GetInt("rate_limit_per_minute"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
	}

	return cfg, nil
}

// Delimiter returns the dataset delimiter as a rune.
func (c *Config) Delimiter() rune {
	r, _ := utf8.DecodeRuneInString(c.DatasetDelimiter)
	if r == utf8.RuneError {
		return ','
	}
	return r
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate data backend
	validBackends := []string{"csv", "sheets", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case "csv":
		if c.DatasetPath == "" {
			errors = append(errors, "dataset path cannot be empty when using csv backend")
		}
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		}
	case "sheets":
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets backend")
		}
		if c.GoogleSheetRange == "" {
			errors = append(errors, "Google Sheet range is required when using sheets backend")
		}
	}

	if utf8.RuneCountInString(c.DatasetDelimiter) != 1 {
		errors = append(errors, fmt.Sprintf("invalid dataset delimiter '%s': must be a single character", c.DatasetDelimiter))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPRequestQueue == "" {
			errors = append(errors, "AMQP request queue cannot be empty when AMQP URL is provided")
		}
		if c.AMQPResultKey == "" {
			errors = append(errors, "AMQP result routing key cannot be empty when AMQP URL is provided")
		}
	}

	// Validate report settings
	if c.CacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid cache size %d: must be at least 1", c.CacheSize))
	}
	if c.CacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid cache ttl %v: must be at least 1 second", c.CacheTTL))
	}
	if c.RenderConcurrency < 1 || c.RenderConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid render concurrency %d: must be between 1 and 64", c.RenderConcurrency))
	}
	if c.ReloadInterval < 0 {
		errors = append(errors, fmt.Sprintf("invalid reload interval %v: must not be negative", c.ReloadInterval))
	}
	if c.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must not be negative", c.RateLimitPerMinute))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}
