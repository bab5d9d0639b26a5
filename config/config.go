package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Barflow  BarflowConfig  `yaml:"barflow"`
	Universe UniverseConfig `yaml:"universe"`
	Calendar CalendarConfig `yaml:"calendar"`
	Vendor   VendorConfig   `yaml:"vendor"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Query    QueryConfig    `yaml:"query"`
	Storage  StorageConfig  `yaml:"storage"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type BarflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type UniverseConfig struct {
	// Symbols pins the run to an explicit list; empty means the full vendor
	// universe filtered by Exchanges/AssetTypes.
	Symbols    []string `yaml:"symbols"`
	Exchanges  []string `yaml:"exchanges"`
	AssetTypes []string `yaml:"asset_types"`
	StartDate  string   `yaml:"start_date"`
}

type CalendarConfig struct {
	// Start and End bound the known session sequence.
	Start    string   `yaml:"start"`
	End      string   `yaml:"end"`
	Holidays []string `yaml:"holidays"`
}

type VendorConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Token          string               `yaml:"token"`
	Timeout        time.Duration        `yaml:"timeout"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Retry          RetryConfig          `yaml:"retry"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier int           `yaml:"backoff_multiplier"`
}

type IngestConfig struct {
	MaxWorkers  int    `yaml:"max_workers"`
	Compression string `yaml:"compression"`
}

type QueryConfig struct {
	// Shift is the number of sessions every query date is moved backward
	// before lookup. Default 1.
	Shift int `yaml:"shift"`
}

type StorageConfig struct {
	S3       S3Config       `yaml:"s3"`
	Local    LocalConfig    `yaml:"local"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LocalConfig struct {
	Directory string `yaml:"directory"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MinConns int    `yaml:"min_conns"`
	MaxConns int    `yaml:"max_conns"`
}

type MetricsConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Addr       string           `yaml:"addr"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Ingest: IngestConfig{MaxWorkers: 8, Compression: "snappy"},
		Query:  QueryConfig{Shift: 1},
		Vendor: VendorConfig{
			Timeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 5,
				BurstSize:         5,
			},
			Retry: RetryConfig{
				MaxAttempts:       3,
				BaseDelay:         500 * time.Millisecond,
				MaxDelay:          10 * time.Second,
				BackoffMultiplier: 2,
			},
		},
		Metrics: MetricsConfig{Addr: ":2112"},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Credentials come from the environment when present.
	if v := os.Getenv("VENDOR_TOKEN"); v != "" {
		config.Vendor.Token = strings.TrimSpace(v)
	}
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		config.Storage.Postgres.Password = strings.TrimSpace(v)
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Barflow.Name == "" {
		return fmt.Errorf("barflow.name is required")
	}
	if cfg.Barflow.Version == "" {
		return fmt.Errorf("barflow.version is required")
	}

	if cfg.Vendor.BaseURL == "" {
		return fmt.Errorf("vendor.base_url is required")
	}
	if cfg.Vendor.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("vendor.rate_limit.requests_per_second must be greater than 0")
	}
	if cfg.Vendor.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("vendor.retry.max_attempts must be greater than 0")
	}
	if cfg.Vendor.Token == "" && IsProductionLike(AppEnvironment()) {
		return fmt.Errorf("vendor.token is required in %s", AppEnvironment())
	}

	if cfg.Ingest.MaxWorkers <= 0 {
		return fmt.Errorf("ingest.max_workers must be greater than 0")
	}
	if cfg.Query.Shift < 1 {
		return fmt.Errorf("query.shift must be at least 1")
	}

	if cfg.Calendar.Start == "" || cfg.Calendar.End == "" {
		return fmt.Errorf("calendar.start and calendar.end are required")
	}
	for _, field := range []string{cfg.Calendar.Start, cfg.Calendar.End} {
		if _, err := time.Parse("2006-01-02", field); err != nil {
			return fmt.Errorf("calendar dates must be YYYY-MM-DD: %w", err)
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	} else if cfg.Storage.Local.Directory == "" {
		return fmt.Errorf("storage.local.directory is required when S3 is disabled")
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}

// CalendarBounds parses the configured session range.
func (c CalendarConfig) CalendarBounds() (start, end time.Time, err error) {
	start, err = time.Parse("2006-01-02", c.Start)
	if err != nil {
		return
	}
	end, err = time.Parse("2006-01-02", c.End)
	return
}

// HolidayDates parses the configured holiday list.
func (c CalendarConfig) HolidayDates() ([]time.Time, error) {
	out := make([]time.Time, 0, len(c.Holidays))
	for _, h := range c.Holidays {
		d, err := time.Parse("2006-01-02", h)
		if err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		out = append(out, d)
	}
	return out, nil
}
