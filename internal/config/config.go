package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trendmill/trendmill/pkg/types"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultDatabasePath = "./trendmill.db"
	DefaultGeo          = "" // worldwide
	DefaultTimeframe    = "today 12-m"
	DefaultCacheTTL     = 7 * 24 * time.Hour
	DefaultMinDelay     = time.Second
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 2 * time.Second
	DefaultMultiplier   = 2.0
	DefaultMaxDelay     = 8 * time.Second
	DefaultIngestLimit  = 50
	DefaultSiteTitle    = "Trendmill"
	DefaultStagingDir   = "./public_staging"
	DefaultLiveDir      = "./public"
	DefaultDirMode      = "0755"
	DefaultFileMode     = "0644"
	DefaultCron         = "0 2 * * *"
	DefaultTimezone     = "UTC"
	DefaultMetricsJob   = "trendmill"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
)

// Config is the top-level configuration for the trendmill binary.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Trends   TrendsConfig   `yaml:"trends"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Pages    PagesConfig    `yaml:"pages"`
	Publish  PublishConfig  `yaml:"publish"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Notify   NotifyConfig   `yaml:"notify"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig locates the embedded SQLite database.
type DatabaseConfig struct {
	// Path is the filesystem path of the database file. Created on first run.
	Path string `yaml:"path"`
}

// TrendsConfig controls the external weekly-interest lookups and their cache.
type TrendsConfig struct {
	// BaseURL is the root of the trends HTTP endpoint.
	BaseURL string `yaml:"base_url"`

	// Geo narrows series to a region code (e.g. "US"). Empty = worldwide.
	Geo string `yaml:"geo"`

	// Timeframe is the lookback window requested from the trends source.
	Timeframe string `yaml:"timeframe"`

	// CacheTTL is how long a cached series is served without refetching.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// MinDelay is the minimum spacing between any two external calls,
	// enforced across all keywords by one shared rate gate.
	MinDelay time.Duration `yaml:"min_delay"`

	// Retry shapes the per-fetch retry schedule.
	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig is an exponential backoff schedule for external calls.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, first call included.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the wait after the first failed attempt.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// Multiplier grows the delay after each further failure.
	Multiplier float64 `yaml:"multiplier"`

	// MaxDelay caps the grown delay.
	MaxDelay time.Duration `yaml:"max_delay"`
}

// Delay returns the backoff before retrying after failed attempt n (1-based):
// InitialDelay * Multiplier^(n-1), capped at MaxDelay.
func (r RetryConfig) Delay(attempt int) time.Duration {
	d := r.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * r.Multiplier)
		if d >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	if d > r.MaxDelay {
		return r.MaxDelay
	}
	return d
}

// IngestConfig controls the candidate keyword feed.
type IngestConfig struct {
	// BaseURL is the root of the trending-content feed.
	BaseURL string `yaml:"base_url"`

	// Kinds selects which endpoints to pull: keyword | hashtag | sound.
	Kinds []string `yaml:"kinds"`

	// Limit is the default maximum number of candidates per run.
	// The CLI -limit flag overrides it.
	Limit int `yaml:"limit"`
}

// PagesConfig controls the static site builder.
type PagesConfig struct {
	// SiteTitle appears on the index page header.
	SiteTitle string `yaml:"site_title"`

	// StagingDir is where the tree is rendered before the atomic swap.
	StagingDir string `yaml:"staging_dir"`

	// ForbiddenTerms fails the run when any rendered file contains one
	// (case-insensitive). Keeps upstream source names off public pages.
	ForbiddenTerms []string `yaml:"forbidden_terms"`
}

// PublishConfig controls the atomic swap into the live directory.
type PublishConfig struct {
	// LiveDir is the directory the web server serves.
	LiveDir string `yaml:"live_dir"`

	// DirMode and FileMode are octal strings applied to the staged tree
	// before the swap.
	DirMode  string `yaml:"dir_mode"`
	FileMode string `yaml:"file_mode"`

	// UID and GID chown the staged tree when >= 0. Requires privileges.
	UID int `yaml:"uid"`
	GID int `yaml:"gid"`
}

// DirFileMode returns the parsed dir mode.
func (p PublishConfig) DirFileMode() (os.FileMode, error) { return parseMode(p.DirMode) }

// FileFileMode returns the parsed file mode.
func (p PublishConfig) FileFileMode() (os.FileMode, error) { return parseMode(p.FileMode) }

func parseMode(s string) (os.FileMode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid octal mode %q: %w", s, err)
	}
	return os.FileMode(v), nil
}

// ScheduleConfig controls daemon mode.
type ScheduleConfig struct {
	// Cron is a standard 5-field cron expression.
	Cron string `yaml:"cron"`

	// Timezone is an IANA zone name the expression is evaluated in.
	Timezone string `yaml:"timezone"`
}

// NotifyConfig controls run-report webhooks.
type NotifyConfig struct {
	// Kind is one of: slack | teams | generic.
	Kind string `yaml:"kind"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`

	// OnSuccess also posts reports for fully successful runs.
	// Failed and degraded runs are always posted.
	OnSuccess bool `yaml:"on_success"`
}

// URL returns the webhook URL resolved from the environment.
// Returns empty string if URLEnv is unset or the variable is not found.
func (n NotifyConfig) URL() string {
	if n.URLEnv == "" {
		return ""
	}
	return os.Getenv(n.URLEnv)
}

// MetricsConfig controls run-metrics export. Both sinks are optional;
// leaving them empty disables export.
type MetricsConfig struct {
	// TextfilePath is a node-exporter textfile-collector destination
	// (written atomically).
	TextfilePath string `yaml:"textfile_path"`

	// PushgatewayURL is a Prometheus pushgateway base URL.
	PushgatewayURL string `yaml:"pushgateway_url"`

	// Job is the job label used for both sinks.
	Job string `yaml:"job"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`

	// Format is one of: json | text.
	Format string `yaml:"format"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Database: DatabaseConfig{Path: DefaultDatabasePath},
		Trends: TrendsConfig{
			Geo:       DefaultGeo,
			Timeframe: DefaultTimeframe,
			CacheTTL:  DefaultCacheTTL,
			MinDelay:  DefaultMinDelay,
			Retry: RetryConfig{
				MaxAttempts:  DefaultMaxAttempts,
				InitialDelay: DefaultInitialDelay,
				Multiplier:   DefaultMultiplier,
				MaxDelay:     DefaultMaxDelay,
			},
		},
		Ingest: IngestConfig{
			Kinds: []string{string(types.KindKeyword), string(types.KindHashtag)},
			Limit: DefaultIngestLimit,
		},
		Pages: PagesConfig{
			SiteTitle:  DefaultSiteTitle,
			StagingDir: DefaultStagingDir,
		},
		Publish: PublishConfig{
			LiveDir:  DefaultLiveDir,
			DirMode:  DefaultDirMode,
			FileMode: DefaultFileMode,
			UID:      -1,
			GID:      -1,
		},
		Schedule: ScheduleConfig{
			Cron:     DefaultCron,
			Timezone: DefaultTimezone,
		},
		Metrics: MetricsConfig{Job: DefaultMetricsJob},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if cfg.Trends.BaseURL == "" {
		return fmt.Errorf("trends.base_url is required")
	}
	if cfg.Trends.CacheTTL <= 0 {
		return fmt.Errorf("trends.cache_ttl must be positive")
	}
	if cfg.Trends.MinDelay < 0 {
		return fmt.Errorf("trends.min_delay must not be negative")
	}
	if cfg.Trends.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("trends.retry.max_attempts must be positive")
	}
	if cfg.Trends.Retry.InitialDelay <= 0 {
		return fmt.Errorf("trends.retry.initial_delay must be positive")
	}
	if cfg.Trends.Retry.Multiplier < 1 {
		return fmt.Errorf("trends.retry.multiplier must be >= 1")
	}
	if cfg.Trends.Retry.MaxDelay < cfg.Trends.Retry.InitialDelay {
		return fmt.Errorf("trends.retry.max_delay must be >= initial_delay")
	}
	if cfg.Ingest.BaseURL == "" {
		return fmt.Errorf("ingest.base_url is required")
	}
	if cfg.Ingest.Limit <= 0 {
		return fmt.Errorf("ingest.limit must be positive")
	}
	if len(cfg.Ingest.Kinds) == 0 {
		return fmt.Errorf("ingest.kinds must name at least one kind")
	}
	for i, k := range cfg.Ingest.Kinds {
		if !types.KeywordKind(k).Valid() {
			return fmt.Errorf("ingest.kinds[%d]: unknown kind %q", i, k)
		}
	}
	if cfg.Pages.StagingDir == "" {
		return fmt.Errorf("pages.staging_dir is required")
	}
	if cfg.Publish.LiveDir == "" {
		return fmt.Errorf("publish.live_dir is required")
	}
	if cfg.Publish.LiveDir == cfg.Pages.StagingDir {
		return fmt.Errorf("publish.live_dir must differ from pages.staging_dir")
	}
	if _, err := cfg.Publish.DirFileMode(); err != nil {
		return fmt.Errorf("publish.dir_mode: %w", err)
	}
	if _, err := cfg.Publish.FileFileMode(); err != nil {
		return fmt.Errorf("publish.file_mode: %w", err)
	}
	if cfg.Schedule.Cron == "" {
		return fmt.Errorf("schedule.cron is required")
	}
	switch cfg.Notify.Kind {
	case "slack", "teams", "generic", "":
	default:
		return fmt.Errorf("notify.kind: unknown kind %q", cfg.Notify.Kind)
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format: unknown format %q", cfg.Logging.Format)
	}
	return nil
}
