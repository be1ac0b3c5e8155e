// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/registry-harvester/internal/crawl"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Registry RegistryConfig `mapstructure:"registry"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	OCR      OCRConfig      `mapstructure:"ocr"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Queue    QueueConfig    `mapstructure:"queue"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// RegistryConfig describes the registry site being harvested.
type RegistryConfig struct {
	BaseURL            string `mapstructure:"base_url"`
	ResultsPerPage     int    `mapstructure:"results_per_page"`
	CollectionSelector string `mapstructure:"collection_selector"`
	DetailSelector     string `mapstructure:"detail_selector"`
	DownloadSelector   string `mapstructure:"download_selector"`
	DownloadBaseURL    string `mapstructure:"download_base_url"`
}

// CrawlerConfig governs fetching and crawl bounds.
type CrawlerConfig struct {
	UserAgent        string  `mapstructure:"user_agent"`
	Concurrency      int     `mapstructure:"concurrency"`
	MaxRequests      int     `mapstructure:"max_requests"`
	DocumentLimit    int     `mapstructure:"document_limit"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	RateLimitRPS     float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst   int     `mapstructure:"rate_limit_burst"`
	RespectRobots    bool    `mapstructure:"respect_robots"`
	MaxBodyBytes     int     `mapstructure:"max_body_bytes"`
}

// OCRConfig configures the remote OCR service.
type OCRConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	Language       string `mapstructure:"language"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	Concurrency    int    `mapstructure:"concurrency"`
}

// StorageConfig selects the state and blob backends.
type StorageConfig struct {
	StateBackend string `mapstructure:"state_backend"`
	BlobBackend  string `mapstructure:"blob_backend"`
	BaseDir      string `mapstructure:"base_dir"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	Prefix       string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int    `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// QueueConfig sizes the in-process job queue and worker pool.
type QueueConfig struct {
	Depth             int `mapstructure:"depth"`
	Workers           int `mapstructure:"workers"`
	MaxAttempts       int `mapstructure:"max_attempts"`
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)

	walk := crawl.DefaultConfig()
	v.SetDefault("registry.base_url", walk.BaseURL)
	v.SetDefault("registry.results_per_page", walk.ResultsPerPage)
	v.SetDefault("registry.collection_selector", walk.CollectionSelector)
	v.SetDefault("registry.detail_selector", walk.DetailSelector)
	v.SetDefault("registry.download_selector", walk.DownloadSelector)
	v.SetDefault("registry.download_base_url", walk.DownloadBaseURL)

	v.SetDefault("crawler.user_agent", "registry-harvester/0.1")
	v.SetDefault("crawler.concurrency", walk.Concurrency)
	v.SetDefault("crawler.max_requests", walk.MaxRequests)
	v.SetDefault("crawler.document_limit", walk.DocumentLimit)
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("crawler.max_retries", 2)
	v.SetDefault("crawler.backoff_initial_ms", 250)
	v.SetDefault("crawler.backoff_max_ms", 5000)
	v.SetDefault("crawler.rate_limit_rps", 0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.max_body_bytes", 50<<20)

	v.SetDefault("ocr.endpoint", "https://apipro2.ocr.space/parse/image")
	v.SetDefault("ocr.language", "cze")
	v.SetDefault("ocr.timeout_seconds", 120)
	v.SetDefault("ocr.max_attempts", 1)
	v.SetDefault("ocr.concurrency", 1)

	v.SetDefault("storage.state_backend", "memory")
	v.SetDefault("storage.blob_backend", "memory")
	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("storage.prefix", "harvester")

	v.SetDefault("db.table", "harvest_state")
	v.SetDefault("db.max_conns", 4)

	v.SetDefault("queue.depth", 16)
	v.SetDefault("queue.workers", 1)
	v.SetDefault("queue.max_attempts", 1)
	v.SetDefault("queue.job_timeout_seconds", 0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Registry.BaseURL == "" {
		return fmt.Errorf("registry.base_url must be set")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxRequests <= 0 {
		return fmt.Errorf("crawler.max_requests must be > 0")
	}
	if c.Crawler.DocumentLimit < 0 {
		return fmt.Errorf("crawler.document_limit must be >= 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Crawler.RateLimitRPS < 0 {
		return fmt.Errorf("crawler.rate_limit_rps must be >= 0")
	}
	if c.OCR.Concurrency <= 0 {
		return fmt.Errorf("ocr.concurrency must be > 0")
	}
	if c.OCR.TimeoutSeconds <= 0 {
		return fmt.Errorf("ocr.timeout_seconds must be > 0")
	}
	switch c.Storage.StateBackend {
	case "memory", "local", "gcs", "postgres":
	default:
		return fmt.Errorf("storage.state_backend %q is not supported", c.Storage.StateBackend)
	}
	switch c.Storage.BlobBackend {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("storage.blob_backend %q is not supported", c.Storage.BlobBackend)
	}
	if (c.Storage.StateBackend == "gcs" || c.Storage.BlobBackend == "gcs") && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
	}
	if c.Storage.StateBackend == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set for the postgres backend")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	if c.Queue.Depth <= 0 || c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.depth and queue.workers must be > 0")
	}
	return nil
}

// RequireOCR reports an error when OCR commands cannot run.
func (c Config) RequireOCR() error {
	if c.OCR.APIKey == "" {
		return fmt.Errorf("ocr.api_key must be set for OCR")
	}
	return nil
}

// CrawlConfig maps the registry and crawler sections onto crawl.Config.
func (c Config) CrawlConfig() crawl.Config {
	return crawl.Config{
		BaseURL:            c.Registry.BaseURL,
		ResultsPerPage:     c.Registry.ResultsPerPage,
		CollectionSelector: c.Registry.CollectionSelector,
		DetailSelector:     c.Registry.DetailSelector,
		DownloadSelector:   c.Registry.DownloadSelector,
		DownloadBaseURL:    c.Registry.DownloadBaseURL,
		DocumentLimit:      c.Crawler.DocumentLimit,
		MaxRequests:        c.Crawler.MaxRequests,
		Concurrency:        c.Crawler.Concurrency,
	}
}

// JobTimeout bounds one queued harvest attempt; 0 means no limit.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Queue.JobTimeoutSeconds) * time.Second
}

// FetchTimeout converts the crawler timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// OCRTimeout converts the OCR timeout into a duration.
func (c Config) OCRTimeout() time.Duration {
	return time.Duration(c.OCR.TimeoutSeconds) * time.Second
}
