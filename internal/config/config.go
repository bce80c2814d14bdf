// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	PDF     PDFConfig     `mapstructure:"pdf"`
	Embed   EmbedConfig   `mapstructure:"embed"`
	DB      DBConfig      `mapstructure:"db"`
	Index   IndexConfig   `mapstructure:"index"`
	Archive ArchiveConfig `mapstructure:"archive"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs frontier traversal behavior.
type CrawlerConfig struct {
	Concurrency     int      `mapstructure:"concurrency"`
	DelaySeconds    int      `mapstructure:"delay_seconds"`
	MaxDepth        int      `mapstructure:"max_depth"`
	RespectRobots   bool     `mapstructure:"respect_robots"`
	UseSitemap      bool     `mapstructure:"use_sitemap"`
	ApprovedDomains []string `mapstructure:"approved_domains"`
}

// FetchConfig configures the HTTP fetcher.
type FetchConfig struct {
	UserAgent         string `mapstructure:"user_agent"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	InsecureTLSCompat bool   `mapstructure:"insecure_tls_compat"`
	ProxyURL          string `mapstructure:"proxy_url"`
}

// PDFConfig tunes PDF text extraction.
type PDFConfig struct {
	MaxPages     int    `mapstructure:"max_pages"`
	MinTextLen   int    `mapstructure:"min_text_len"`
	OCREnabled   bool   `mapstructure:"ocr_enabled"`
	OCRLanguages string `mapstructure:"ocr_languages"`
}

// EmbedConfig tunes the chunker and embedding queue.
type EmbedConfig struct {
	ChunkSize           int `mapstructure:"chunk_size"`
	ChunkOverlap        int `mapstructure:"chunk_overlap"`
	BatchSize           int `mapstructure:"batch_size"`
	BatchTimeoutSeconds int `mapstructure:"batch_timeout_seconds"`
	MaxRetries          int `mapstructure:"max_retries"`
	StopGraceSeconds    int `mapstructure:"stop_grace_seconds"`
	DedupeCacheSize     int `mapstructure:"dedupe_cache_size"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// IndexConfig holds Elasticsearch connection settings.
type IndexConfig struct {
	URL        string `mapstructure:"url"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	IndexName  string `mapstructure:"index_name"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// ArchiveConfig sets where raw fetched artifacts are written.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"` // "memory", "local" or "gcs"
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// PubSubConfig holds metadata for crawl-event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEFEEDER")
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
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.delay_seconds", 2)
	v.SetDefault("crawler.max_depth", 5)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.use_sitemap", true)
	v.SetDefault("fetch.user_agent", "sitefeeder-bot/0.1")
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.insecure_tls_compat", false)
	v.SetDefault("pdf.max_pages", 500)
	v.SetDefault("pdf.min_text_len", 100)
	v.SetDefault("pdf.ocr_enabled", true)
	v.SetDefault("pdf.ocr_languages", "eng+ara+hin+urd")
	v.SetDefault("embed.chunk_size", 500)
	v.SetDefault("embed.chunk_overlap", 100)
	v.SetDefault("embed.batch_size", 10)
	v.SetDefault("embed.batch_timeout_seconds", 5)
	v.SetDefault("embed.max_retries", 3)
	v.SetDefault("embed.stop_grace_seconds", 20)
	v.SetDefault("embed.dedupe_cache_size", 10000)
	v.SetDefault("index.index_name", "sitefeeder_chunks")
	v.SetDefault("index.max_retries", 3)
	v.SetDefault("archive.backend", "memory")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxDepth <= 0 {
		return fmt.Errorf("crawler.max_depth must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Embed.ChunkSize <= 0 {
		return fmt.Errorf("embed.chunk_size must be > 0")
	}
	if c.Embed.ChunkOverlap < 0 || c.Embed.ChunkOverlap >= c.Embed.ChunkSize {
		return fmt.Errorf("embed.chunk_overlap must be in [0, chunk_size)")
	}
	if c.Embed.BatchSize <= 0 {
		return fmt.Errorf("embed.batch_size must be > 0")
	}
	if c.PDF.MaxPages <= 0 {
		return fmt.Errorf("pdf.max_pages must be > 0")
	}
	if c.Archive.Backend == "gcs" && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive.gcs_bucket must be set when archive.backend is gcs")
	}
	if c.Archive.Backend == "local" && c.Archive.LocalDir == "" {
		return fmt.Errorf("archive.local_dir must be set when archive.backend is local")
	}
	return nil
}

// CrawlDelay converts the configured batch delay into a duration.
func (c Config) CrawlDelay() time.Duration {
	return time.Duration(c.Crawler.DelaySeconds) * time.Second
}

// FetchTimeout converts the configured fetch timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// BatchTimeout converts the embed batch timeout into a duration.
func (c Config) BatchTimeout() time.Duration {
	return time.Duration(c.Embed.BatchTimeoutSeconds) * time.Second
}

// StopGrace converts the queue stop grace period into a duration.
func (c Config) StopGrace() time.Duration {
	return time.Duration(c.Embed.StopGraceSeconds) * time.Second
}
