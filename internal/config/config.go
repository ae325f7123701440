// Package config loads and validates mapper configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Site    SiteConfig    `mapstructure:"site"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Workers WorkersConfig `mapstructure:"workers"`
	Cache   CacheConfig   `mapstructure:"cache"`
	DB      DBConfig      `mapstructure:"db"`
	Seeds   []string      `mapstructure:"seeds"`
	Ops     OpsConfig     `mapstructure:"ops"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SiteConfig points at the crawled site.
type SiteConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	LoginURL       string `mapstructure:"login_url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// AuthConfig holds the scraping account credentials.
type AuthConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// WorkersConfig sizes the pools and their scheduling ticks.
type WorkersConfig struct {
	Ingest              int `mapstructure:"ingest"`
	UserCrawlers        int `mapstructure:"user_crawlers"`
	ArtistCrawlers      int `mapstructure:"artist_crawlers"`
	CombinedCrawlers    int `mapstructure:"combined_crawlers"`
	StartStaggerSeconds int `mapstructure:"start_stagger_seconds"`
	IngestTickMs        int `mapstructure:"ingest_tick_ms"`
	CrawlTickMs         int `mapstructure:"crawl_tick_ms"`
	ArtistPageLimit     int `mapstructure:"artist_page_limit"`
}

// CacheConfig locates the page cache directory.
type CacheConfig struct {
	Dir string `mapstructure:"dir"`
}

// DBConfig selects and configures the persistent store.
type DBConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// OpsConfig controls the operator-facing metrics listener.
type OpsConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRACKMAPPER")
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
	v.SetDefault("site.base_url", "https://www.last.fm")
	v.SetDefault("site.login_url", "https://secure.last.fm/login")
	v.SetDefault("site.user_agent", "omnimuse-mapper/0.1")
	v.SetDefault("site.timeout_seconds", 15)
	v.SetDefault("workers.ingest", 8)
	v.SetDefault("workers.user_crawlers", 1)
	v.SetDefault("workers.artist_crawlers", 6)
	v.SetDefault("workers.combined_crawlers", 1)
	v.SetDefault("workers.start_stagger_seconds", 5)
	v.SetDefault("workers.ingest_tick_ms", 1000)
	v.SetDefault("workers.crawl_tick_ms", 2000)
	v.SetDefault("workers.artist_page_limit", 10)
	v.SetDefault("cache.dir", "lastfm-cache")
	v.SetDefault("db.provider", "postgres")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("ops.port", 9090)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url must be set")
	}
	if c.Site.LoginURL == "" {
		return fmt.Errorf("site.login_url must be set")
	}
	if c.Site.TimeoutSeconds <= 0 {
		return fmt.Errorf("site.timeout_seconds must be > 0")
	}
	if c.Workers.Ingest <= 0 {
		return fmt.Errorf("workers.ingest must be > 0")
	}
	if c.Workers.UserCrawlers+c.Workers.ArtistCrawlers+c.Workers.CombinedCrawlers <= 0 {
		return fmt.Errorf("at least one crawl worker must be configured")
	}
	if c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir must be set")
	}
	switch c.DB.Provider {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.provider is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db.provider %q", c.DB.Provider)
	}
	if c.Ops.Port <= 0 {
		return fmt.Errorf("ops.port must be > 0")
	}
	return nil
}
