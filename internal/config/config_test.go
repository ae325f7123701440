package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRACKMAPPER_DB_PROVIDER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://www.last.fm", cfg.Site.BaseURL)
	assert.Equal(t, "https://secure.last.fm/login", cfg.Site.LoginURL)
	assert.Equal(t, 8, cfg.Workers.Ingest)
	assert.Equal(t, 1, cfg.Workers.UserCrawlers)
	assert.Equal(t, 6, cfg.Workers.ArtistCrawlers)
	assert.Equal(t, 1, cfg.Workers.CombinedCrawlers)
	assert.Equal(t, 5, cfg.Workers.StartStaggerSeconds)
	assert.Equal(t, 1000, cfg.Workers.IngestTickMs)
	assert.Equal(t, 2000, cfg.Workers.CrawlTickMs)
	assert.Equal(t, 10, cfg.Workers.ArtistPageLimit)
	assert.Equal(t, "lastfm-cache", cfg.Cache.Dir)
	assert.Equal(t, 9090, cfg.Ops.Port)
}

func TestLoadDefaultsRequireDSNForPostgres(t *testing.T) {
	// The default provider is postgres, which cannot run without a DSN.
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db.dsn")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
site:
  base_url: https://lastfm.example
auth:
  username: mapper
  password: hunter2
workers:
  ingest: 2
  artist_crawlers: 1
  user_crawlers: 0
  combined_crawlers: 0
db:
  provider: memory
seeds:
  - alice
  - bob
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://lastfm.example", cfg.Site.BaseURL)
	assert.Equal(t, "mapper", cfg.Auth.Username)
	assert.Equal(t, 2, cfg.Workers.Ingest)
	assert.Equal(t, "memory", cfg.DB.Provider)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Seeds)
	// Unset keys keep their defaults.
	assert.Equal(t, "https://secure.last.fm/login", cfg.Site.LoginURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func validMemoryConfig() Config {
	return Config{
		Site: SiteConfig{
			BaseURL:        "https://www.last.fm",
			LoginURL:       "https://secure.last.fm/login",
			TimeoutSeconds: 15,
		},
		Workers: WorkersConfig{Ingest: 1, ArtistCrawlers: 1},
		Cache:   CacheConfig{Dir: "cache"},
		DB:      DBConfig{Provider: "memory"},
		Ops:     OpsConfig{Port: 9090},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validMemoryConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base url", func(c *Config) { c.Site.BaseURL = "" }},
		{"missing login url", func(c *Config) { c.Site.LoginURL = "" }},
		{"zero timeout", func(c *Config) { c.Site.TimeoutSeconds = 0 }},
		{"no ingest workers", func(c *Config) { c.Workers.Ingest = 0 }},
		{"no crawl workers", func(c *Config) { c.Workers.ArtistCrawlers = 0 }},
		{"missing cache dir", func(c *Config) { c.Cache.Dir = "" }},
		{"postgres without dsn", func(c *Config) { c.DB = DBConfig{Provider: "postgres"} }},
		{"unknown provider", func(c *Config) { c.DB.Provider = "sqlite" }},
		{"zero ops port", func(c *Config) { c.Ops.Port = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validMemoryConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("TRACKMAPPER_DB_PROVIDER", "memory")
	t.Setenv("TRACKMAPPER_WORKERS_INGEST", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.DB.Provider)
	assert.Equal(t, 3, cfg.Workers.Ingest)
}
