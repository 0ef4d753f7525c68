package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "evolution", cfg.Webhook.Provider)
	assert.Equal(t, int64(10<<20), cfg.Webhook.MaxBodySize)
	assert.Equal(t, "postgres", cfg.Directory.Backend)
	assert.Equal(t, time.Minute, cfg.Directory.CacheTTL)
	assert.Equal(t, "convohook:webhooks", cfg.Queue.Prefix)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.False(t, cfg.NATS.Enabled)
	assert.False(t, cfg.OpenSearch.Enabled)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 600, cfg.RateLimit.Requests)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ingest.yaml")
	content := `
server:
  port: 9090
webhook:
  provider: wppconnect
directory:
  backend: static
  instances:
    - id: inst-1
      tenant_id: tenant-1
      name: support
      credential: secret-1
      active: true
database:
  backend: memory
queue:
  prefix: acme:hooks
ratelimit:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "wppconnect", cfg.Webhook.Provider)
	assert.Equal(t, "static", cfg.Directory.Backend)
	require.Len(t, cfg.Directory.Instances, 1)
	assert.Equal(t, StaticInstance{ID: "inst-1", TenantID: "tenant-1", Name: "support", Credential: "secret-1", Active: true}, cfg.Directory.Instances[0])
	assert.Equal(t, "memory", cfg.Database.Backend)
	assert.Equal(t, "acme:hooks", cfg.Queue.Prefix)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("INGEST_REDIS_URL", "redis://cache:6379/2")
	t.Setenv("INGEST_SERVER_PORT", "7000")
	t.Setenv("INGEST_ADMIN_TOKEN", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis://cache:6379/2", cfg.Redis.URL)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Admin.Token)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Directory: DirectoryConfig{Backend: "postgres"},
			Database:  DatabaseConfig{Backend: "postgres"},
			Redis:     RedisConfig{URL: "redis://localhost:6379"},
			RateLimit: RateLimitConfig{Enabled: true, Requests: 10, Window: time.Second},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad directory backend", func(c *Config) { c.Directory.Backend = "ldap" }},
		{"bad database backend", func(c *Config) { c.Database.Backend = "mysql" }},
		{"static without instances", func(c *Config) { c.Directory.Backend = "static" }},
		{"instance without credential", func(c *Config) {
			c.Directory.Instances = []StaticInstance{{ID: "x"}}
		}},
		{"zero rate limit", func(c *Config) { c.RateLimit.Requests = 0 }},
		{"no redis", func(c *Config) { c.Redis.URL = "" }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
