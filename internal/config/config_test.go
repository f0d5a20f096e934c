package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "vgraph.db", cfg.Store.Path)
	assert.Equal(t, "sqlite3", cfg.Store.Driver)
	assert.Equal(t, time.Hour, cfg.Auth.TTL)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
store:
  path: /var/lib/vgraph/graph.db
  driver: sqlite
dictionary:
  dir: ./gdc
logging:
  level: debug
  format: json
auth:
  issuer: test-issuer
  hmac_secret: s3cret
  ttl: 15m
idservice:
  url: http://indexd:8080
  timeout: 2s
retry:
  attempts: 3
  initial: 50ms
  max: 1s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/vgraph/graph.db", cfg.Store.Path)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "./gdc", cfg.Dictionary.Dir)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 15*time.Minute, cfg.Auth.TTL)
	assert.Equal(t, "http://indexd:8080", cfg.IDService.URL)
	assert.Equal(t, 2*time.Second, cfg.IDService.Timeout)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, 30*time.Second, cfg.Retry.Timeout, "unset keys keep their defaults")
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "store:\n  pth: typo.db\n")

	_, err := Load(path)
	assert.ErrorContains(t, err, "field pth not found")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "store:\n  path: file.db\nlogging:\n  level: warn\n")
	t.Setenv("VGRAPH_DB", "env.db")
	t.Setenv("VGRAPH_AUTH_TTL", "90s")
	t.Setenv("VGRAPH_RETRY_ATTEMPTS", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env.db", cfg.Store.Path)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 90*time.Second, cfg.Auth.TTL)
	assert.Equal(t, 10, cfg.Retry.Attempts, "unparsable values are ignored")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "reading config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"empty path", func(c *Config) { c.Store.Path = "" }, "store.path is required"},
		{"bad driver", func(c *Config) { c.Store.Driver = "postgres" }, `invalid store.driver "postgres"`},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "invalid logging.format"},
		{"zero ttl", func(c *Config) { c.Auth.TTL = 0 }, "auth.ttl must be positive"},
		{"two keys", func(c *Config) {
			c.Auth.PrivateKeyFile = "k.pem"
			c.Auth.HMACSecret = "x"
		}, "not both"},
		{"no attempts", func(c *Config) { c.Retry.Attempts = 0 }, "retry.attempts"},
		{"max below initial", func(c *Config) { c.Retry.Max = time.Millisecond }, "0 < initial <= max"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestAuthConfig_StringRedactsSecret(t *testing.T) {
	c := AuthConfig{Issuer: "vgraph", HMACSecret: "super-secret"}
	assert.NotContains(t, c.String(), "super-secret")
	assert.Contains(t, c.String(), "(set)")
}
