// Package config loads vgraph configuration from a YAML file and VGRAPH_*
// environment variables.
//
// Order: Default() -> YAML file (unknown keys rejected) -> environment.
// The result is a plain value handed to constructors at process start.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/vgraph/internal/logging"
)

// Config holds every setting of a vgraph process.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Dictionary DictionaryConfig `yaml:"dictionary"`
	Logging    LoggingConfig    `yaml:"logging"`
	Auth       AuthConfig       `yaml:"auth"`
	IDService  IDServiceConfig  `yaml:"idservice"`
	Retry      RetryConfig      `yaml:"retry"`
}

// StoreConfig selects the database.
type StoreConfig struct {
	// Path is the SQLite file.
	Path string `yaml:"path"`

	// Driver is "sqlite3" (cgo) or "sqlite" (pure Go).
	Driver string `yaml:"driver"`
}

// DictionaryConfig locates the CUE dictionary.
type DictionaryConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// AuthConfig configures actor tokens. Either a key pair (RS256) or an
// HMAC secret (HS256) must be set to issue or verify tokens.
type AuthConfig struct {
	Issuer         string        `yaml:"issuer"`
	PrivateKeyFile string        `yaml:"private_key_file"`
	PublicKeyFile  string        `yaml:"public_key_file"`
	HMACSecret     string        `yaml:"hmac_secret"`
	TTL            time.Duration `yaml:"ttl"`
}

// String keeps the secret out of logs.
func (c AuthConfig) String() string {
	secret := ""
	if c.HMACSecret != "" {
		secret = "(set)"
	}
	return fmt.Sprintf("AuthConfig{Issuer:%s, PrivateKeyFile:%s, PublicKeyFile:%s, HMACSecret:%s, TTL:%s}",
		c.Issuer, c.PrivateKeyFile, c.PublicKeyFile, secret, c.TTL)
}

// IDServiceConfig points at the index service that mints node ids. An
// empty URL means ids are minted locally.
type IDServiceConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// RetryConfig bounds waits on collaborators.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Initial  time.Duration `yaml:"initial"`
	Max      time.Duration `yaml:"max"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Path:   "vgraph.db",
			Driver: "sqlite3",
		},
		Dictionary: DictionaryConfig{
			Dir: "dictionary",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logging.FormatText,
		},
		Auth: AuthConfig{
			Issuer: "vgraph",
			TTL:    time.Hour,
		},
		IDService: IDServiceConfig{
			Timeout: 5 * time.Second,
		},
		Retry: RetryConfig{
			Attempts: 10,
			Initial:  100 * time.Millisecond,
			Max:      2 * time.Second,
			Timeout:  30 * time.Second,
		},
	}
}

// Load reads path (skipped when empty) over the defaults, then applies
// environment overrides, then validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	if c.Store.Path == "" {
		return errors.New("store.path is required")
	}
	switch c.Store.Driver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("invalid store.driver %q (valid: sqlite3, sqlite)", c.Store.Driver)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("invalid logging.format %q (valid: text, json)", c.Logging.Format)
	}
	if c.Auth.TTL <= 0 {
		return fmt.Errorf("auth.ttl must be positive, got %v", c.Auth.TTL)
	}
	if c.Auth.PrivateKeyFile != "" && c.Auth.HMACSecret != "" {
		return errors.New("auth: set either private_key_file or hmac_secret, not both")
	}
	if c.IDService.Timeout < 0 {
		return fmt.Errorf("idservice.timeout must be non-negative, got %v", c.IDService.Timeout)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1, got %d", c.Retry.Attempts)
	}
	if c.Retry.Initial <= 0 || c.Retry.Max < c.Retry.Initial {
		return fmt.Errorf("retry: need 0 < initial <= max, got %v and %v", c.Retry.Initial, c.Retry.Max)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Store.Path = getEnv("VGRAPH_DB", cfg.Store.Path)
	cfg.Store.Driver = getEnv("VGRAPH_STORE_DRIVER", cfg.Store.Driver)
	cfg.Dictionary.Dir = getEnv("VGRAPH_DICTIONARY", cfg.Dictionary.Dir)
	cfg.Logging.Level = getEnv("VGRAPH_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("VGRAPH_LOG_FORMAT", cfg.Logging.Format)
	cfg.Auth.Issuer = getEnv("VGRAPH_AUTH_ISSUER", cfg.Auth.Issuer)
	cfg.Auth.PrivateKeyFile = getEnv("VGRAPH_AUTH_PRIVATE_KEY", cfg.Auth.PrivateKeyFile)
	cfg.Auth.PublicKeyFile = getEnv("VGRAPH_AUTH_PUBLIC_KEY", cfg.Auth.PublicKeyFile)
	cfg.Auth.HMACSecret = getEnv("VGRAPH_AUTH_SECRET", cfg.Auth.HMACSecret)
	cfg.Auth.TTL = getEnvDuration("VGRAPH_AUTH_TTL", cfg.Auth.TTL)
	cfg.IDService.URL = getEnv("VGRAPH_IDSERVICE_URL", cfg.IDService.URL)
	cfg.IDService.Timeout = getEnvDuration("VGRAPH_IDSERVICE_TIMEOUT", cfg.IDService.Timeout)
	cfg.Retry.Attempts = getEnvInt("VGRAPH_RETRY_ATTEMPTS", cfg.Retry.Attempts)
	cfg.Retry.Timeout = getEnvDuration("VGRAPH_RETRY_TIMEOUT", cfg.Retry.Timeout)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
