// Package config loads and validates application configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the C8_ prefix (e.g., C8_DATABASE_HOST
// overrides database.host in the YAML). The same binary therefore runs with a
// config.yaml in local development and with pure environment variables in
// containerized deployments.
//
// The loaded Config is constructed once at startup and passed explicitly to
// every component; nothing in this package is read after Load returns.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Index      IndexConfig      `mapstructure:"index"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Federation FederationConfig `mapstructure:"federation"`
	Queue      QueueConfig      `mapstructure:"queue"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds the ledger (PostgreSQL) connection configuration.
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// DSN builds the lib/pq connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode)
}

// RedisConfig holds the connection used by the job queue and rate limiter.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds session token settings.
type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	Issuer     string        `mapstructure:"issuer"`
	Audience   string        `mapstructure:"audience"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// IndexConfig holds search-index settings. KeywordWeight and VectorWeight are
// the independent clause weights of the hybrid query; a zero VectorWeight
// disables the vector clause (and inline embedding) entirely.
type IndexConfig struct {
	Path          string        `mapstructure:"path"`
	KeywordWeight float64       `mapstructure:"keyword_weight"`
	VectorWeight  float64       `mapstructure:"vector_weight"`
	SearchTimeout time.Duration `mapstructure:"search_timeout"`
}

// VectorEnabled reports whether semantic search participates in queries.
func (i *IndexConfig) VectorEnabled() bool { return i.VectorWeight > 0 }

// EmbeddingConfig holds the external embedding provider settings.
type EmbeddingConfig struct {
	URL       string        `mapstructure:"url"`
	HealthURL string        `mapstructure:"health_url"`
	Dim       int           `mapstructure:"dim"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// Strict disables the deterministic fallback so provider failures surface
	// as errors. Only meaningful in tests and debugging; the write path relies
	// on the fallback to stay non-blocking.
	Strict bool `mapstructure:"strict"`
}

// FederationConfig holds the remote peer settings.
type FederationConfig struct {
	Base          string        `mapstructure:"base"`
	APIKey        string        `mapstructure:"api_key"`
	AllowOverride bool          `mapstructure:"allow_override"`
	Timeout       time.Duration `mapstructure:"timeout"`
	// AllowedHosts is the peer host allow-list. When empty only loopback
	// targets are permitted, so a misconfigured override cannot redirect
	// queries to an arbitrary internal address.
	AllowedHosts []string `mapstructure:"allowed_hosts"`
}

// QueueConfig holds retry policy for the two background queues.
type QueueConfig struct {
	EmbeddingMaxRetries int             `mapstructure:"embedding_max_retries"`
	EmbeddingBackoff    []time.Duration `mapstructure:"embedding_backoff"`
	IndexSyncMaxRetries int             `mapstructure:"index_sync_max_retries"`
	IndexSyncBackoff    []time.Duration `mapstructure:"index_sync_backoff"`
	PollInterval        time.Duration   `mapstructure:"poll_interval"`
}

// RateLimitConfig holds per-client request ceilings enforced in middleware.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
}

// LoggingConfig holds the slog handler settings.
type LoggingConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// Load reads configuration from file and environment and validates it.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/context8")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment variables apply.
	}

	v.SetEnvPrefix("C8")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Auth.JWTSecret = expandEnv(cfg.Auth.JWTSecret)
	cfg.Federation.APIKey = expandEnv(cfg.Federation.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks invariants that would otherwise fail at an awkward moment
// deep inside a request.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if c.Index.KeywordWeight < 0 || c.Index.VectorWeight < 0 {
		return fmt.Errorf("index clause weights must be non-negative")
	}
	if c.Index.KeywordWeight == 0 && c.Index.VectorWeight == 0 {
		return fmt.Errorf("at least one index clause weight must be positive")
	}
	if c.Index.VectorEnabled() && c.Embedding.Dim <= 0 {
		return fmt.Errorf("embedding.dim must be positive when vector search is enabled")
	}
	if c.Queue.EmbeddingMaxRetries < 0 || c.Queue.IndexSyncMaxRetries < 0 {
		return fmt.Errorf("queue retry counts must be non-negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "context8")
	v.SetDefault("database.user", "context8")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.issuer", "context8.com")
	v.SetDefault("auth.audience", "context8-api")
	v.SetDefault("auth.session_ttl", "168h")

	v.SetDefault("index.path", "./data/solutions.bleve")
	v.SetDefault("index.keyword_weight", 1.0)
	v.SetDefault("index.vector_weight", 0.0)
	v.SetDefault("index.search_timeout", "3s")

	v.SetDefault("embedding.dim", 384)
	v.SetDefault("embedding.timeout", "10s")
	v.SetDefault("embedding.strict", false)

	v.SetDefault("federation.allow_override", true)
	v.SetDefault("federation.timeout", "6s")

	v.SetDefault("queue.embedding_max_retries", 3)
	v.SetDefault("queue.embedding_backoff", []string{"5s", "15s", "30s"})
	v.SetDefault("queue.index_sync_max_retries", 5)
	v.SetDefault("queue.index_sync_backoff", []string{"1s", "2s", "4s"})
	v.SetDefault("queue.poll_interval", "1s")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_minute", 200)

	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.level", "info")
}

// bindEnvVars binds nested keys explicitly; AutomaticEnv alone does not
// surface nested struct keys to Unmarshal.
func bindEnvVars(v *viper.Viper) {
	keys := []string{
		"server.host", "server.port", "server.read_timeout", "server.write_timeout",
		"database.host", "database.port", "database.name", "database.user",
		"database.password", "database.ssl_mode", "database.max_connections",
		"database.min_idle_connections",
		"redis.addr", "redis.password", "redis.db",
		"auth.jwt_secret", "auth.issuer", "auth.audience", "auth.session_ttl",
		"index.path", "index.keyword_weight", "index.vector_weight", "index.search_timeout",
		"embedding.url", "embedding.health_url", "embedding.dim", "embedding.timeout", "embedding.strict",
		"federation.base", "federation.api_key", "federation.allow_override",
		"federation.timeout", "federation.allowed_hosts",
		"queue.embedding_max_retries", "queue.embedding_backoff",
		"queue.index_sync_max_retries", "queue.index_sync_backoff", "queue.poll_interval",
		"rate_limit.enabled", "rate_limit.requests_per_minute",
		"logging.format", "logging.level",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// expandEnv resolves ${VAR} references so secrets can be injected indirectly.
func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(value, "${"), "}"))
	}
	return value
}
