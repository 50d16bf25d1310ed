package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata" // correlation.timezone must resolve on hosts without zoneinfo

	"github.com/spf13/viper"
	"github.com/winlog-collector/winlog/internal/keylock"
	"github.com/winlog-collector/winlog/internal/models"
)

// Storage backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendFile     = "file"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Security    SecurityConfig    `mapstructure:"security"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Redis       RedisConfig       `mapstructure:"redis"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Type           string         `mapstructure:"type"`
	Postgres       PostgresConfig `mapstructure:"postgres"`
	File           FileConfig     `mapstructure:"file"`
	MigrationsPath string         `mapstructure:"migrations_path"`
	AutoMigrate    bool           `mapstructure:"auto_migrate"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// ConnString builds a postgres:// URL from the individual settings.
func (p PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:     "/" + p.Database,
		RawQuery: "sslmode=" + url.QueryEscape(p.SSLMode),
	}
	return u.String()
}

type FileConfig struct {
	Path string `mapstructure:"path"`
}

type SecurityConfig struct {
	ExpectedUserAgent string   `mapstructure:"expected_user_agent"`
	ValidActions      []string `mapstructure:"valid_actions"`
	// SharedSecretHash is a bcrypt hash of the X-Winlog-Token value. Empty disables the check.
	SharedSecretHash string `mapstructure:"shared_secret_hash"`
}

type CorrelationConfig struct {
	Timezone  string        `mapstructure:"timezone"`
	LockMode  string        `mapstructure:"lock_mode"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
	LockRetry time.Duration `mapstructure:"lock_retry"`
}

// Location resolves Timezone, falling back to UTC.
func (c CorrelationConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("database.type", BackendPostgres)
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "winlog")
	v.SetDefault("database.postgres.user", "winlog")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.postgres.max_conns", 25)
	v.SetDefault("database.postgres.min_conns", 5)
	v.SetDefault("database.file.path", "./data/events.jsonl")
	v.SetDefault("database.migrations_path", "file://migrations")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("security.expected_user_agent", "Winlog/0.1.0")
	v.SetDefault("security.valid_actions", []string{"C", "D", "M"})
	v.SetDefault("security.shared_secret_hash", "")
	v.SetDefault("correlation.timezone", "UTC")
	v.SetDefault("correlation.lock_mode", keylock.ModeLocal)
	v.SetDefault("correlation.lock_ttl", "10s")
	v.SetDefault("correlation.lock_retry", "25ms")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests", 120)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.token", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/winlog")
	}

	// Environment variables override (WINLOG_SERVER_PORT, etc.)
	v.SetEnvPrefix("WINLOG")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the collector cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}

	switch c.Database.Type {
	case BackendPostgres, BackendMemory, BackendFile:
	default:
		return fmt.Errorf("unknown database.type %q", c.Database.Type)
	}
	if c.Database.Type == BackendFile && c.Database.File.Path == "" {
		return fmt.Errorf("database.file.path is required for the file backend")
	}

	if c.Security.ExpectedUserAgent == "" {
		return fmt.Errorf("security.expected_user_agent is required")
	}
	if len(c.Security.ValidActions) == 0 {
		return fmt.Errorf("security.valid_actions must not be empty")
	}
	for _, a := range c.Security.ValidActions {
		if _, err := models.ParseAction(a); err != nil {
			return fmt.Errorf("security.valid_actions: %w", err)
		}
	}

	if _, err := c.Correlation.Location(); err != nil {
		return fmt.Errorf("invalid correlation.timezone %q: %w", c.Correlation.Timezone, err)
	}

	validMode := false
	for _, m := range keylock.Modes {
		if c.Correlation.LockMode == m {
			validMode = true
			break
		}
	}
	if !validMode {
		return fmt.Errorf("unknown correlation.lock_mode %q (want one of %s)",
			c.Correlation.LockMode, strings.Join(keylock.Modes, ", "))
	}

	if (c.Correlation.LockMode == keylock.ModeRedis || c.RateLimit.Enabled) && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when redis locking or rate limiting is enabled")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate_limit.requests and rate_limit.window must be positive")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when notifications are enabled")
	}

	return nil
}
