package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CLIConfig configures winlogctl.
type CLIConfig struct {
	// ServerURL is the collector base URL, e.g. http://127.0.0.1:3000.
	ServerURL string         `mapstructure:"server_url"`
	Client    ClientConfig   `mapstructure:"client"`
	Database  PostgresConfig `mapstructure:"database"`
	Output    string         `mapstructure:"output"`
	Logging   LoggingConfig  `mapstructure:"logging"`
	Admin     AdminConfig    `mapstructure:"admin"`

	path string
}

// ClientConfig tunes the workstation client.
type ClientConfig struct {
	UserAgent  string        `mapstructure:"user_agent"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// AdminConfig holds settings for maintenance commands.
type AdminConfig struct {
	ConfirmWord string `mapstructure:"confirm_word"`
}

// EventsURL is the ingestion endpoint.
func (c *CLIConfig) EventsURL() string {
	return strings.TrimRight(c.ServerURL, "/") + "/api/v1/events"
}

// SessionsURL is the open sessions listing endpoint.
func (c *CLIConfig) SessionsURL() string {
	return strings.TrimRight(c.ServerURL, "/") + "/api/v1/sessions/current"
}

// Path returns the config file the CLI read, if any.
func (c *CLIConfig) Path() string {
	return c.path
}

// LoadCLI loads winlogctl configuration. An empty configPath means
// $WINLOG_CONFIG_DIR/config.yaml, defaulting to $HOME/.winlog.
func LoadCLI(configPath string) (*CLIConfig, error) {
	v := viper.New()

	v.SetDefault("server_url", "http://127.0.0.1:3000")
	v.SetDefault("client.user_agent", "Winlog/0.1.0")
	v.SetDefault("client.token", "")
	v.SetDefault("client.timeout", "30s")
	v.SetDefault("client.max_retries", 3)
	v.SetDefault("client.retry_delay", "1s")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "winlog")
	v.SetDefault("database.user", "winlog")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("output", "table")
	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "text")
	v.SetDefault("admin.confirm_word", "PURGE")

	if configPath == "" {
		configDir := os.Getenv("WINLOG_CONFIG_DIR")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to determine home directory: %w", err)
			}
			configDir = filepath.Join(home, ".winlog")
		}
		configPath = filepath.Join(configDir, "config.yaml")
	}
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Environment variables override with WINLOGCTL prefix
	v.SetEnvPrefix("WINLOGCTL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing file is fine; defaults and env still apply.
	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg CLIConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.path = configPath

	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server_url is required")
	}
	if cfg.Client.MaxRetries < 1 {
		cfg.Client.MaxRetries = 1
	}

	return &cfg, nil
}
