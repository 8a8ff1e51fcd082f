package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration settings for the client
type Config struct {
	// Servers is the built-in list of service URLs. User-added servers are
	// stored in the preferences database and appended after these.
	Servers []string `toml:"servers"`

	// Token is an optional bearer token used for the first authentication
	Token string `toml:"token"`

	// DatabasePath is the path to the SQLite database holding preferences
	// and submission history
	DatabasePath string `toml:"database_path"`

	// WorkspaceDir is the default directory for workspace definitions
	WorkspaceDir string `toml:"workspace_dir"`

	// LogDir enables file logging when set
	LogDir string `toml:"log_dir"`

	// PollInterval controls how often background polls run
	PollInterval Duration `toml:"poll_interval"`

	// HTTPTimeout bounds every request made to the service
	HTTPTimeout Duration `toml:"http_timeout"`

	// Debug enables debug level logging
	Debug bool `toml:"debug"`
}

// Duration wraps time.Duration so it can be written as "5s" in TOML
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// defaultConfig returns the default configuration
func defaultConfig() *Config {
	return &Config{
		Servers:      []string{DefaultServerURL},
		DatabasePath: filepath.Join(GetBasePath(), "treeseg.db"),
		WorkspaceDir: ".",
		PollInterval: Duration{DefaultPollInterval},
		HTTPTimeout:  Duration{DefaultHTTPTimeout},
	}
}

// GetBasePath returns the per-user directory for client state
func GetBasePath() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "treeseg")
	}
	return ".treeseg"
}

// Load loads the configuration from file and environment variables
func Load() (*Config, error) {
	// Start with default configuration
	config := defaultConfig()

	// Try to load from config.toml if it exists
	configPath := "config.toml"
	if override := os.Getenv("TREESEG_CONFIG"); override != "" {
		configPath = override
	}
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	// Override with environment variables if set
	if server := os.Getenv("TREESEG_SERVER"); server != "" {
		config.Servers = append([]string{server}, without(config.Servers, server)...)
	}

	if token := os.Getenv("TREESEG_TOKEN"); token != "" {
		config.Token = token
	}

	if dbPath := os.Getenv("TREESEG_DATABASE_PATH"); dbPath != "" {
		config.DatabasePath = dbPath
	}

	if logDir := os.Getenv("TREESEG_LOG_DIR"); logDir != "" {
		config.LogDir = logDir
	}

	if interval := os.Getenv("TREESEG_POLL_INTERVAL"); interval != "" {
		if err := config.PollInterval.UnmarshalText([]byte(interval)); err != nil {
			return nil, fmt.Errorf("failed to parse TREESEG_POLL_INTERVAL: %w", err)
		}
	}

	if timeout := os.Getenv("TREESEG_HTTP_TIMEOUT"); timeout != "" {
		if err := config.HTTPTimeout.UnmarshalText([]byte(timeout)); err != nil {
			return nil, fmt.Errorf("failed to parse TREESEG_HTTP_TIMEOUT: %w", err)
		}
	}

	if os.Getenv("DEBUG") == "true" {
		config.Debug = true
	}

	// Trailing slashes would produce "//api/..." paths
	for i, server := range config.Servers {
		config.Servers[i] = strings.TrimRight(strings.TrimSpace(server), "/")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("at least one server URL is required")
	}
	for _, server := range c.Servers {
		if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
			return fmt.Errorf("server URL %q must start with http:// or https://", server)
		}
	}
	if c.PollInterval.Duration < MinPollInterval {
		return fmt.Errorf("poll_interval must be at least %s", MinPollInterval)
	}
	if c.HTTPTimeout.Duration <= 0 {
		return fmt.Errorf("http_timeout must be positive")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	return nil
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Servers: %s", strings.Join(c.Servers, ",")))
	parts = append(parts, fmt.Sprintf("DatabasePath: %s", c.DatabasePath))
	parts = append(parts, fmt.Sprintf("PollInterval: %s", c.PollInterval))
	parts = append(parts, fmt.Sprintf("HTTPTimeout: %s", c.HTTPTimeout))
	if c.Token != "" {
		parts = append(parts, "Token: <set>")
	}
	return strings.Join(parts, ", ")
}

func without(values []string, drop string) []string {
	var result []string
	for _, v := range values {
		if v != drop {
			result = append(result, v)
		}
	}
	return result
}
