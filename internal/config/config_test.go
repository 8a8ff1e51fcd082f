package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	origEnv := os.Environ()
	os.Clearenv()
	t.Cleanup(func() {
		os.Clearenv()
		for _, e := range origEnv {
			pair := strings.SplitN(e, "=", 2)
			if len(pair) == 2 {
				os.Setenv(pair[0], pair[1]) //nolint:errcheck,gosec // Test setup
			}
		}
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if len(cfg.Servers) != 1 || cfg.Servers[0] != DefaultServerURL {
		t.Errorf("Servers = %v, want [%s]", cfg.Servers, DefaultServerURL)
	}
	if cfg.PollInterval.Duration != DefaultPollInterval {
		t.Errorf("PollInterval = %v, want %v", cfg.PollInterval, DefaultPollInterval)
	}
	if cfg.HTTPTimeout.Duration != DefaultHTTPTimeout {
		t.Errorf("HTTPTimeout = %v, want %v", cfg.HTTPTimeout, DefaultHTTPTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name         string
		envVars      map[string]string
		wantServers  []string
		wantDBPath   string
		wantInterval time.Duration
		wantToken    string
	}{
		{
			name:         "defaults",
			envVars:      map[string]string{},
			wantServers:  []string{DefaultServerURL},
			wantInterval: DefaultPollInterval,
		},
		{
			name: "server override goes first",
			envVars: map[string]string{
				"TREESEG_SERVER": "http://localhost:8080/",
			},
			wantServers:  []string{"http://localhost:8080", DefaultServerURL},
			wantInterval: DefaultPollInterval,
		},
		{
			name: "custom values via environment",
			envVars: map[string]string{
				"TREESEG_DATABASE_PATH": "/custom/db.sqlite",
				"TREESEG_POLL_INTERVAL": "10s",
				"TREESEG_TOKEN":         "abc123",
			},
			wantServers:  []string{DefaultServerURL},
			wantDBPath:   "/custom/db.sqlite",
			wantInterval: 10 * time.Second,
			wantToken:    "abc123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.envVars {
				os.Setenv(k, v) //nolint:errcheck,gosec // Test setup
			}
			os.Setenv("TREESEG_CONFIG", "/nonexistent/config.toml") //nolint:errcheck,gosec // Test setup

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			if strings.Join(cfg.Servers, ",") != strings.Join(tt.wantServers, ",") {
				t.Errorf("Servers = %v, want %v", cfg.Servers, tt.wantServers)
			}
			if tt.wantDBPath != "" && cfg.DatabasePath != tt.wantDBPath {
				t.Errorf("DatabasePath = %v, want %v", cfg.DatabasePath, tt.wantDBPath)
			}
			if cfg.PollInterval.Duration != tt.wantInterval {
				t.Errorf("PollInterval = %v, want %v", cfg.PollInterval, tt.wantInterval)
			}
			if cfg.Token != tt.wantToken {
				t.Errorf("Token = %q, want %q", cfg.Token, tt.wantToken)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
servers = ["https://dss.example.org/", "http://localhost:9000"]
database_path = "/tmp/treeseg-test.db"
poll_interval = "2s"
http_timeout = "1m"
debug = true
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	os.Setenv("TREESEG_CONFIG", path) //nolint:errcheck,gosec // Test setup

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Servers) != 2 || cfg.Servers[0] != "https://dss.example.org" {
		t.Errorf("Servers = %v", cfg.Servers)
	}
	if cfg.PollInterval.Duration != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.PollInterval)
	}
	if cfg.HTTPTimeout.Duration != time.Minute {
		t.Errorf("HTTPTimeout = %v, want 1m", cfg.HTTPTimeout)
	}
	if !cfg.Debug {
		t.Error("Debug should be true")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"no servers", func(c *Config) { c.Servers = nil }, "at least one server"},
		{"bad scheme", func(c *Config) { c.Servers = []string{"ftp://x"} }, "must start with"},
		{"poll too fast", func(c *Config) { c.PollInterval = Duration{10 * time.Millisecond} }, "poll_interval"},
		{"zero timeout", func(c *Config) { c.HTTPTimeout = Duration{} }, "http_timeout"},
		{"no database", func(c *Config) { c.DatabasePath = "" }, "database_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestStringHidesToken(t *testing.T) {
	cfg := defaultConfig()
	cfg.Token = "secret"
	if strings.Contains(cfg.String(), "secret") {
		t.Errorf("String() leaked token: %s", cfg.String())
	}
}
