package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// FUNCTIONAL VALIDATION TEST: Default configuration is valid
func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if err := config.Validate(); err != nil {
		t.Fatalf("Defaults should validate: %v", err)
	}
	if config.Database.Name == "" {
		t.Error("Default database name should not be empty")
	}
	if config.WebSocket.IntentsPerMinute != 120 {
		t.Errorf("Expected 120 intents per minute, got %d", config.WebSocket.IntentsPerMinute)
	}
	if len(config.HTTP.CORSAllowedOrigins) != 1 || config.HTTP.CORSAllowedOrigins[0] != "*" {
		t.Errorf("Expected wildcard CORS, got %v", config.HTTP.CORSAllowedOrigins)
	}
	if config.Log.Level != "info" || config.Log.Format != "json" {
		t.Errorf("Unexpected log defaults %+v", config.Log)
	}
}

// FUNCTIONAL VALIDATION TEST: Validation rejects each invalid setting
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantMsg string
	}{
		{"empty database name", func(c *Config) { c.Database.Name = "" }, "database name"},
		{"zero database timeout", func(c *Config) { c.Database.Timeout = 0 }, "database timeout"},
		{"port too low", func(c *Config) { c.HTTP.Port = 0 }, "port"},
		{"port too high", func(c *Config) { c.HTTP.Port = 70000 }, "port"},
		{"negative read timeout", func(c *Config) { c.HTTP.ReadTimeout = -time.Second }, "read timeout"},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }, "host"},
		{"zero ping interval", func(c *Config) { c.WebSocket.PingInterval = 0 }, "ping interval"},
		{"read timeout below ping", func(c *Config) { c.WebSocket.ReadTimeout = 10 * time.Second }, "exceed the ping interval"},
		{"zero buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }, "buffer size"},
		{"zero max message", func(c *Config) { c.WebSocket.MaxMessageSize = 0 }, "max message size"},
		{"negative rate", func(c *Config) { c.WebSocket.IntentsPerMinute = -1 }, "intents per minute"},
		{"zero hub queue", func(c *Config) { c.Hub.QueueSize = 0 }, "queue size"},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }, "log level"},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
		{"missing section", func(c *Config) { c.Hub = nil }, "hub configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)

			err := config.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected error mentioning %q, got %v", tt.wantMsg, err)
			}
		})
	}
}

func TestConfig_RateLimitCanBeDisabled(t *testing.T) {
	config := DefaultConfig()
	config.WebSocket.IntentsPerMinute = 0
	if err := config.Validate(); err != nil {
		t.Errorf("Zero intents per minute disables limiting and should validate: %v", err)
	}
}

// FUNCTIONAL VALIDATION TEST: Environment variable configuration loading
func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("GRIDSPACE_HTTP_PORT", "9090")
	t.Setenv("GRIDSPACE_DATABASE_NAME", "test-db")
	t.Setenv("GRIDSPACE_WEBSOCKET_PING_INTERVAL", "5s")
	t.Setenv("GRIDSPACE_WEBSOCKET_INTENTS_PER_MINUTE", "30")
	t.Setenv("GRIDSPACE_HUB_QUEUE_SIZE", "50")
	t.Setenv("GRIDSPACE_CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("GRIDSPACE_LOG_LEVEL", "debug")
	t.Setenv("GRIDSPACE_LOG_FORMAT", "console")

	config := LoadFromEnv()

	if config.HTTP.Port != 9090 {
		t.Errorf("Expected HTTP port 9090, got %d", config.HTTP.Port)
	}
	if config.Database.Name != "test-db" {
		t.Errorf("Expected database name test-db, got %s", config.Database.Name)
	}
	if config.WebSocket.PingInterval != 5*time.Second {
		t.Errorf("Expected 5s ping interval, got %v", config.WebSocket.PingInterval)
	}
	if config.WebSocket.IntentsPerMinute != 30 || config.Hub.QueueSize != 50 {
		t.Errorf("Unexpected limits %d/%d", config.WebSocket.IntentsPerMinute, config.Hub.QueueSize)
	}
	if got := config.HTTP.CORSAllowedOrigins; len(got) != 2 || got[1] != "http://b.test" {
		t.Errorf("Unexpected origins %v", got)
	}
	if config.Log.Level != "debug" || config.Log.Format != "console" {
		t.Errorf("Unexpected log config %+v", config.Log)
	}
}

// TECHNICAL VALIDATION TEST: Environment variable edge cases
func TestConfig_LoadFromEnvInvalidValuesFallBack(t *testing.T) {
	t.Setenv("GRIDSPACE_HTTP_PORT", "invalid")
	t.Setenv("GRIDSPACE_HTTP_READ_TIMEOUT", "soon")

	config := LoadFromEnv()
	defaults := DefaultConfig()

	if config.HTTP.Port != defaults.HTTP.Port {
		t.Errorf("Expected default port when env var is invalid, got %d", config.HTTP.Port)
	}
	if config.HTTP.ReadTimeout != defaults.HTTP.ReadTimeout {
		t.Error("Should fall back to default when duration parsing fails")
	}
}

// TECHNICAL VALIDATION TEST: Configuration file parsing
func TestConfig_LoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `{
		"database": {"name": "from-file", "timeout": "2s"},
		"http": {"port": 8081, "read_timeout": "10s", "cors_allowed_origins": ["http://app.test"]},
		"websocket": {"ping_interval": "15s", "intents_per_minute": 0},
		"hub": {"queue_size": 10},
		"log": {"level": "warn"}
	}`)

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile should succeed: %v", err)
	}

	if config.Database.Name != "from-file" || config.Database.Timeout != 2*time.Second {
		t.Errorf("Unexpected database config %+v", config.Database)
	}
	if config.HTTP.Port != 8081 || config.HTTP.ReadTimeout != 10*time.Second {
		t.Errorf("Unexpected HTTP config %+v", config.HTTP)
	}
	if config.HTTP.WriteTimeout != DefaultConfig().HTTP.WriteTimeout {
		t.Error("Omitted fields should keep defaults")
	}
	if config.WebSocket.IntentsPerMinute != 0 {
		t.Errorf("Explicit zero should disable rate limiting, got %d", config.WebSocket.IntentsPerMinute)
	}
	if config.Hub.QueueSize != 10 || config.Log.Level != "warn" {
		t.Errorf("Unexpected hub/log config %+v %+v", config.Hub, config.Log)
	}
}

func TestConfig_LoadFromFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid json", `{"http": {"port": "eighty"`},
		{"bad duration", `{"http": {"read_timeout": "ten seconds"}}`},
		{"invalid result", `{"log": {"format": "yaml"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFromFile(writeConfigFile(t, tt.content)); err == nil {
				t.Error("Expected error")
			}
		})
	}

	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Missing file should fail")
	}
}

// FUNCTIONAL VALIDATION TEST: Precedence file > environment > defaults
func TestConfig_LoadPrecedence(t *testing.T) {
	config, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.HTTP.Port != DefaultConfig().HTTP.Port {
		t.Errorf("Expected default port, got %d", config.HTTP.Port)
	}

	t.Setenv("GRIDSPACE_HTTP_PORT", "9999")
	t.Setenv("GRIDSPACE_LOG_LEVEL", "debug")

	config, _ = Load("")
	if config.HTTP.Port != 9999 {
		t.Errorf("Expected env port 9999, got %d", config.HTTP.Port)
	}

	config, err = Load(writeConfigFile(t, `{"http": {"port": 7777}}`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.HTTP.Port != 7777 {
		t.Errorf("Expected file port 7777, got %d", config.HTTP.Port)
	}
	if config.Log.Level != "debug" {
		t.Errorf("Env values not in the file should survive, got %q", config.Log.Level)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "nonexistent.json")); err == nil {
		t.Error("A named but missing file should fail")
	}
}

func TestConfig_LoadRejectsInvalidEnvironment(t *testing.T) {
	t.Setenv("GRIDSPACE_LOG_FORMAT", "xml")
	if _, err := Load(""); err == nil {
		t.Error("Invalid environment should fail validation")
	}
}
