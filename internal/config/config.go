package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Hub       *HubConfig       `json:"hub"`
	Log       *LogConfig       `json:"log"`
}

// FUNCTIONAL DISCOVERY: The room catalog lives in a named memory-mode database;
// the name only isolates instances within one process
type DatabaseConfig struct {
	Name    string        `json:"name"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port               int           `json:"port"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	Host               string        `json:"host"`
	CORSAllowedOrigins []string      `json:"cors_allowed_origins"`
}

type WebSocketConfig struct {
	PingInterval     time.Duration `json:"ping_interval"`
	ReadTimeout      time.Duration `json:"read_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout"`
	BufferSize       int           `json:"buffer_size"`
	MaxMessageSize   int64         `json:"max_message_size"`
	IntentsPerMinute int           `json:"intents_per_minute"`
}

type HubConfig struct {
	QueueSize int `json:"queue_size"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"json": true, "console": true}
)

// DefaultConfig returns settings suitable for a single local instance
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Name:    "gridspace",
			Timeout: 5 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:               3000,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       30 * time.Second,
			Host:               "0.0.0.0",
			CORSAllowedOrigins: []string{"*"},
		},
		WebSocket: &WebSocketConfig{
			PingInterval:     30 * time.Second,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     10 * time.Second,
			BufferSize:       100,
			MaxMessageSize:   64 * 1024,
			IntentsPerMinute: 120,
		},
		Hub: &HubConfig{
			QueueSize: 1000,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("WebSocket read timeout must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}
	if c.WebSocket.IntentsPerMinute < 0 {
		return fmt.Errorf("WebSocket intents per minute cannot be negative")
	}

	if c.Hub == nil {
		return fmt.Errorf("hub configuration is required")
	}
	if c.Hub.QueueSize <= 0 {
		return fmt.Errorf("hub queue size must be positive")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}

	return nil
}

// LoadFromEnv overrides defaults with GRIDSPACE_* variables
// FUNCTIONAL DISCOVERY: Unparseable values fall back to the default silently
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	envString("GRIDSPACE_HTTP_HOST", &config.HTTP.Host)
	envInt("GRIDSPACE_HTTP_PORT", &config.HTTP.Port)
	envDuration("GRIDSPACE_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("GRIDSPACE_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	if origins := os.Getenv("GRIDSPACE_CORS_ALLOWED_ORIGINS"); origins != "" {
		config.HTTP.CORSAllowedOrigins = splitCSV(origins)
	}

	envString("GRIDSPACE_DATABASE_NAME", &config.Database.Name)
	envDuration("GRIDSPACE_DATABASE_TIMEOUT", &config.Database.Timeout)

	envDuration("GRIDSPACE_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("GRIDSPACE_WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("GRIDSPACE_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("GRIDSPACE_WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
	envInt("GRIDSPACE_WEBSOCKET_INTENTS_PER_MINUTE", &config.WebSocket.IntentsPerMinute)

	envInt("GRIDSPACE_HUB_QUEUE_SIZE", &config.Hub.QueueSize)

	envString("GRIDSPACE_LOG_LEVEL", &config.Log.Level)
	envString("GRIDSPACE_LOG_FORMAT", &config.Log.Format)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Hub       *HubConfig           `json:"hub"`
	Log       *LogConfig           `json:"log"`
}

type DatabaseConfigFile struct {
	Name    string `json:"name"`
	Timeout string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port               int      `json:"port"`
	ReadTimeout        string   `json:"read_timeout"`
	WriteTimeout       string   `json:"write_timeout"`
	Host               string   `json:"host"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins"`
}

type WebSocketConfigFile struct {
	PingInterval     string `json:"ping_interval"`
	ReadTimeout      string `json:"read_timeout"`
	WriteTimeout     string `json:"write_timeout"`
	BufferSize       int    `json:"buffer_size"`
	MaxMessageSize   int64  `json:"max_message_size"`
	IntentsPerMinute *int   `json:"intents_per_minute"`
}

// LoadFromFile reads a JSON config file layered over the defaults
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, filepath); err != nil {
		return nil, err
	}
	return config, nil
}

func applyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var cf ConfigFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	if cf.Database != nil {
		if cf.Database.Name != "" {
			config.Database.Name = cf.Database.Name
		}
		if err := parseDuration(cf.Database.Timeout, &config.Database.Timeout); err != nil {
			return fmt.Errorf("database.timeout: %w", err)
		}
	}

	if cf.HTTP != nil {
		if cf.HTTP.Port != 0 {
			config.HTTP.Port = cf.HTTP.Port
		}
		if cf.HTTP.Host != "" {
			config.HTTP.Host = cf.HTTP.Host
		}
		if len(cf.HTTP.CORSAllowedOrigins) > 0 {
			config.HTTP.CORSAllowedOrigins = cf.HTTP.CORSAllowedOrigins
		}
		if err := parseDuration(cf.HTTP.ReadTimeout, &config.HTTP.ReadTimeout); err != nil {
			return fmt.Errorf("http.read_timeout: %w", err)
		}
		if err := parseDuration(cf.HTTP.WriteTimeout, &config.HTTP.WriteTimeout); err != nil {
			return fmt.Errorf("http.write_timeout: %w", err)
		}
	}

	if cf.WebSocket != nil {
		if cf.WebSocket.BufferSize != 0 {
			config.WebSocket.BufferSize = cf.WebSocket.BufferSize
		}
		if cf.WebSocket.MaxMessageSize != 0 {
			config.WebSocket.MaxMessageSize = cf.WebSocket.MaxMessageSize
		}
		if cf.WebSocket.IntentsPerMinute != nil {
			config.WebSocket.IntentsPerMinute = *cf.WebSocket.IntentsPerMinute
		}
		if err := parseDuration(cf.WebSocket.PingInterval, &config.WebSocket.PingInterval); err != nil {
			return fmt.Errorf("websocket.ping_interval: %w", err)
		}
		if err := parseDuration(cf.WebSocket.ReadTimeout, &config.WebSocket.ReadTimeout); err != nil {
			return fmt.Errorf("websocket.read_timeout: %w", err)
		}
		if err := parseDuration(cf.WebSocket.WriteTimeout, &config.WebSocket.WriteTimeout); err != nil {
			return fmt.Errorf("websocket.write_timeout: %w", err)
		}
	}

	if cf.Hub != nil && cf.Hub.QueueSize != 0 {
		config.Hub.QueueSize = cf.Hub.QueueSize
	}

	if cf.Log != nil {
		if cf.Log.Level != "" {
			config.Log.Level = cf.Log.Level
		}
		if cf.Log.Format != "" {
			config.Log.Format = cf.Log.Format
		}
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return nil
}

func parseDuration(s string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// Load applies configuration precedence: file > environment > defaults
// FUNCTIONAL DISCOVERY: An unreadable or invalid file is an error rather
// than being ignored, so a typo never silently runs with defaults
func Load(filepath string) (*Config, error) {
	config := LoadFromEnv()
	if filepath != "" {
		if err := applyFile(config, filepath); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
