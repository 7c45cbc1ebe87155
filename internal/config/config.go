// ABOUTME: Configuration loading and parsing for fanout-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete fanout-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Connector ConnectorConfig `yaml:"connector"`
	Masking   MaskingConfig   `yaml:"masking"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the agent-facing HTTP server configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	// RequestTimeout bounds every list-tools and call-tool operation.
	RequestTimeout    time.Duration `yaml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds inbound request authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ConnectorConfig holds child-server connection retry configuration.
// MaxAttempts * RetryDelay must stay comfortably under the server
// request timeout; Validate enforces the obvious violations.
type ConnectorConfig struct {
	MaxAttempts int `yaml:"max_attempts"`

	RetryDelay    time.Duration `yaml:"-"`
	RetryDelayRaw string        `yaml:"retry_delay"`
}

// MaskingConfig holds PII masking service configuration
type MaskingConfig struct {
	Endpoint string `yaml:"endpoint"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// TelemetryConfig holds the structured event sink configuration
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Compress bool   `yaml:"compress"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the corresponding fields are absent from the file.
const (
	DefaultRequestTimeout = 60 * time.Second
	DefaultMaxAttempts    = 3
	DefaultRetryDelay     = 2 * time.Second
	DefaultMaskingTimeout = 10 * time.Second
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in zero-valued fields with their defaults.
func (c *Config) applyDefaults() {
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = DefaultRequestTimeout
	}
	if c.Connector.MaxAttempts == 0 {
		c.Connector.MaxAttempts = DefaultMaxAttempts
	}
	if c.Connector.RetryDelay == 0 {
		c.Connector.RetryDelay = DefaultRetryDelay
	}
	if c.Masking.Timeout == 0 {
		c.Masking.Timeout = DefaultMaskingTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Connector.MaxAttempts < 1 {
		return fmt.Errorf("connector.max_attempts must be at least 1")
	}

	// The bounded retry budget has to fit inside the request timeout,
	// otherwise a retried connection always loses the race against the deadline.
	retryBudget := time.Duration(c.Connector.MaxAttempts) * c.Connector.RetryDelay
	if retryBudget >= c.Server.RequestTimeout {
		return fmt.Errorf("connector retry budget %s exceeds server.request_timeout %s",
			retryBudget, c.Server.RequestTimeout)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.RequestTimeoutRaw != "" {
		cfg.Server.RequestTimeout, err = time.ParseDuration(cfg.Server.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Server.RequestTimeoutRaw, err)
		}
	}

	if cfg.Connector.RetryDelayRaw != "" {
		cfg.Connector.RetryDelay, err = time.ParseDuration(cfg.Connector.RetryDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing retry_delay %q: %w", cfg.Connector.RetryDelayRaw, err)
		}
	}

	if cfg.Masking.TimeoutRaw != "" {
		cfg.Masking.Timeout, err = time.ParseDuration(cfg.Masking.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing masking timeout %q: %w", cfg.Masking.TimeoutRaw, err)
		}
	}

	return nil
}
