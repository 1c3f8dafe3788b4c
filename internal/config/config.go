package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Paths    PathsConfig    `yaml:"paths" envconfig:"PATHS"`

	// Production disables every development-only escape hatch (admin
	// environment override, verbose diagnostics). It is decided once at
	// startup and threaded through the components that need it; no code
	// path may consult build tags for this decision.
	Production bool `yaml:"production" envconfig:"PRODUCTION" default:"false"`
}

// ServerConfig contains the local HTTP server configuration. The server
// binds to loopback only; it is the transport between the engine and the
// desktop UI, not a network service.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8351"`
	Host            string        `yaml:"host" envconfig:"HOST" default:"127.0.0.1"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// SecurityConfig contains security-related configuration.
type SecurityConfig struct {
	// MaxRedeemAttempts failed redemptions within AttemptWindow block the
	// caller for BlockDuration.
	MaxRedeemAttempts int           `yaml:"max_redeem_attempts" envconfig:"MAX_REDEEM_ATTEMPTS" default:"5"`
	AttemptWindow     time.Duration `yaml:"attempt_window" envconfig:"ATTEMPT_WINDOW" default:"15m"`
	BlockDuration     time.Duration `yaml:"block_duration" envconfig:"BLOCK_DURATION" default:"30m"`

	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`

	// EntitlementCacheTTL bounds how long a positive entitlement check may
	// be served from memory before the store is re-read.
	EntitlementCacheTTL time.Duration `yaml:"entitlement_cache_ttl" envconfig:"ENTITLEMENT_CACHE_TTL" default:"30s"`
}

// RateLimitConfig contains HTTP rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"20"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"10"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/arca-gate.log"`
}

// PathsConfig contains file system paths configuration.
type PathsConfig struct {
	DataDir string `yaml:"data_dir" envconfig:"DATA_DIR" default:"data"`
	LogsDir string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
}

// Load loads configuration from environment variables and, if present, a
// YAML config file next to the executable. Environment takes precedence.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("ARCA", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	configFile := configFilePath()
	if _, err := os.Stat(configFile); err == nil {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeConfigs merges file config with env config (env takes precedence).
func mergeConfigs(fileConfig, envConfig Config) Config {
	if envConfig.Server.Port == 0 {
		envConfig.Server.Port = fileConfig.Server.Port
	}
	if envConfig.Server.Host == "" {
		envConfig.Server.Host = fileConfig.Server.Host
	}
	if envConfig.Server.ReadTimeout == 0 {
		envConfig.Server.ReadTimeout = fileConfig.Server.ReadTimeout
	}
	if envConfig.Server.WriteTimeout == 0 {
		envConfig.Server.WriteTimeout = fileConfig.Server.WriteTimeout
	}
	if envConfig.Paths.DataDir == "" {
		envConfig.Paths.DataDir = fileConfig.Paths.DataDir
	}
	if envConfig.Paths.LogsDir == "" {
		envConfig.Paths.LogsDir = fileConfig.Paths.LogsDir
	}
	if envConfig.Logging.Level == "" {
		envConfig.Logging.Level = fileConfig.Logging.Level
	}
	if fileConfig.Production {
		envConfig.Production = true
	}
	return envConfig
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if ip := net.ParseIP(c.Server.Host); ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("server host must be a loopback address, got %q", c.Server.Host)
	}
	if c.Security.MaxRedeemAttempts < 1 {
		return fmt.Errorf("max_redeem_attempts must be positive, got %d", c.Security.MaxRedeemAttempts)
	}
	if c.Security.EntitlementCacheTTL < 0 {
		return fmt.Errorf("entitlement_cache_ttl must not be negative")
	}
	switch c.Logging.Output {
	case "", "console", "file", "both":
	default:
		return fmt.Errorf("invalid logging output %q", c.Logging.Output)
	}
	return nil
}
