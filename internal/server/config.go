// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the counter service.
package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 4096
	defaultSendQueueSize   = 256
	defaultShutdownTimeout = 10 * time.Second
	defaultRefillInterval  = time.Second
)

// RateLimitConfig defines the parameters for per-connection message rate
// limiting. A zero Burst disables limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Enabled reports whether frames should be throttled at all.
func (c RateLimitConfig) Enabled() bool {
	return c.Burst > 0
}

// Config holds the server configuration settings.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	SendQueueSize   int
	ShutdownTimeout time.Duration
	LogLevel        log.Level
	RateLimit       RateLimitConfig
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	return &Config{
		Port:            defaultPort,
		AllowedOrigins:  []string{"*"},
		MaxMessageSize:  defaultMaxMessageSize,
		SendQueueSize:   defaultSendQueueSize,
		ShutdownTimeout: defaultShutdownTimeout,
		LogLevel:        log.InfoLevel,
		RateLimit: RateLimitConfig{
			Burst:          0,
			RefillInterval: defaultRefillInterval,
		},
	}
}

// SetPort sets the listen address the same way SERVER_PORT is read, so a
// bare "9090" becomes ":9090". An empty port restores the default.
func (c *Config) SetPort(port string) {
	c.Port = normalizePort(port)
	if c.Port == "" {
		c.Port = defaultPort
	}
}

// envBindings maps viper keys to the environment variables that override them.
var envBindings = map[string]string{
	"port":                       "SERVER_PORT",
	"allowed_origins":            "ALLOWED_ORIGINS",
	"max_message_size":           "MAX_MESSAGE_SIZE",
	"send_queue_size":            "SEND_QUEUE_SIZE",
	"shutdown_timeout":           "SHUTDOWN_TIMEOUT",
	"log_level":                  "LOG_LEVEL",
	"rate_limit.burst":           "RATE_LIMIT_BURST",
	"rate_limit.refill_interval": "RATE_LIMIT_REFILL_INTERVAL",
}

// LoadConfig builds a Config from defaults, an optional config file and the
// environment, in increasing order of precedence. A .env file in the working
// directory is loaded into the environment first when present.
//
// An empty path means no config file. Invalid values fall back to their
// defaults.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	defaults := NewConfig()
	v.SetDefault("port", defaults.Port)
	v.SetDefault("allowed_origins", defaults.AllowedOrigins)
	v.SetDefault("max_message_size", defaults.MaxMessageSize)
	v.SetDefault("send_queue_size", defaults.SendQueueSize)
	v.SetDefault("shutdown_timeout", defaults.ShutdownTimeout.String())
	v.SetDefault("log_level", defaults.LogLevel.String())
	v.SetDefault("rate_limit.burst", defaults.RateLimit.Burst)
	v.SetDefault("rate_limit.refill_interval", defaults.RateLimit.RefillInterval.String())

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port:            normalizePort(v.GetString("port")),
		AllowedOrigins:  originsValue(v.Get("allowed_origins")),
		MaxMessageSize:  parseMaxMessageSize(v.GetString("max_message_size"), defaults.MaxMessageSize),
		SendQueueSize:   parseIntValue(v.GetString("send_queue_size"), defaults.SendQueueSize),
		ShutdownTimeout: parseDuration(v.GetString("shutdown_timeout"), defaults.ShutdownTimeout),
		LogLevel:        parseLogLevel(v.GetString("log_level"), defaults.LogLevel),
		RateLimit: RateLimitConfig{
			Burst:          parseBurst(v.GetString("rate_limit.burst")),
			RefillInterval: parseDuration(v.GetString("rate_limit.refill_interval"), defaults.RateLimit.RefillInterval),
		},
	}
	return sanitizeConfig(*cfg), nil
}

// sanitizeConfig replaces out-of-range values with defaults and normalizes
// the origin list.
func sanitizeConfig(cfg Config) *Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.RateLimit.Burst < 0 {
		cfg.RateLimit.Burst = 0
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return &cfg
}

func normalizePort(port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return ""
	}
	if !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}

// originsValue accepts either a list (config file) or a comma separated
// string (environment).
func originsValue(raw any) []string {
	switch val := raw.(type) {
	case string:
		return parseOrigins(val)
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, o := range val {
			out = append(out, fmt.Sprint(o))
		}
		return out
	default:
		return nil
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseBurst(value string) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return 0
}

// parseDuration accepts Go durations ("1500ms") or a bare number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

func parseLogLevel(value string, defaultValue log.Level) log.Level {
	if level, err := log.ParseLevel(value); err == nil {
		return level
	}
	return defaultValue
}
