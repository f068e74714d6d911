// Package config loads the extractor's process configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every knob the extractor reads at startup. All fields are
// populated once by Load and treated as immutable afterward.
type Config struct {
	AMQPConnection     string // required
	DiscogsRoot        string
	UpstreamBaseURL    string // required
	PeriodicCheckDays  int
	CheckpointRecords  int
	CheckpointInterval time.Duration
	ChannelCapacity    int
	ConfirmWindow      int
	PublishMaxRetries  int

	HealthAddr       string
	LogLevel         string
	HTTPRateLimitRPS float64
	AMQPHeartbeat    time.Duration
}

// ErrInvalid is returned by Load when a required variable is missing or a
// value is out of range. A numeric variable that fails to parse is not an
// error: its default is used instead. It is a ConfigError: fatal at
// startup, never retried.
type ErrInvalid struct {
	Field  string
	Reason string
}

func (e *ErrInvalid) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Load reads and validates the process configuration from the environment.
// Call LoadEnvFile first if a .env file should seed the environment.
func Load() (*Config, error) {
	c := &Config{
		AMQPConnection:     os.Getenv("AMQP_CONNECTION"),
		DiscogsRoot:        getEnv("DISCOGS_ROOT", "/discogs-data"),
		UpstreamBaseURL:    os.Getenv("UPSTREAM_BASE_URL"),
		PeriodicCheckDays:  getEnvInt("PERIODIC_CHECK_DAYS", 15),
		CheckpointRecords:  getEnvInt("CHECKPOINT_EVERY_RECORDS", 10_000),
		CheckpointInterval: time.Duration(getEnvInt("CHECKPOINT_EVERY_SECONDS", 30)) * time.Second,
		ChannelCapacity:    getEnvInt("CHANNEL_CAPACITY", 512),
		ConfirmWindow:      getEnvInt("PUBLISH_CONFIRM_WINDOW", 1024),
		PublishMaxRetries:  getEnvInt("PUBLISH_MAX_RETRIES", 5),

		HealthAddr:       getEnv("HEALTH_ADDR", ":8080"),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		HTTPRateLimitRPS: getEnvFloat("HTTP_RATE_LIMIT_RPS", 4),
		AMQPHeartbeat:    time.Duration(getEnvInt("AMQP_HEARTBEAT_SECONDS", 10)) * time.Second,
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.AMQPConnection) == "" {
		return &ErrInvalid{Field: "AMQP_CONNECTION", Reason: "required"}
	}
	if strings.TrimSpace(c.UpstreamBaseURL) == "" {
		return &ErrInvalid{Field: "UPSTREAM_BASE_URL", Reason: "required"}
	}
	if c.PeriodicCheckDays <= 0 {
		return &ErrInvalid{Field: "PERIODIC_CHECK_DAYS", Reason: "must be positive"}
	}
	if c.CheckpointRecords <= 0 {
		return &ErrInvalid{Field: "CHECKPOINT_EVERY_RECORDS", Reason: "must be positive"}
	}
	if c.ChannelCapacity <= 0 {
		return &ErrInvalid{Field: "CHANNEL_CAPACITY", Reason: "must be positive"}
	}
	if c.ConfirmWindow <= 0 {
		return &ErrInvalid{Field: "PUBLISH_CONFIRM_WINDOW", Reason: "must be positive"}
	}
	if c.PublishMaxRetries < 0 {
		return &ErrInvalid{Field: "PUBLISH_MAX_RETRIES", Reason: "must be >= 0"}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return &ErrInvalid{Field: "LOG_LEVEL", Reason: "must be one of debug|info|warn|error"}
	}
	return nil
}

// CheckInterval is PeriodicCheckDays as a Duration, used by the scheduler's sleep.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.PeriodicCheckDays) * 24 * time.Hour
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
