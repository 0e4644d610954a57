// Package config loads the Options surface from spec.md §6's configuration
// table: defaults set in code, optionally overridden by YAML, then by
// environment variables (secrets, log level, concurrency limit) — the same
// three-layer precedence as
// the teacher's internal/config/config.go.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcp-tx/rmcp-go/internal/types"
)

// DefaultConfigPath is used when CONFIG_PATH is unset.
const DefaultConfigPath = "rmcp.yaml"

const MiB = 1024 * 1024

// LogOptions configures internal/rlog.
type LogOptions struct {
	Level    string `yaml:"level"`     // DEBUG, INFO, WARN, ERROR
	Format   string `yaml:"format"`    // text, json
	Output   string `yaml:"output"`    // stdout, stderr, /path/to/file
	Rotate   bool   `yaml:"rotate"`    // enable lumberjack rotation when Output is a file path
	MaxSizeMB int   `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
}

// RetryOptions mirrors spec.md §6's retry.* rows.
type RetryOptions struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	BaseDelayMS       int64   `yaml:"base_delay_ms"`
	MaxDelayMS        int64   `yaml:"max_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	Jitter            bool    `yaml:"jitter"`
	RetryOnTimeout    bool    `yaml:"retry_on_timeout"`
}

// Options is the flat configuration surface of spec.md §6, one field per
// table row, plus the ambient log/mcp-endpoint sections every rmcp process
// needs to actually run.
type Options struct {
	DefaultTimeoutMS      int64        `yaml:"default_timeout_ms"`
	MaxConcurrentRequests int64        `yaml:"max_concurrent_requests"`
	DeduplicationWindowMS int64        `yaml:"deduplication_window_ms"`
	DeduplicationCapacity int          `yaml:"deduplication_capacity"`
	MaxMessageSize        int64        `yaml:"max_message_size"`
	Retry                 RetryOptions `yaml:"retry"`

	Log LogOptions `yaml:"log"`

	MCP struct {
		Endpoint   string `yaml:"endpoint"`
		AuthToken  string `yaml:"-"` // from MCP_AUTH_TOKEN
		AuthHeader string `yaml:"auth_header"`
	} `yaml:"mcp"`
}

// Load reads Options from CONFIG_PATH (or DefaultConfigPath) and layers
// environment overrides on top (MCP_AUTH_TOKEN, MCP_AUTH_HEADER,
// RMCP_LOG_LEVEL, RMCP_MAX_CONCURRENT_REQUESTS), matching the teacher's
// LoadConfig precedence.
func Load() *Options {
	o := defaults()

	configPath := getEnv("CONFIG_PATH", DefaultConfigPath)
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, o); err != nil {
			slog.Error("unmarshal rmcp config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("rmcp config loaded", "path", configPath)
	} else if !os.IsNotExist(err) {
		slog.Error("read rmcp config failed", "error", err, "path", configPath)
		os.Exit(1)
	} else {
		slog.Info("rmcp config not found, using defaults", "path", configPath)
	}

	o.MCP.AuthToken = getEnv("MCP_AUTH_TOKEN", o.MCP.AuthToken)
	o.MCP.AuthHeader = getEnv("MCP_AUTH_HEADER", o.MCP.AuthHeader)
	if lvl := os.Getenv("RMCP_LOG_LEVEL"); lvl != "" {
		o.Log.Level = lvl
	}
	if n := getEnvInt("RMCP_MAX_CONCURRENT_REQUESTS", 0); n != 0 {
		o.MaxConcurrentRequests = int64(n)
	}

	return o
}

func defaults() *Options {
	o := &Options{
		DefaultTimeoutMS:      60_000,
		MaxConcurrentRequests: 100,
		DeduplicationWindowMS: 300_000,
		DeduplicationCapacity: 1_000,
		MaxMessageSize:        10 * MiB,
		Retry: RetryOptions{
			MaxAttempts:       3,
			BaseDelayMS:       1_000,
			MaxDelayMS:        60_000,
			BackoffMultiplier: 2.0,
			Jitter:            true,
			RetryOnTimeout:    true,
		},
	}
	o.Log.Level = "INFO"
	o.Log.Format = "text"
	o.Log.Output = "stdout"
	return o
}

// GetLogLevel returns the slog.Level for Log.Level.
func (o *Options) GetLogLevel() slog.Level {
	switch strings.ToUpper(o.Log.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RetryPolicy converts Retry into the types.RetryPolicy the retry engine
// consumes, layering in the default classification tables (the
// configuration surface has no per-code overrides, per spec.md §6).
func (o *Options) RetryPolicy() types.RetryPolicy {
	p := types.DefaultRetryPolicy()
	p.MaxAttempts = o.Retry.MaxAttempts
	p.BaseDelay = time.Duration(o.Retry.BaseDelayMS) * time.Millisecond
	p.MaxDelay = time.Duration(o.Retry.MaxDelayMS) * time.Millisecond
	p.BackoffMultiplier = o.Retry.BackoffMultiplier
	p.Jitter = o.Retry.Jitter
	p.RetryOnTimeout = o.Retry.RetryOnTimeout
	return p
}

// Validate enforces every range in spec.md §6's configuration surface
// table, aggregating every violation into a single error.
func (o *Options) Validate() error {
	var errs []string

	if o.DefaultTimeoutMS < 1 || o.DefaultTimeoutMS > 600_000 {
		errs = append(errs, fmt.Sprintf("default_timeout_ms out of range [1,600000]: %d", o.DefaultTimeoutMS))
	}
	if o.MaxConcurrentRequests < 1 || o.MaxConcurrentRequests > 10_000 {
		errs = append(errs, fmt.Sprintf("max_concurrent_requests out of range [1,10000]: %d", o.MaxConcurrentRequests))
	}
	if o.DeduplicationWindowMS < 0 || o.DeduplicationWindowMS > 3_600_000 {
		errs = append(errs, fmt.Sprintf("deduplication_window_ms out of range [0,3600000]: %d", o.DeduplicationWindowMS))
	}
	if o.DeduplicationCapacity < 0 || o.DeduplicationCapacity > 1_000_000 {
		errs = append(errs, fmt.Sprintf("deduplication_capacity out of range [0,1000000]: %d", o.DeduplicationCapacity))
	}
	if o.MaxMessageSize < 1024 || o.MaxMessageSize > 1<<30 {
		errs = append(errs, fmt.Sprintf("max_message_size out of range [1KiB,1GiB]: %d", o.MaxMessageSize))
	}
	if err := o.RetryPolicy().Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if o.MCP.Endpoint == "" {
		errs = append(errs, "mcp.endpoint is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("rmcp config invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
