// Package models - Service configuration.
// This file defines the configuration tree for the gateway: HTTP server,
// rate limit policy, decision statistics, logging and observability.
//
// Configuration Philosophy:
// - Defaults that run out of the box against the demo endpoints
// - Validation catches misconfigurations before the server starts
// - The rate limit policy is read once at startup and never reloaded
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stats backend constants
const (
	StatsTypeNone     = "none"
	StatsTypeMemory   = "memory"
	StatsTypeRedis    = "redis"
	StatsTypePostgres = "postgres"
	StatsTypeSQLite   = "sqlite"
)

// Anonymous policy constants
const (
	AnonymousPolicyShared = "anonymous"
	AnonymousPolicyReject = "reject"
)

// CurrentConfigVersion is the configuration schema version written by
// SaveExample and assumed when a file omits it.
const CurrentConfigVersion = "1.0.0"

// Config is the root configuration structure.
//
// Configuration Structure:
// - Server: HTTP server and network settings
// - RateLimit: admission policy per endpoint
// - Stats: where decision counters are aggregated
// - Logging: structured logging output
// - Metrics: Prometheus endpoint
// - Observability: tracing
type Config struct {
	Version       string              `yaml:"version" json:"version"`             // Config schema version (semver)
	Server        ServerConfig        `yaml:"server" json:"server"`               // HTTP server configuration
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`       // Admission policy
	Stats         StatsConfig         `yaml:"stats" json:"stats"`                 // Decision statistics sink
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`             // Logging and output configuration
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`             // Monitoring and metrics
	Observability ObservabilityConfig `yaml:"observability" json:"observability"` // Tracing
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

// RateLimitConfig is the admission policy. Endpoint identifiers are
// "METHOD /path-template", e.g. "PUT /vault/{id}".
type RateLimitConfig struct {
	Enabled         bool                     `yaml:"enabled" json:"enabled"`
	AnonymousPolicy string                   `yaml:"anonymous_policy" json:"anonymous_policy"`
	Headers         bool                     `yaml:"headers" json:"headers"`
	Shards          int                      `yaml:"shards" json:"shards"`
	MaxKeys         int                      `yaml:"max_keys" json:"max_keys"`
	IdleTTL         time.Duration            `yaml:"idle_ttl" json:"idle_ttl"`
	CleanupInterval time.Duration            `yaml:"cleanup_interval" json:"cleanup_interval"`
	Default         *EndpointLimit           `yaml:"default,omitempty" json:"default,omitempty"`
	Endpoints       map[string]EndpointLimit `yaml:"endpoints" json:"endpoints"`
}

// EndpointLimit is the number of requests admitted per window.
type EndpointLimit struct {
	Limit  int           `yaml:"limit" json:"limit"`
	Window time.Duration `yaml:"window" json:"window"`
}

type StatsConfig struct {
	Type       string        `yaml:"type" json:"type"`
	DSN        string        `yaml:"dsn" json:"dsn"`
	Redis      RedisConfig   `yaml:"redis" json:"redis"`
	BufferSize int           `yaml:"buffer_size" json:"buffer_size"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr" json:"addr"`
	Password string        `yaml:"password" json:"password"`
	DB       int           `yaml:"db" json:"db"`
	PoolSize int           `yaml:"pool_size" json:"pool_size"`
	Prefix   string        `yaml:"prefix" json:"prefix"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with working defaults.
//
// Default Values Rationale:
// - Port 8080: Standard non-privileged HTTP port
// - Demo endpoint limits mirror the vault service this gateway fronts
// - Anonymous callers share one bucket per endpoint
// - Rate limit headers off: admitted responses pass through unchanged
// - Statistics kept in memory; metrics served on 9090
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentConfigVersion,
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			AnonymousPolicy: AnonymousPolicyShared,
			Headers:         false,
			Shards:          64,
			CleanupInterval: 5 * time.Minute,
			Endpoints: map[string]EndpointLimit{
				"POST /vault":     {Limit: 3, Window: time.Minute},
				"GET /vault":      {Limit: 1200, Window: time.Minute},
				"PUT /vault/{id}": {Limit: 60, Window: time.Minute},
				"GET /testing":    {Limit: 2, Window: time.Second},
			},
		},
		Stats: StatsConfig{
			Type:       StatsTypeMemory,
			BufferSize: 1024,
			Timeout:    2 * time.Second,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "tokengate:stats",
				TTL:      24 * time.Hour,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "tokengate",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if err := c.Stats.Validate(); err != nil {
		return fmt.Errorf("invalid stats config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 {
		return errors.New("read timeout cannot be negative")
	}

	if sc.WriteTimeout < 0 {
		return errors.New("write timeout cannot be negative")
	}

	if sc.IdleTimeout < 0 {
		return errors.New("idle timeout cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (rc *RateLimitConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}

	switch strings.ToLower(rc.AnonymousPolicy) {
	case AnonymousPolicyShared, AnonymousPolicyReject:
	default:
		return fmt.Errorf("anonymous policy must be %q or %q", AnonymousPolicyShared, AnonymousPolicyReject)
	}

	if rc.Shards < 0 {
		return errors.New("shards cannot be negative")
	}

	if rc.MaxKeys < 0 {
		return errors.New("max keys cannot be negative")
	}

	if rc.IdleTTL < 0 {
		return errors.New("idle ttl cannot be negative")
	}

	if rc.IdleTTL > 0 && rc.CleanupInterval <= 0 {
		return errors.New("cleanup interval must be positive when idle ttl is set")
	}

	if len(rc.Endpoints) == 0 && rc.Default == nil {
		return errors.New("at least one endpoint limit or a default limit is required")
	}

	for endpoint, limit := range rc.Endpoints {
		if strings.TrimSpace(endpoint) == "" {
			return errors.New("endpoint identifier cannot be empty")
		}
		if err := limit.Validate(); err != nil {
			return fmt.Errorf("endpoint %q: %w", endpoint, err)
		}
	}

	if rc.Default != nil {
		if err := rc.Default.Validate(); err != nil {
			return fmt.Errorf("default: %w", err)
		}
	}

	return nil
}

func (el *EndpointLimit) Validate() error {
	if el.Limit <= 0 {
		return errors.New("limit must be positive")
	}
	if el.Window <= 0 {
		return errors.New("window must be positive")
	}
	return nil
}

func (stc *StatsConfig) Validate() error {
	switch stc.Type {
	case StatsTypeNone, StatsTypeMemory:
	case StatsTypeRedis:
		if stc.Redis.Addr == "" {
			return errors.New("redis address is required for redis stats")
		}
	case StatsTypePostgres, StatsTypeSQLite:
		if stc.DSN == "" {
			return fmt.Errorf("DSN is required for %s stats", stc.Type)
		}
	default:
		return fmt.Errorf("unsupported stats type: %s", stc.Type)
	}

	if stc.Type != StatsTypeNone && stc.BufferSize <= 0 {
		return errors.New("buffer size must be positive")
	}

	if stc.Timeout < 0 {
		return errors.New("timeout cannot be negative")
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if !containsString(validLevels, strings.ToLower(lc.Level)) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	validFormats := []string{"json", "text"}
	if !containsString(validFormats, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	validOutputs := []string{"stdout", "stderr", "file"}
	if !containsString(validOutputs, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	if !strings.HasPrefix(mc.Path, "/") {
		return errors.New("metrics path must start with /")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if !oc.Tracing.Enabled {
		return nil
	}

	if oc.ServiceName == "" {
		return errors.New("service name is required when tracing is enabled")
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("otlp endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("unsupported trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}

func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
