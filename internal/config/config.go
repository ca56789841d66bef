package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"tokengate/internal/models"
)

// supportedRange is the range of config file versions this build reads.
const supportedRange = ">= 1.0.0, < 2.0.0"

var currentVersion = semver.MustParse(models.CurrentConfigVersion)

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	config := models.NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(config)

	if err := checkVersion(config.Version); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// checkVersion rejects config files written for an incompatible schema.
func checkVersion(v string) error {
	if v == "" {
		return nil
	}

	ver, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("invalid config version %q: %w", v, err)
	}

	constraint, err := semver.NewConstraint(supportedRange)
	if err != nil {
		return fmt.Errorf("invalid version constraint: %w", err)
	}

	if !constraint.Check(ver) {
		return fmt.Errorf("config version %s is not supported by this build (supported: %s, current: %s)",
			ver, supportedRange, currentVersion)
	}
	return nil
}

var knownSections = map[string]bool{
	"version":       true,
	"server":        true,
	"rate_limit":    true,
	"stats":         true,
	"logging":       true,
	"metrics":       true,
	"observability": true,
}

// warnUnknownKeys logs a warning for each top-level key the decoder will
// ignore. The service still starts.
func warnUnknownKeys(data []byte) {
	var top map[string]yaml.Node
	if err := yaml.Unmarshal(data, &top); err != nil {
		return
	}

	var unknown []string
	for key := range top {
		if !knownSections[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	for _, key := range unknown {
		slog.Warn("Config key is not recognized and will be ignored", "config_key", key)
	}
}

// loadFromFile loads configuration from a YAML file. An endpoints table in
// the file replaces the built-in one instead of merging with it.
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnUnknownKeys(data)

	defaults := config.RateLimit.Endpoints
	config.RateLimit.Endpoints = nil

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if config.RateLimit.Endpoints == nil {
		config.RateLimit.Endpoints = defaults
	}
	return nil
}

// loadFromEnvironment applies TOKENGATE_* overrides. Values that fail to
// parse are ignored.
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	envInt("TOKENGATE_PORT", &config.Server.Port)
	envString("TOKENGATE_HOST", &config.Server.Host)
	envDuration("TOKENGATE_READ_TIMEOUT", &config.Server.ReadTimeout)
	envDuration("TOKENGATE_WRITE_TIMEOUT", &config.Server.WriteTimeout)
	envDuration("TOKENGATE_IDLE_TIMEOUT", &config.Server.IdleTimeout)
	envBool("TOKENGATE_TLS_ENABLED", &config.Server.TLSEnabled)
	envString("TOKENGATE_TLS_CERT_FILE", &config.Server.TLSCertFile)
	envString("TOKENGATE_TLS_KEY_FILE", &config.Server.TLSKeyFile)

	// Rate limit configuration
	envBool("TOKENGATE_RATE_LIMIT_ENABLED", &config.RateLimit.Enabled)
	envString("TOKENGATE_ANONYMOUS_POLICY", &config.RateLimit.AnonymousPolicy)
	envBool("TOKENGATE_RATE_LIMIT_HEADERS", &config.RateLimit.Headers)
	envInt("TOKENGATE_RATE_LIMIT_SHARDS", &config.RateLimit.Shards)
	envInt("TOKENGATE_RATE_LIMIT_MAX_KEYS", &config.RateLimit.MaxKeys)
	envDuration("TOKENGATE_RATE_LIMIT_IDLE_TTL", &config.RateLimit.IdleTTL)
	envDuration("TOKENGATE_RATE_LIMIT_CLEANUP_INTERVAL", &config.RateLimit.CleanupInterval)

	// Stats configuration
	envString("TOKENGATE_STATS_TYPE", &config.Stats.Type)
	envString("TOKENGATE_STATS_DSN", &config.Stats.DSN)
	envInt("TOKENGATE_STATS_BUFFER_SIZE", &config.Stats.BufferSize)
	envDuration("TOKENGATE_STATS_TIMEOUT", &config.Stats.Timeout)

	// Redis configuration
	envString("TOKENGATE_REDIS_ADDR", &config.Stats.Redis.Addr)
	envString("TOKENGATE_REDIS_PASSWORD", &config.Stats.Redis.Password)
	envInt("TOKENGATE_REDIS_DB", &config.Stats.Redis.DB)
	envInt("TOKENGATE_REDIS_POOL_SIZE", &config.Stats.Redis.PoolSize)
	envString("TOKENGATE_REDIS_PREFIX", &config.Stats.Redis.Prefix)
	envDuration("TOKENGATE_REDIS_TTL", &config.Stats.Redis.TTL)

	// Logging configuration
	envString("TOKENGATE_LOG_LEVEL", &config.Logging.Level)
	envString("TOKENGATE_LOG_FORMAT", &config.Logging.Format)
	envString("TOKENGATE_LOG_OUTPUT", &config.Logging.Output)
	envString("TOKENGATE_LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics configuration
	envBool("TOKENGATE_METRICS_ENABLED", &config.Metrics.Enabled)
	envString("TOKENGATE_METRICS_PATH", &config.Metrics.Path)
	envInt("TOKENGATE_METRICS_PORT", &config.Metrics.Port)

	// Tracing configuration
	envString("TOKENGATE_SERVICE_NAME", &config.Observability.ServiceName)
	envBool("TOKENGATE_TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	envString("TOKENGATE_TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	envString("TOKENGATE_OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
	if rate := os.Getenv("TOKENGATE_TRACING_SAMPLE_RATE"); rate != "" {
		if r, err := strconv.ParseFloat(rate, 64); err == nil {
			config.Observability.Tracing.SampleRate = r
		}
	}
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

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.ToLower(v) == "true"
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()

	// Show the optional knobs with usable values
	config.RateLimit.Headers = true
	config.RateLimit.MaxKeys = 1_000_000
	config.RateLimit.IdleTTL = 10 * time.Minute
	config.Stats.DSN = "/var/lib/tokengate/stats.db"
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
