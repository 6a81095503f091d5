// Package config provides configuration parsing and management for riverd.
//
// It handles both command-line flags and environment variables, with flags
// taking precedence over environment variables. The Config struct contains
// all runtime configuration for the service including:
//   - Artifact bundle location (scalers, projections, network weights, seed)
//   - Forecast origin (epoch year and quarter)
//   - Unit conversion constants (pixels per unit, ground sample distance)
//   - Post-processing defaults (delta mode)
//   - Run cache backend (memory or redis, with redis connection settings)
//   - Flood history source (file or http adapter plus adapter settings)
//   - HTTP settings (listen address, CORS origins)
//   - Logging configuration (level, format)
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables
//  3. Default values
//
// Adapter-specific settings for the flood history source are provided via
// environment variables with the HISTORY_ prefix, for example HISTORY_PATH
// for the file adapter or HISTORY_URL and HISTORY_DATE_PATH for the http
// adapter. Variable names are converted to camelCase map keys
// (HISTORY_DATE_PATH becomes datePath).
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all riverd configuration.
type Config struct {
	Listen    string
	LogFormat string
	LogLevel  string

	ArtifactsDir string
	ModelURL     string

	EpochYear    int
	EpochQuarter int

	PixelsPerUnit        float64
	GroundSampleDistance float64
	DeltaMode            string

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	HistorySource string
	HistoryConfig map[string]string

	FloodThreshold float64

	CORSOrigins []string
}

// ParseFlags parses command-line flags and environment variables into a Config.
// Environment variables are used as fallbacks when flags are not provided.
func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8080"), "HTTP listen address")

	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.StringVar(&cfg.ArtifactsDir, "artifacts-dir", getEnv("ARTIFACTS_DIR", ""), "Directory holding the artifact bundle (required)")
	flag.StringVar(&cfg.ModelURL, "model-url", getEnv("MODEL_URL", ""), "External model service URL (empty runs the bundled network in-process)")

	flag.IntVar(&cfg.EpochYear, "epoch-year", getEnvInt("EPOCH_YEAR", 2024), "Forecast origin year (last historical quarter)")
	flag.IntVar(&cfg.EpochQuarter, "epoch-quarter", getEnvInt("EPOCH_QUARTER", 4), "Forecast origin quarter (1-4)")

	flag.Float64Var(&cfg.PixelsPerUnit, "pixels-per-unit", getEnvFloat("PIXELS_PER_UNIT", 12.0), "Raster pixels per centerline distance unit")
	flag.Float64Var(&cfg.GroundSampleDistance, "ground-sample-distance", getEnvFloat("GROUND_SAMPLE_DISTANCE", 7.5), "Ground sample distance in meters per pixel")
	flag.StringVar(&cfg.DeltaMode, "delta-mode", getEnv("DELTA_MODE", "none"), "Default delta mode: none, initial, or previous")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Run cache backend: memory or redis")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flag.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 0), "Redis run TTL (0 keeps runs until cleared)")

	flag.StringVar(&cfg.HistorySource, "history-source", getEnv("HISTORY_SOURCE", ""), "Flood history source: file or http (empty disables flood forecasting)")
	flag.Float64Var(&cfg.FloodThreshold, "flood-threshold", getEnvFloat("FLOOD_THRESHOLD", 0), "Flood threshold in km2 (0 derives the 95th percentile from history)")

	corsOrigins := flag.String("cors-origins", getEnv("CORS_ORIGINS", "*"), "Comma-separated list of allowed CORS origins")

	flag.Parse()

	cfg.CORSOrigins = splitOrigins(*corsOrigins)
	cfg.HistoryConfig = parseHistoryConfig()

	if cfg.ArtifactsDir == "" {
		fmt.Fprintln(os.Stderr, "Error: --artifacts-dir is required")
		os.Exit(1)
	}

	return cfg
}

// Validate checks settings that ParseFlags cannot reject on its own.
func (c *Config) Validate() error {
	if c.EpochQuarter < 1 || c.EpochQuarter > 4 {
		return fmt.Errorf("epoch quarter must be 1-4, got %d", c.EpochQuarter)
	}
	if c.PixelsPerUnit <= 0 {
		return fmt.Errorf("pixels-per-unit must be > 0, got %v", c.PixelsPerUnit)
	}
	if c.GroundSampleDistance <= 0 {
		return fmt.Errorf("ground-sample-distance must be > 0, got %v", c.GroundSampleDistance)
	}
	switch c.DeltaMode {
	case "none", "initial", "previous":
	default:
		return fmt.Errorf("invalid delta mode %q (must be none, initial, or previous)", c.DeltaMode)
	}
	switch c.Storage {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid storage backend %q (must be memory or redis)", c.Storage)
	}
	switch c.HistorySource {
	case "", "file", "http":
	default:
		return fmt.Errorf("invalid history source %q (must be file or http)", c.HistorySource)
	}
	if c.FloodThreshold < 0 {
		return fmt.Errorf("flood-threshold cannot be negative, got %v", c.FloodThreshold)
	}
	return nil
}

func splitOrigins(s string) []string {
	parts := strings.Split(s, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return origins
}

// parseHistoryConfig parses HISTORY_* environment variables into a generic
// configuration map for the flood history adapter. For example:
// HISTORY_PATH, HISTORY_URL, HISTORY_DATE_PATH, HISTORY_WATER_PATH.
// Environment variable names are converted to camelCase for the map keys
// (HISTORY_DATE_PATH becomes datePath).
func parseHistoryConfig() map[string]string {
	config := make(map[string]string)

	for _, env := range os.Environ() {
		if len(env) > 8 && env[:8] == "HISTORY_" {
			parts := splitEnv(env)
			if len(parts) == 2 && parts[0] != "HISTORY_SOURCE" {
				key := toLowerCamelCase(parts[0][8:])
				config[key] = parts[1]
			}
		}
	}

	return config
}

func splitEnv(env string) []string {
	for i := 0; i < len(env); i++ {
		if env[i] == '=' {
			return []string{env[:i], env[i+1:]}
		}
	}
	return []string{env}
}

func toLowerCamelCase(s string) string {
	if s == "" {
		return s
	}
	parts := []rune(s)
	result := make([]rune, 0, len(parts))
	nextUpper := false
	for i, r := range parts {
		if r == '_' {
			nextUpper = true
			continue
		}
		if i == 0 {
			result = append(result, toLower(r))
		} else if nextUpper {
			result = append(result, r)
			nextUpper = false
		} else {
			result = append(result, toLower(r))
		}
	}
	return string(result)
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + 32
	}
	return r
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
