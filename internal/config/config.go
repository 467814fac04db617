// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbd888/txsentry/internal/engine"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Tracing
	OTLPEndpoint string

	// Ingestion
	MaxUploadRows int

	// Engine thresholds
	MinHistory             int64
	ZScoreThreshold        float64
	FlagThreshold          float64
	VelocityMinInterval    time.Duration
	DeviceChangeSeverity   float64
	LocationChangeSeverity float64
	EngineWorkers          int
	DetectorErrorPolicy    string // "fail_batch" or "skip_detector"
}

// Defaults
const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultMaxUploadRows = 750_000

	DefaultMinHistory          = 5
	DefaultZScoreThreshold     = 3.0
	DefaultFlagThreshold       = 0.5
	DefaultVelocityIntervalSec = 60.0
	DefaultNoveltySeverity     = 0.4
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", DefaultPort),
		Env:           getEnv("ENV", DefaultEnv),
		LogLevel:      getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:     getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:   os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		MaxUploadRows: int(getEnvInt64("MAX_UPLOAD_ROWS", DefaultMaxUploadRows)),

		MinHistory:             getEnvInt64("MIN_HISTORY_THRESHOLD", DefaultMinHistory),
		ZScoreThreshold:        getEnvFloat("ZSCORE_THRESHOLD", DefaultZScoreThreshold),
		FlagThreshold:          getEnvFloat("FLAG_THRESHOLD", DefaultFlagThreshold),
		DeviceChangeSeverity:   getEnvFloat("DEVICE_CHANGE_SEVERITY", DefaultNoveltySeverity),
		LocationChangeSeverity: getEnvFloat("LOCATION_CHANGE_SEVERITY", DefaultNoveltySeverity),
		EngineWorkers:          int(getEnvInt64("ENGINE_WORKERS", 1)),
		DetectorErrorPolicy:    getEnv("DETECTOR_ERROR_POLICY", string(engine.FailBatch)),
	}

	intervalSec := getEnvFloat("VELOCITY_MIN_INTERVAL_SECONDS", DefaultVelocityIntervalSec)
	cfg.VelocityMinInterval = time.Duration(intervalSec * float64(time.Second))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent.
func (c *Config) Validate() error {
	if c.MinHistory < 1 {
		return fmt.Errorf("MIN_HISTORY_THRESHOLD must be at least 1")
	}
	if c.ZScoreThreshold <= 0 {
		return fmt.Errorf("ZSCORE_THRESHOLD must be positive")
	}
	if c.FlagThreshold <= 0 || c.FlagThreshold > 1 {
		return fmt.Errorf("FLAG_THRESHOLD must be in (0, 1]")
	}
	if c.VelocityMinInterval <= 0 {
		return fmt.Errorf("VELOCITY_MIN_INTERVAL_SECONDS must be positive")
	}
	if c.EngineWorkers < 1 {
		return fmt.Errorf("ENGINE_WORKERS must be at least 1")
	}
	switch engine.ErrorPolicy(c.DetectorErrorPolicy) {
	case engine.FailBatch, engine.SkipDetector:
	default:
		return fmt.Errorf("DETECTOR_ERROR_POLICY must be %q or %q",
			engine.FailBatch, engine.SkipDetector)
	}
	return nil
}

// EngineConfig maps the loaded settings onto the engine's config.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		MinHistory:             c.MinHistory,
		ZScoreThreshold:        c.ZScoreThreshold,
		FlagThreshold:          c.FlagThreshold,
		VelocityMinInterval:    c.VelocityMinInterval,
		DeviceChangeSeverity:   c.DeviceChangeSeverity,
		LocationChangeSeverity: c.LocationChangeSeverity,
		Workers:                c.EngineWorkers,
		OnDetectorError:        engine.ErrorPolicy(c.DetectorErrorPolicy),
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
