package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, int64(DefaultMinHistory), cfg.MinHistory)
	assert.Equal(t, DefaultZScoreThreshold, cfg.ZScoreThreshold)
	assert.Equal(t, DefaultFlagThreshold, cfg.FlagThreshold)
	assert.Equal(t, 60*time.Second, cfg.VelocityMinInterval)
	assert.Equal(t, DefaultMaxUploadRows, cfg.MaxUploadRows)
	assert.Equal(t, "fail_batch", cfg.DetectorErrorPolicy)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "ZSCORE_THRESHOLD", "2.5")
	setEnv(t, "VELOCITY_MIN_INTERVAL_SECONDS", "10.5")
	setEnv(t, "ENGINE_WORKERS", "4")
	setEnv(t, "DETECTOR_ERROR_POLICY", "skip_detector")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 2.5, cfg.ZScoreThreshold)
	assert.Equal(t, 10500*time.Millisecond, cfg.VelocityMinInterval)
	assert.Equal(t, 4, cfg.EngineWorkers)
	assert.Equal(t, "skip_detector", cfg.DetectorErrorPolicy)
}

func TestLoad_InvalidPolicy(t *testing.T) {
	setEnv(t, "DETECTOR_ERROR_POLICY", "ignore")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "DETECTOR_ERROR_POLICY")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			MinHistory:          5,
			ZScoreThreshold:     3.0,
			FlagThreshold:       0.5,
			VelocityMinInterval: time.Minute,
			EngineWorkers:       1,
			DetectorErrorPolicy: "fail_batch",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid config", func(*Config) {}, ""},
		{"zero min history", func(c *Config) { c.MinHistory = 0 }, "MIN_HISTORY_THRESHOLD"},
		{"negative zscore", func(c *Config) { c.ZScoreThreshold = -1 }, "ZSCORE_THRESHOLD"},
		{"flag threshold above 1", func(c *Config) { c.FlagThreshold = 1.5 }, "FLAG_THRESHOLD"},
		{"zero interval", func(c *Config) { c.VelocityMinInterval = 0 }, "VELOCITY_MIN_INTERVAL_SECONDS"},
		{"zero workers", func(c *Config) { c.EngineWorkers = 0 }, "ENGINE_WORKERS"},
		{"bad policy", func(c *Config) { c.DetectorErrorPolicy = "panic" }, "DETECTOR_ERROR_POLICY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_EngineConfig(t *testing.T) {
	cfg := Config{
		MinHistory:          10,
		ZScoreThreshold:     2.0,
		FlagThreshold:       0.6,
		VelocityMinInterval: 30 * time.Second,
		EngineWorkers:       8,
		DetectorErrorPolicy: "skip_detector",
	}

	ec := cfg.EngineConfig()
	assert.Equal(t, int64(10), ec.MinHistory)
	assert.Equal(t, 2.0, ec.ZScoreThreshold)
	assert.Equal(t, 0.6, ec.FlagThreshold)
	assert.Equal(t, 30*time.Second, ec.VelocityMinInterval)
	assert.Equal(t, 8, ec.Workers)
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvFloat(t *testing.T) {
	setEnv(t, "TEST_FLOAT", "2.75")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, 2.75, getEnvFloat("TEST_FLOAT", 0))
	assert.Equal(t, 9.9, getEnvFloat("NONEXISTENT_VAR", 9.9))
	assert.Equal(t, 9.9, getEnvFloat("TEST_INVALID", 9.9)) // Falls back on parse error
}
