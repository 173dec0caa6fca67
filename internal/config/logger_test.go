package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// clearLoggerEnv blanks the logger variables so defaults apply; t.Setenv
// restores whatever the host shell had.
func clearLoggerEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"LOG_LEVEL", "LOG_FORMAT", "LOG_OUTPUT"} {
		t.Setenv(key, "")
	}
}

func TestLoadLoggerConfigFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		clearLoggerEnv(t)

		cfg := LoadLoggerConfigFromEnv()
		assert.Equal(t, "info", cfg.Level)
		assert.Equal(t, "json", cfg.Format)
		assert.Equal(t, "stdout", cfg.Output)
	})

	t.Run("custom values", func(t *testing.T) {
		clearLoggerEnv(t)
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("LOG_FORMAT", "console")
		t.Setenv("LOG_OUTPUT", "stderr")

		cfg := LoadLoggerConfigFromEnv()
		assert.Equal(t, "debug", cfg.Level)
		assert.Equal(t, "console", cfg.Format)
		assert.Equal(t, "stderr", cfg.Output)
	})
}

func TestLoggerConfig_Validate(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, LoggerConfig{Level: level, Format: "json"}.Validate())
	}
	assert.NoError(t, LoggerConfig{Level: "info", Format: "console"}.Validate())

	err := LoggerConfig{Level: "trace", Format: "json"}.Validate()
	assert.ErrorContains(t, err, "invalid log level")

	err = LoggerConfig{Level: "info", Format: "logfmt"}.Validate()
	assert.ErrorContains(t, err, "invalid log format")
}

func TestLoggerConfig_IsProduction(t *testing.T) {
	assert.True(t, LoggerConfig{Level: "info", Format: "json"}.IsProduction())
	assert.True(t, LoggerConfig{Level: "warn", Format: "json"}.IsProduction())
	assert.True(t, LoggerConfig{Level: "error", Format: "json"}.IsProduction())
	assert.False(t, LoggerConfig{Level: "debug", Format: "json"}.IsProduction())
	assert.False(t, LoggerConfig{Level: "info", Format: "console"}.IsProduction())
}
