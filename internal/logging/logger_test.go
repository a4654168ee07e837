package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.False(t, cfg.Caller)
	assert.NotNil(t, cfg.Output)
}

func TestInit(t *testing.T) {
	t.Cleanup(func() { Init(Config{Level: "info", Output: &bytes.Buffer{}}) })

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := Init(Config{Level: "debug", Format: "json", Output: &buf})

		logger.Debug().Str("run_id", "abc").Msg("fit complete")

		assert.Contains(t, buf.String(), `"level":"debug"`)
		assert.Contains(t, buf.String(), `"run_id":"abc"`)
		assert.Contains(t, buf.String(), `"message":"fit complete"`)
	})

	t.Run("installs global logger", func(t *testing.T) {
		var buf bytes.Buffer
		Init(Config{Level: "info", Format: "json", Output: &buf})

		log.Info().Msg("via global")
		assert.Contains(t, buf.String(), "via global")
	})

	t.Run("level filters", func(t *testing.T) {
		var buf bytes.Buffer
		logger := Init(Config{Level: "warn", Format: "json", Output: &buf})

		logger.Info().Msg("hidden")
		logger.Warn().Msg("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("console", func(t *testing.T) {
		var buf bytes.Buffer
		logger := Init(Config{Format: "console", Output: &buf})

		logger.Info().Msg("human readable")
		require.NotEmpty(t, buf.String())
		assert.NotContains(t, buf.String(), `"message"`)
		assert.Contains(t, buf.String(), "human readable")
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"disabled", zerolog.Disabled},
		{"DEBUG", zerolog.DebugLevel},
		{"invalid", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}
