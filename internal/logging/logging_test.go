package logging

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelParsing(t *testing.T) {
	for level, want := range map[string]zerolog.Level{
		"debug":  zerolog.DebugLevel,
		" WARN ": zerolog.WarnLevel,
		"bogus":  zerolog.InfoLevel,
		"":       zerolog.InfoLevel,
		"trace":  zerolog.TraceLevel,
	} {
		assert.Equal(t, want, NewWithWriter(level, "", &bytes.Buffer{}).GetLevel(), level)
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("info", "json", &buf)
	logger.Debug().Msg("hidden")
	logger.Info().Str("component", "scan").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "scan", line["component"])
	assert.Equal(t, "contactsync", line["service"])
}

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("info", "console", &buf).Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), `"message"`)
}
