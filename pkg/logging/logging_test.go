package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"dEbUg", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"Warning", LevelWarn},
		{"error", LevelError},
		{" error ", LevelError},
		{"", LevelInfo},
		{"trace", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, FormatJSON, ParseFormat("json"))
	assert.Equal(t, FormatJSON, ParseFormat("JSON"))
	assert.Equal(t, FormatText, ParseFormat("text"))
	assert.Equal(t, FormatText, ParseFormat("logfmt"))
	assert.Equal(t, FormatText, ParseFormat(""))
}

func TestNew_JSONIncludesServiceAndComponent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := Component(New(Config{Level: LevelDebug, Format: FormatJSON, Output: &buf}), "capture")
	logger.Debug("record finalised", "id", "01ABC")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "peek", line["service"])
	assert.Equal(t, "capture", line["component"])
	assert.Equal(t, "01ABC", line["id"])
	assert.Equal(t, "record finalised", line["msg"])
}

func TestNew_LevelFilters(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf})
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.Contains(out, "shown"))
}

func TestNilFallbacks(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, Component(nil, "x"))
	assert.NotNil(t, OrNop(nil))
	assert.NotPanics(t, func() { Nop().Error("discarded") })
}

func TestNew_ServiceOverride(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New(Config{Format: FormatJSON, Output: &buf, Service: "peek-demo"}).Info("up")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "peek-demo", line["service"])
}
