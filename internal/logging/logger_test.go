package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/shopkeeper/backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(NewWithWriter(config.LoggingConfig{Level: "debug", Format: "json"}, &buf), "fallback")

	logger.Debug("provider attempt", "provider", "groq")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "fallback", record["component"])
	assert.Equal(t, "groq", record["provider"])
	assert.Equal(t, "DEBUG", record["level"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "warn", Format: "text"}, &buf)

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}
