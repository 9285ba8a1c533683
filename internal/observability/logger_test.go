package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/config"
)

// The logger is process-global so these tests reset it and must not run in
// parallel with each other.

func TestInitializeJSONOutput(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	Initialize(config.LoggerConfig{
		Level:       "debug",
		Format:      "json",
		ServiceName: "engine-test",
	}, zapcore.AddSync(&buf))

	GetLogger().Info("cycle started", zap.Int("cycle", 7))

	out := buf.String()
	assert.Contains(t, out, `"msg":"cycle started"`)
	assert.Contains(t, out, `"cycle":7`)
	assert.Contains(t, out, "engine-test")
	assert.Contains(t, out, `"INFO"`)
}

func TestInitializeIsIdempotent(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var first, second bytes.Buffer
	Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.AddSync(&first))
	Initialize(config.LoggerConfig{Level: "debug", Format: "json"}, zapcore.AddSync(&second))

	GetLogger().Info("only once")
	assert.Contains(t, first.String(), "only once")
	assert.Empty(t, second.String(), "the second Initialize call is a no-op")
}

func TestLevelFiltering(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	Initialize(config.LoggerConfig{Level: "warn", Format: "json"}, zapcore.AddSync(&buf))

	logger := GetLogger()
	logger.Info("too quiet")
	logger.Warn("loud enough")

	out := buf.String()
	assert.NotContains(t, out, "too quiet")
	assert.Contains(t, out, "loud enough")
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	Initialize(config.LoggerConfig{Level: "extremely-verbose", Format: "json"}, zapcore.AddSync(&buf))

	logger := GetLogger()
	logger.Debug("hidden")
	logger.Info("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
}

func TestConsoleFormatColorizesLevels(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	Initialize(config.LoggerConfig{
		Level:  "info",
		Format: "console",
		Colors: config.ColorConfig{Info: "green", Error: "red"},
	}, zapcore.AddSync(&buf))

	GetLogger().Info("painted")

	out := buf.String()
	assert.Contains(t, out, colorGreen+"INFO"+colorReset)
	assert.True(t, strings.Contains(out, "painted"))
}

func TestGetLoggerBeforeInitializeReturnsFallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	assert.NotPanics(t, func() { logger.Info("pre-init message") })
}
