package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	prevLogger := log.Logger
	prevLevel := zerolog.GlobalLevel()
	prevFormat := zerolog.TimeFieldFormat
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
		zerolog.TimeFieldFormat = prevFormat
	})
}

func TestSetup_InvalidLevel(t *testing.T) {
	restoreGlobals(t)

	err := Setup(LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestSetup_SetsGlobalLevel(t *testing.T) {
	restoreGlobals(t)

	require.NoError(t, Setup(LogConfig{Level: "WARN", Format: "json", Output: "stderr"}))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

func TestSetup_FileOutputWritesJSON(t *testing.T) {
	restoreGlobals(t)

	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, Setup(LogConfig{Level: "info", Format: "json", Output: path}))

	componentLog := WithComponent("ocr-client")
	componentLog.Info().Msg("hello")
	requestLog := WithRequestID("req-1")
	requestLog.Debug().Msg("dropped")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"ocr-client"`)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.NotContains(t, string(data), "dropped")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
}
