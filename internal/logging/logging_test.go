package logging

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/petems/signal-tray/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("chatty"))
}

func TestBuildWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "signal-tray.log")
	cfg := config.Default().Log
	cfg.Level = "warn"

	log := build(cfg, path)
	log.Info().Msg("dropped")
	log.Warn().Str("source", "firmata").Msg("kept")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"source":"firmata"`)
	assert.NotContains(t, string(data), "dropped")
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())
}

func TestPathUsesXDGStateHome(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skipf("XDG paths only apply on linux, running on %s", runtime.GOOS)
	}
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)
	assert.Equal(t, filepath.Join(dir, "signal-tray", "signal-tray.log"), Path())
}
