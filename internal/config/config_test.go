package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "signal-tray")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "config.yaml"))
	assert.Equal(t, filepath.Join(dir, "config.yaml"), cfg.Path())

	def := Default()
	assert.Equal(t, def.Source, cfg.Source)
	assert.Equal(t, def.Audio, cfg.Audio)
	assert.Equal(t, def.Serial, cfg.Serial)
	assert.Equal(t, def.Firmata, cfg.Firmata)
	assert.Equal(t, def.Normalizer, cfg.Normalizer)
	assert.NoError(t, cfg.Validate())
}

func TestSavePersistsChanges(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	cfg.Source.Kind = SourceFirmata
	cfg.Firmata.Pin = 3
	cfg.Firmata.SamplingInterval = 50 * time.Millisecond
	cfg.Serial.Port = 2
	require.NoError(t, cfg.Save())

	again, err := LoadFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, SourceFirmata, again.Source.Kind)
	assert.Equal(t, 3, again.Firmata.Pin)
	assert.Equal(t, 50*time.Millisecond, again.Firmata.SamplingInterval)
	assert.Equal(t, 2, again.Serial.Port)
}

func TestLoadReadsYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("source:\n  kind: ascii\nserial:\n  baud: 9600\n  delimiter: \";\"\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0644))

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, SourceASCII, cfg.Source.Kind)
	assert.Equal(t, 9600, cfg.Serial.Baud)
	assert.Equal(t, ";", cfg.Serial.Delimiter)
	assert.Equal(t, 44100, cfg.Audio.SampleRate)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SIGNALTRAY_SOURCE_KIND", "serial")
	t.Setenv("SIGNALTRAY_SERIAL_PIN", "2")

	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, SourceSerial, cfg.Source.Kind)
	assert.Equal(t, 2, cfg.Serial.Pin)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{name: "defaults", modify: func(*Config) {}, ok: true},
		{name: "unknown source", modify: func(c *Config) { c.Source.Kind = "midi" }},
		{name: "zero buffer", modify: func(c *Config) { c.Audio.BufferSize = 0 }},
		{name: "zero channels", modify: func(c *Config) { c.Audio.Channels = 0 }},
		{name: "negative baud", modify: func(c *Config) { c.Serial.Baud = -1 }},
		{name: "unknown normalizer", modify: func(c *Config) { c.Normalizer.Kind = "log" }},
		{name: "inverted minmax", modify: func(c *Config) {
			c.Normalizer.Kind = NormalizerMinMax
			c.Normalizer.Min, c.Normalizer.Max = 10, 5
		}},
		{name: "minmax", modify: func(c *Config) { c.Normalizer.Kind = NormalizerMinMax }, ok: true},
		{name: "publish without endpoint", modify: func(c *Config) {
			c.Publish.Enabled = true
			c.Publish.Endpoint = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
