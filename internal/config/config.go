package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	appName  = "signal-tray"
	fileName = "config"
	fileType = "yaml"
)

// Source kinds.
const (
	SourceAudio   = "audio"
	SourceSerial  = "serial"
	SourceASCII   = "ascii"
	SourceFirmata = "firmata"
)

// Normalizer kinds.
const (
	NormalizerNone   = "none"
	NormalizerScale  = "scale"
	NormalizerMinMax = "minmax"
	NormalizerUnit   = "unit"
)

// SourceKinds lists the selectable sources in menu order.
var SourceKinds = []string{SourceAudio, SourceSerial, SourceASCII, SourceFirmata}

type Config struct {
	Source     SourceConfig     `mapstructure:"source"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Serial     SerialConfig     `mapstructure:"serial"`
	Firmata    FirmataConfig    `mapstructure:"firmata"`
	Normalizer NormalizerConfig `mapstructure:"normalizer"`
	Publish    PublishConfig    `mapstructure:"publish"`
	Log        LogConfig        `mapstructure:"log"`

	path string
	v    *viper.Viper
}

type SourceConfig struct {
	Kind string `mapstructure:"kind"` // "audio", "serial", "ascii" or "firmata"
}

type AudioConfig struct {
	DeviceID   string `mapstructure:"device_id"`
	SampleRate int    `mapstructure:"sample_rate"`
	BufferSize int    `mapstructure:"buffer_size"`
	Channels   int    `mapstructure:"channels"`
}

// SerialConfig is shared by the binary and ASCII serial sources.
type SerialConfig struct {
	Device    string `mapstructure:"device"` // overrides Port when set
	Port      int    `mapstructure:"port"`
	Pin       int    `mapstructure:"pin"` // -1 keeps every channel
	Baud      int    `mapstructure:"baud"`
	Delimiter string `mapstructure:"delimiter"`
}

type FirmataConfig struct {
	Device           string        `mapstructure:"device"`
	Port             int           `mapstructure:"port"`
	Pin              int           `mapstructure:"pin"`
	Baud             int           `mapstructure:"baud"`
	SamplingInterval time.Duration `mapstructure:"sampling_interval"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

type NormalizerConfig struct {
	Kind  string  `mapstructure:"kind"`
	Scale float64 `mapstructure:"scale"`
	Min   float64 `mapstructure:"min"`
	Max   float64 `mapstructure:"max"`
}

type PublishConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Source: SourceConfig{Kind: SourceAudio},
		Audio: AudioConfig{
			DeviceID:   "",
			SampleRate: 44100,
			BufferSize: 512,
			Channels:   1,
		},
		Serial: SerialConfig{
			Port:      0,
			Pin:       -1,
			Baud:      115200,
			Delimiter: "\n",
		},
		Firmata: FirmataConfig{
			Port:             0,
			Pin:              0,
			Baud:             57600,
			SamplingInterval: 19 * time.Millisecond,
			HandshakeTimeout: 5 * time.Second,
		},
		Normalizer: NormalizerConfig{
			Kind:  NormalizerNone,
			Scale: 1,
			Min:   0,
			Max:   1023,
		},
		Publish: PublishConfig{
			Enabled:  false,
			Endpoint: "tcp://127.0.0.1:5600",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 4,
			MaxAgeDays: 180,
		},
	}
}

// settings flattens c into viper keys.
func (c *Config) settings() map[string]any {
	return map[string]any{
		"source.kind":               c.Source.Kind,
		"audio.device_id":           c.Audio.DeviceID,
		"audio.sample_rate":         c.Audio.SampleRate,
		"audio.buffer_size":         c.Audio.BufferSize,
		"audio.channels":            c.Audio.Channels,
		"serial.device":             c.Serial.Device,
		"serial.port":               c.Serial.Port,
		"serial.pin":                c.Serial.Pin,
		"serial.baud":               c.Serial.Baud,
		"serial.delimiter":          c.Serial.Delimiter,
		"firmata.device":            c.Firmata.Device,
		"firmata.port":              c.Firmata.Port,
		"firmata.pin":               c.Firmata.Pin,
		"firmata.baud":              c.Firmata.Baud,
		"firmata.sampling_interval": c.Firmata.SamplingInterval.String(),
		"firmata.handshake_timeout": c.Firmata.HandshakeTimeout.String(),
		"normalizer.kind":           c.Normalizer.Kind,
		"normalizer.scale":          c.Normalizer.Scale,
		"normalizer.min":            c.Normalizer.Min,
		"normalizer.max":            c.Normalizer.Max,
		"publish.enabled":           c.Publish.Enabled,
		"publish.endpoint":          c.Publish.Endpoint,
		"log.level":                 c.Log.Level,
		"log.max_size_mb":           c.Log.MaxSizeMB,
		"log.max_backups":           c.Log.MaxBackups,
		"log.max_age_days":          c.Log.MaxAgeDays,
	}
}

// Load reads the config from the platform config directory, creating it
// with defaults if it does not exist yet.
func Load() (*Config, error) {
	return LoadFrom(Dir())
}

// LoadFrom reads config.yaml from dir, falling back to /etc/signal-tray
// and the working directory. Environment variables prefixed SIGNALTRAY_
// override file values, e.g. SIGNALTRAY_SOURCE_KIND=firmata.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	for k, val := range Default().settings() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("SIGNALTRAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := filepath.Join(dir, fileName+"."+fileType)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create config dir: %w", err)
		}
		if err := v.WriteConfigAs(path); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v.SetConfigName(fileName)
	v.SetConfigType(fileType)
	v.AddConfigPath(dir)
	v.AddConfigPath(filepath.FromSlash("/etc/" + appName))
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := &Config{path: path, v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Save writes the config back to the file it was loaded from.
func (c *Config) Save() error {
	if c.v == nil {
		c.v = viper.New()
	}
	if c.path == "" {
		c.path = filepath.Join(Dir(), fileName+"."+fileType)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}
	for k, val := range c.settings() {
		c.v.Set(k, val)
	}
	return c.v.WriteConfigAs(c.path)
}

// Path returns the file Save writes to.
func (c *Config) Path() string {
	return c.path
}

// Validate rejects settings no source could start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Source.Kind {
	case SourceAudio, SourceSerial, SourceASCII, SourceFirmata:
	default:
		errs = append(errs, fmt.Errorf("unknown source kind %q", c.Source.Kind))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.buffer_size must be positive, got %d", c.Audio.BufferSize))
	}
	if c.Audio.Channels <= 0 {
		errs = append(errs, fmt.Errorf("audio.channels must be positive, got %d", c.Audio.Channels))
	}
	if c.Serial.Baud <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud))
	}
	if c.Firmata.Baud <= 0 {
		errs = append(errs, fmt.Errorf("firmata.baud must be positive, got %d", c.Firmata.Baud))
	}

	switch c.Normalizer.Kind {
	case "", NormalizerNone, NormalizerScale, NormalizerUnit:
	case NormalizerMinMax:
		if c.Normalizer.Max <= c.Normalizer.Min {
			errs = append(errs, fmt.Errorf("normalizer.max (%g) must exceed normalizer.min (%g)",
				c.Normalizer.Max, c.Normalizer.Min))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown normalizer kind %q", c.Normalizer.Kind))
	}

	if c.Publish.Enabled && c.Publish.Endpoint == "" {
		errs = append(errs, errors.New("publish.endpoint is required when publishing is enabled"))
	}
	return errors.Join(errs...)
}

// Dir returns the platform-specific config directory
func Dir() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, appName)
}
