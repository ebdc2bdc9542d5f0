// Package source builds the configured stream variant.
package source

import (
	"fmt"

	"github.com/petems/signal-tray/internal/audio"
	"github.com/petems/signal-tray/internal/config"
	"github.com/petems/signal-tray/internal/firmata"
	"github.com/petems/signal-tray/internal/permissions"
	"github.com/petems/signal-tray/internal/serial"
	"github.com/petems/signal-tray/internal/stream"
	"github.com/rs/zerolog"
)

// Devices overrides how devices are found, opened and permitted. The zero
// value uses the real ports and the OS permission checks.
type Devices struct {
	Opener serial.Opener
	Lister serial.Lister
	// Permit checks the OS grants a source kind needs before it is built.
	Permit func(kind string) error
}

// New builds the source cfg selects, with port, pin and normalizer applied.
func New(cfg *config.Config, log zerolog.Logger) (stream.Stream, error) {
	return Devices{}.New(cfg, log)
}

func (d Devices) New(cfg *config.Config, log zerolog.Logger) (stream.Stream, error) {
	norm, err := Normalizer(cfg.Normalizer)
	if err != nil {
		return nil, err
	}

	permit := d.Permit
	if permit == nil {
		permit = permissions.EnsureForSource
	}
	if err := permit(cfg.Source.Kind); err != nil {
		return nil, fmt.Errorf("%w: %w", stream.ErrDevice, err)
	}

	var s stream.Stream
	switch cfg.Source.Kind {
	case config.SourceAudio:
		s = audio.NewStream(audio.Config{
			DeviceID:   cfg.Audio.DeviceID,
			SampleRate: cfg.Audio.SampleRate,
			BufferSize: cfg.Audio.BufferSize,
			Channels:   cfg.Audio.Channels,
			Logger:     log,
		})
	case config.SourceSerial, config.SourceASCII:
		sc := serial.Config{
			Device:    cfg.Serial.Device,
			Port:      cfg.Serial.Port,
			Pin:       cfg.Serial.Pin,
			Baud:      cfg.Serial.Baud,
			Delimiter: cfg.Serial.Delimiter,
			Logger:    log,
			Opener:    d.Opener,
			Lister:    d.Lister,
		}
		if cfg.Source.Kind == config.SourceASCII {
			s = serial.NewASCIIStream(sc)
		} else {
			s = serial.NewBinaryStream(sc)
		}
	case config.SourceFirmata:
		s = firmata.NewStream(firmata.Config{
			Device:           cfg.Firmata.Device,
			Port:             cfg.Firmata.Port,
			Pin:              cfg.Firmata.Pin,
			Baud:             cfg.Firmata.Baud,
			SamplingInterval: cfg.Firmata.SamplingInterval,
			HandshakeTimeout: cfg.Firmata.HandshakeTimeout,
			Logger:           log,
			Opener:           d.Opener,
			Lister:           d.Lister,
		})
	default:
		return nil, fmt.Errorf("%w: unknown source kind %q", stream.ErrConfig, cfg.Source.Kind)
	}

	s.UseNormalizer(norm)
	log.Debug().
		Str("source", s.Name()).
		Str("normalizer", cfg.Normalizer.Kind).
		Msg("Source built")
	return s, nil
}

// Normalizer maps the normalizer settings to a stream normalizer. "none"
// and the empty kind yield nil.
func Normalizer(cfg config.NormalizerConfig) (stream.Normalizer, error) {
	switch cfg.Kind {
	case "", config.NormalizerNone:
		return nil, nil
	case config.NormalizerScale:
		return stream.Scale(cfg.Scale), nil
	case config.NormalizerMinMax:
		if cfg.Max <= cfg.Min {
			return nil, fmt.Errorf("%w: normalizer max %g must exceed min %g", stream.ErrConfig, cfg.Max, cfg.Min)
		}
		return stream.MinMax(cfg.Min, cfg.Max), nil
	case config.NormalizerUnit:
		return stream.UnitNorm(), nil
	default:
		return nil, fmt.Errorf("%w: unknown normalizer %q", stream.ErrConfig, cfg.Kind)
	}
}
