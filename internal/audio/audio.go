// Package audio implements the microphone source. PortAudio calls back on
// its own realtime thread with each filled buffer; the source converts it
// into a frames x channels block and dispatches it on that thread.
package audio

import (
	"fmt"
	"sync/atomic"

	goaudio "github.com/go-audio/audio"
	"github.com/petems/signal-tray/internal/stream"
	"github.com/rs/zerolog"
)

const (
	DefaultSampleRate = 44100
	DefaultBufferSize = 512
	DefaultChannels   = 1
)

// Device represents an audio input device
type Device struct {
	ID      string
	Name    string
	Default bool
}

// Config configures a Stream. Buffer size and channel count are fixed for
// the life of the source.
type Config struct {
	DeviceID   string // device name; empty selects the default input
	SampleRate int
	BufferSize int // frames per callback
	Channels   int
	Logger     zerolog.Logger
}

func (c *Config) setDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Channels <= 0 {
		c.Channels = DefaultChannels
	}
}

// host opens input streams that deliver interleaved float32 buffers to a
// callback.
type host interface {
	Open(cfg Config, callback func(in []float32)) (hostStream, error)
	Terminate() error
}

type hostStream interface {
	Start() error
	Stop() error
	Close() error
}

// Stream captures from one audio input device.
type Stream struct {
	stream.Base

	cfg    Config
	format *goaudio.Format
	host   host

	// Guarded by the lifecycle lock.
	in hostStream
	// live is set before the host starts calling back, so blocks delivered
	// while Start is still returning are dispatched.
	live atomic.Bool
}

// NewStream creates a stopped audio source on the PortAudio host.
func NewStream(cfg Config) *Stream {
	return newStream(cfg, &portAudioHost{})
}

func newStream(cfg Config, h host) *Stream {
	cfg.setDefaults()
	s := &Stream{
		cfg:    cfg,
		format: &goaudio.Format{NumChannels: cfg.Channels, SampleRate: cfg.SampleRate},
		host:   h,
	}
	s.Init("audio", cfg.Logger)
	return s
}

func (s *Stream) Start() error {
	return s.StartWith(func() error {
		in, err := s.host.Open(s.cfg, s.audioIn)
		if err != nil {
			return fmt.Errorf("%w: failed to open audio stream: %w", stream.ErrDevice, err)
		}
		s.live.Store(true)
		if err := in.Start(); err != nil {
			s.live.Store(false)
			in.Close()
			return fmt.Errorf("%w: failed to start audio stream: %w", stream.ErrDevice, err)
		}
		s.in = in
		s.Logger().Info().
			Str("device", s.cfg.DeviceID).
			Int("sample_rate", s.cfg.SampleRate).
			Int("buffer_size", s.cfg.BufferSize).
			Int("channels", s.cfg.Channels).
			Msg("Audio stream started")
		return nil
	})
}

// Stop returns once the host has delivered its last callback.
func (s *Stream) Stop() error {
	return s.StopWith(func() error {
		s.live.Store(false)
		in := s.in
		s.in = nil
		if err := in.Stop(); err != nil {
			in.Close()
			return fmt.Errorf("failed to stop audio stream: %w", err)
		}
		if err := in.Close(); err != nil {
			return fmt.Errorf("failed to close audio stream: %w", err)
		}
		return nil
	})
}

// Close stops capture and releases the audio host.
func (s *Stream) Close() error {
	err := s.Stop()
	if terr := s.host.Terminate(); terr != nil && err == nil {
		err = terr
	}
	return err
}

// audioIn runs on the host's realtime thread and must not block.
func (s *Stream) audioIn(in []float32) {
	if !s.live.Load() {
		return
	}
	buf := (&goaudio.Float32Buffer{Format: s.format, Data: in}).AsFloatBuffer()

	ch := s.cfg.Channels
	if rem := len(buf.Data) % ch; rem != 0 {
		s.Discard(fmt.Errorf("%w: %d trailing samples in %d-channel buffer", stream.ErrFrame, rem, ch))
		if len(buf.Data) < ch {
			return
		}
	}
	frames := make([][]float64, 0, len(buf.Data)/ch)
	for i := 0; i+ch <= len(buf.Data); i += ch {
		frames = append(frames, s.Normalize(buf.Data[i:i+ch]))
	}
	m, err := stream.FromFrames(frames)
	if err != nil {
		s.Discard(err)
		return
	}
	s.Dispatch(m)
}

var _ stream.Stream = (*Stream)(nil)
