// Package firmata implements a source that samples one analog pin of a
// microcontroller running StandardFirmata over a serial link.
//
// The device is configured once (version handshake and sampling interval)
// on the first successful Start and stays configured across Stop/Start
// cycles; Stop only halts polling. Close releases the port.
package firmata

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/petems/signal-tray/internal/serial"
	"github.com/petems/signal-tray/internal/stream"
	"github.com/rs/zerolog"
)

const (
	DefaultBaud             = 57600
	DefaultSamplingInterval = 19 * time.Millisecond
	DefaultHandshakeTimeout = 5 * time.Second

	maxAnalogPins  = 16
	readBufferSize = 64
)

// Config configures a Stream.
type Config struct {
	Device           string // explicit device path; overrides Port
	Port             int    // index into Lister's result
	Pin              int    // analog pin to sample
	Baud             int
	SamplingInterval time.Duration
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	Logger           zerolog.Logger
	Opener           serial.Opener
	Lister           serial.Lister
}

func (c *Config) setDefaults() {
	if c.Baud <= 0 {
		c.Baud = DefaultBaud
	}
	if c.SamplingInterval <= 0 {
		c.SamplingInterval = DefaultSamplingInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = serial.DefaultReadTimeout
	}
	if c.Opener == nil {
		c.Opener = serial.OpenPort
	}
	if c.Lister == nil {
		c.Lister = serial.ListPorts
	}
}

// Stream dispatches a 1x1 matrix for every fresh reading of its pin.
type Stream struct {
	stream.Base

	cfg     Config
	portIdx atomic.Int64
	pin     atomic.Int64

	// Guarded by the lifecycle lock.
	port       serial.Port
	configured bool
	devicePort int
	activePin  int
	version    [2]byte
	worker     stream.Worker
	parser     Parser
}

// NewStream creates a stopped, unconfigured Firmata source.
func NewStream(cfg Config) *Stream {
	cfg.setDefaults()
	s := &Stream{cfg: cfg}
	s.Init("firmata", cfg.Logger)
	s.portIdx.Store(int64(cfg.Port))
	s.pin.Store(int64(cfg.Pin))
	return s
}

// UseUSBPort selects the serial port for the next Start. Selecting a
// different port than the configured one forces a new handshake.
func (s *Stream) UseUSBPort(i int) {
	s.portIdx.Store(int64(i))
}

// UseAnalogPin selects the analog pin sampled from the next Start.
func (s *Stream) UseAnalogPin(i int) {
	s.pin.Store(int64(i))
}

// Version returns the firmware protocol version reported at handshake.
func (s *Stream) Version() (major, minor int) {
	var v [2]byte
	s.Locked(func() error {
		v = s.version
		return nil
	})
	return int(v[0]), int(v[1])
}

func (s *Stream) Start() error {
	return s.StartWith(func() error {
		pin := int(s.pin.Load())
		if pin < 0 || pin >= maxAnalogPins {
			return fmt.Errorf("%w: analog pin %d out of range [0, %d)", stream.ErrConfig, pin, maxAnalogPins)
		}
		portIdx := int(s.portIdx.Load())
		if s.configured && s.cfg.Device == "" && portIdx != s.devicePort {
			s.release()
		}
		if !s.configured {
			if err := s.configure(portIdx); err != nil {
				return err
			}
		}

		if err := s.port.ResetInputBuffer(); err != nil {
			s.Logger().Warn().Err(err).Msg("Failed to flush input")
		}
		s.parser.Reset()
		if _, err := s.port.Write(enableAnalogReport(pin, true)); err != nil {
			return fmt.Errorf("%w: failed to enable reporting on A%d: %w", stream.ErrDevice, pin, err)
		}
		s.activePin = pin
		s.worker.Go(s.pollLoop)
		return nil
	})
}

func (s *Stream) Stop() error {
	return s.StopWith(func() error {
		s.worker.Halt()
		if _, err := s.port.Write(enableAnalogReport(s.activePin, false)); err != nil {
			return fmt.Errorf("failed to disable reporting on A%d: %w", s.activePin, err)
		}
		return nil
	})
}

// Close stops polling and releases the port. The next Start handshakes again.
func (s *Stream) Close() error {
	err := s.Stop()
	s.Locked(func() error {
		s.release()
		return nil
	})
	return err
}

func (s *Stream) release() {
	if s.port != nil {
		if err := s.port.Close(); err != nil {
			s.Logger().Warn().Err(err).Msg("Failed to close port")
		}
	}
	s.port = nil
	s.configured = false
}

// configure opens the port and performs the one-time handshake.
func (s *Stream) configure(portIdx int) error {
	name, err := serial.Resolve(s.cfg.Lister, s.cfg.Device, portIdx)
	if err != nil {
		return fmt.Errorf("%w: %w", stream.ErrConfig, err)
	}
	port, err := s.cfg.Opener(name, s.cfg.Baud)
	if err != nil {
		return fmt.Errorf("%w: failed to open %s: %w", stream.ErrDevice, name, err)
	}
	if err := port.SetReadTimeout(s.cfg.ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("%w: failed to set read timeout on %s: %w", stream.ErrDevice, name, err)
	}

	version, err := s.handshake(port)
	if err != nil {
		port.Close()
		return fmt.Errorf("%w: %s: %w", stream.ErrHandshake, name, err)
	}
	ms := int(s.cfg.SamplingInterval / time.Millisecond)
	if _, err := port.Write(setSamplingInterval(ms)); err != nil {
		port.Close()
		return fmt.Errorf("%w: failed to set sampling interval: %w", stream.ErrHandshake, err)
	}

	s.port = port
	s.configured = true
	s.devicePort = portIdx
	s.version = version
	s.Logger().Info().
		Str("device", name).
		Int("major", int(version[0])).
		Int("minor", int(version[1])).
		Dur("interval", s.cfg.SamplingInterval).
		Msg("Firmata device configured")
	return nil
}

// handshake queries the firmware version until it answers or the timeout
// expires. Boards that reset on open need a second or two before they
// listen, so the query is repeated.
func (s *Stream) handshake(port serial.Port) ([2]byte, error) {
	var version [2]byte
	deadline := time.Now().Add(s.cfg.HandshakeTimeout)
	buf := make([]byte, readBufferSize)
	var p Parser

	for time.Now().Before(deadline) {
		if _, err := port.Write(queryVersion()); err != nil {
			return version, fmt.Errorf("failed to query version: %w", err)
		}
		retry := time.Now().Add(time.Second)
		for time.Now().Before(retry) && time.Now().Before(deadline) {
			n, err := port.Read(buf)
			if err != nil {
				return version, fmt.Errorf("failed to read version: %w", err)
			}
			found := false
			p.Feed(buf[:n], func(m Message) {
				if found || !m.IsVersion() || len(m.Data) < 2 {
					return
				}
				version = [2]byte{m.Data[0], m.Data[1]}
				found = true
			})
			if found {
				return version, nil
			}
		}
	}
	return version, fmt.Errorf("no version reply within %v", s.cfg.HandshakeTimeout)
}

func (s *Stream) pollLoop(quit <-chan struct{}) {
	buf := make([]byte, readBufferSize)
	pin := byte(s.activePin)
	for {
		select {
		case <-quit:
			return
		default:
		}

		n, err := s.port.Read(buf)
		if err != nil {
			s.ReadError(err)
			s.parser.Reset()
			select {
			case <-quit:
				return
			case <-time.After(s.cfg.ReadTimeout):
			}
			continue
		}
		s.parser.Feed(buf[:n], func(m Message) {
			if m.Sysex || m.Command != analogMessage || m.Channel != pin {
				return
			}
			s.DispatchVector([]float64{float64(m.AnalogValue())})
		})
	}
}

var _ stream.Stream = (*Stream)(nil)
