package serial

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/petems/signal-tray/internal/stream"
	"github.com/rs/zerolog"
)

const (
	// DefaultBaud is the rate of the binary-framed source.
	DefaultBaud = 115200
	// DefaultReadTimeout bounds each blocking read, and so Stop latency.
	DefaultReadTimeout = 100 * time.Millisecond

	readBufferSize = 64
)

// Config configures either serial source.
type Config struct {
	Device      string // explicit device path; overrides Port
	Port        int    // index into Lister's result
	Pin         int    // binary only: analog channel to keep, -1 keeps all
	Baud        int
	Delimiter   string // ASCII only, defaults to "\n"
	ReadTimeout time.Duration
	Logger      zerolog.Logger
	Opener      Opener // defaults to OpenPort
	Lister      Lister // defaults to ListPorts
}

func (c *Config) setDefaults(baud int) {
	if c.Baud <= 0 {
		c.Baud = baud
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.Opener == nil {
		c.Opener = OpenPort
	}
	if c.Lister == nil {
		c.Lister = ListPorts
	}
}

// decoder turns a byte stream into sample vectors.
type decoder interface {
	// Feed consumes p, calling emit for each complete vector and discard
	// for each unit it had to throw away.
	Feed(p []byte, emit func([]float64), discard func(error))
	// Flush drops any partially received unit, emitting complete units
	// found behind it.
	Flush(emit func([]float64), discard func(error))
}

// portSource is the reader loop shared by the binary and ASCII sources.
type portSource struct {
	stream.Base

	cfg     Config
	dec     decoder
	portIdx atomic.Int64

	// check validates configuration at Start; project reshapes each
	// decoded vector before normalization.
	check   func() error
	project func(v []float64) ([]float64, error)

	port   Port
	worker stream.Worker
}

func (s *portSource) setup(name string, cfg Config, dec decoder) {
	s.Init(name, cfg.Logger)
	s.cfg = cfg
	s.dec = dec
	s.portIdx.Store(int64(cfg.Port))
}

// UseUSBPort selects entry i of the serial port list for the next Start.
func (s *portSource) UseUSBPort(i int) {
	s.portIdx.Store(int64(i))
}

func (s *portSource) Start() error {
	return s.StartWith(func() error {
		if s.check != nil {
			if err := s.check(); err != nil {
				return fmt.Errorf("%w: %w", stream.ErrConfig, err)
			}
		}
		name, err := Resolve(s.cfg.Lister, s.cfg.Device, int(s.portIdx.Load()))
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

		s.Logger().Info().Str("device", name).Int("baud", s.cfg.Baud).Msg("Opened serial port")
		s.port = port
		s.dec.Flush(func([]float64) {}, func(error) {})
		s.worker.Go(s.readLoop)
		return nil
	})
}

func (s *portSource) Stop() error {
	return s.StopWith(func() error {
		s.worker.Halt()
		err := s.port.Close()
		s.port = nil
		if err != nil {
			return fmt.Errorf("failed to close serial port: %w", err)
		}
		return nil
	})
}

// Close stops the source; the port is released by Stop.
func (s *portSource) Close() error {
	return s.Stop()
}

func (s *portSource) readLoop(quit <-chan struct{}) {
	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-quit:
			return
		default:
		}

		n, err := s.port.Read(buf)
		switch {
		case err != nil:
			s.ReadError(err)
			s.dec.Flush(s.emit, s.Discard)
			// Keep a failing device from spinning the loop.
			select {
			case <-quit:
				return
			case <-time.After(s.cfg.ReadTimeout):
			}
		case n == 0:
			s.dec.Flush(s.emit, s.Discard)
		default:
			s.dec.Feed(buf[:n], s.emit, s.Discard)
		}
	}
}

func (s *portSource) emit(v []float64) {
	if s.project != nil {
		var err error
		if v, err = s.project(v); err != nil {
			s.Discard(err)
			return
		}
	}
	s.DispatchVector(v)
}
