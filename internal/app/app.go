package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/petems/signal-tray/internal/config"
	"github.com/petems/signal-tray/internal/stream"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// maxPending bounds the rows kept for Drain when nobody drains.
const maxPending = 1 << 16

var (
	ErrCapturing    = errors.New("cannot change while capturing")
	ErrRecording    = errors.New("a recording is already in progress")
	ErrNotRecording = errors.New("no recording in progress")
)

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetCapturing()
	SetError()
}

// Publisher receives every block after it has been stored.
type Publisher interface {
	Publish(m *mat.Dense) error
	Close() error
}

// SourceFactory builds the source selected in the config.
type SourceFactory func(cfg *config.Config) (stream.Stream, error)

type Config struct {
	Source        stream.Stream
	Factory       SourceFactory // Optional - needed for SetSourceKind
	Publisher     Publisher     // Optional - can be nil
	Config        *config.Config
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil
}

// Segment is a labelled run of samples captured between StartRecording
// and StopRecording.
type Segment struct {
	Label   string
	Samples *mat.Dense
}

type recording struct {
	label string
	rows  [][]float64
}

type App struct {
	cfg     *config.Config
	log     zerolog.Logger
	status  StatusUpdater
	pub     Publisher
	factory SourceFactory

	mu        sync.Mutex // serializes control actions
	source    stream.Stream
	capturing bool

	// data is held only for short copies; onDataIn runs on the source's
	// acquisition goroutine.
	data     sync.Mutex
	latest   *mat.Dense
	pending  [][]float64
	rec      *recording
	segments []Segment
}

func New(cfg Config) *App {
	a := &App{
		cfg:     cfg.Config,
		log:     cfg.Logger,
		status:  cfg.StatusUpdater,
		pub:     cfg.Publisher,
		factory: cfg.Factory,
		source:  cfg.Source,
	}
	if a.source != nil {
		a.source.OnDataReadyEvent(a.onDataIn)
	}
	return a
}

func (a *App) onDataIn(m *mat.Dense) {
	rows := stream.Rows(m)

	a.data.Lock()
	a.latest = mat.DenseCopyOf(m)
	a.pending = append(a.pending, rows...)
	if over := len(a.pending) - maxPending; over > 0 {
		a.pending = a.pending[over:]
	}
	if a.rec != nil {
		a.rec.rows = append(a.rec.rows, rows...)
	}
	a.data.Unlock()

	if a.pub != nil {
		if err := a.pub.Publish(m); err != nil {
			a.log.Debug().Err(err).Msg("Publish failed")
		}
	}
}

// Toggle starts capture when idle and stops it when capturing.
func (a *App) Toggle() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.capturing {
		return a.stopLocked()
	}
	return a.startLocked()
}

func (a *App) StartCapture() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startLocked()
}

// StopCapture stops the source and forgets the latest block.
func (a *App) StopCapture() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopLocked()
}

func (a *App) startLocked() error {
	if a.capturing {
		return nil
	}
	if a.source == nil {
		return errors.New("no source configured")
	}

	a.log.Info().Str("source", a.source.Name()).Msg("Starting capture")
	if err := a.source.Start(); err != nil {
		a.log.Error().Err(err).Msg("Failed to start capture")
		if a.status != nil {
			a.status.SetError()
		}
		return err
	}
	a.capturing = true
	if a.status != nil {
		a.status.SetCapturing()
	}
	return nil
}

func (a *App) stopLocked() error {
	if !a.capturing {
		return nil
	}

	a.log.Info().Str("source", a.source.Name()).Msg("Stopping capture")
	err := a.source.Stop()
	a.capturing = false

	a.data.Lock()
	a.latest = nil
	a.pending = nil
	a.data.Unlock()

	if err != nil {
		a.log.Error().Err(err).Msg("Stop error")
		if a.status != nil {
			a.status.SetError()
		}
		return err
	}
	if a.status != nil {
		a.status.SetIdle()
	}
	stats := a.source.Stats()
	a.log.Info().
		Uint64("dispatched", stats.Dispatched).
		Uint64("discarded", stats.Discarded).
		Uint64("errors", stats.Errors).
		Str("run", stats.Run).
		Msg("Capture stopped")
	return nil
}

func (a *App) IsCapturing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capturing
}

// Latest returns a copy of the most recent sample vector, or nil.
func (a *App) Latest() []float64 {
	a.data.Lock()
	defer a.data.Unlock()

	if a.latest == nil {
		return nil
	}
	r, _ := a.latest.Dims()
	return mat.Row(nil, r-1, a.latest)
}

// LatestBlock returns a copy of the most recent block, or nil.
func (a *App) LatestBlock() *mat.Dense {
	a.data.Lock()
	defer a.data.Unlock()

	if a.latest == nil {
		return nil
	}
	return mat.DenseCopyOf(a.latest)
}

// Drain returns every row received since the previous Drain, or nil.
func (a *App) Drain() *mat.Dense {
	a.data.Lock()
	rows := a.pending
	a.pending = nil
	a.data.Unlock()

	m, err := stream.FromFrames(rows)
	if err != nil {
		// Nothing pending, or a vectorwise normalizer changed the width.
		return nil
	}
	return m
}

// StartRecording begins collecting rows into a segment named label.
func (a *App) StartRecording(label string) error {
	a.data.Lock()
	defer a.data.Unlock()

	if a.rec != nil {
		return fmt.Errorf("%w: %q", ErrRecording, a.rec.label)
	}
	a.rec = &recording{label: label}
	a.log.Info().Str("label", label).Msg("Recording started")
	return nil
}

// StopRecording ends the current recording and keeps it as a segment.
func (a *App) StopRecording() (Segment, error) {
	a.data.Lock()
	defer a.data.Unlock()

	if a.rec == nil {
		return Segment{}, ErrNotRecording
	}
	rec := a.rec
	a.rec = nil

	samples, err := stream.FromFrames(rec.rows)
	if err != nil {
		return Segment{}, fmt.Errorf("recording %q: %w", rec.label, err)
	}
	seg := Segment{Label: rec.label, Samples: samples}
	a.segments = append(a.segments, seg)
	a.log.Info().Str("label", rec.label).Int("rows", len(rec.rows)).Msg("Recording stopped")
	return seg, nil
}

// IsRecording reports the label of the recording in progress.
func (a *App) IsRecording() (string, bool) {
	a.data.Lock()
	defer a.data.Unlock()

	if a.rec == nil {
		return "", false
	}
	return a.rec.label, true
}

// Segments returns the recorded segments in recording order.
func (a *App) Segments() []Segment {
	a.data.Lock()
	defer a.data.Unlock()
	return append([]Segment(nil), a.segments...)
}

// SwapSource replaces the source. The old one is closed.
func (a *App) SwapSource(s stream.Stream) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.swapLocked(s)
}

func (a *App) swapLocked(s stream.Stream) error {
	if a.capturing {
		return ErrCapturing
	}
	if a.source != nil {
		a.source.OnDataReadyEvent(nil)
		if err := a.source.Close(); err != nil {
			a.log.Warn().Err(err).Str("source", a.source.Name()).Msg("Failed to close source")
		}
	}
	a.source = s
	s.OnDataReadyEvent(a.onDataIn)

	a.data.Lock()
	a.latest = nil
	a.pending = nil
	a.data.Unlock()

	a.log.Info().Str("source", s.Name()).Msg("Source selected")
	return nil
}

// Tray actions

// SetSourceKind rebuilds the source for kind and persists the choice.
func (a *App) SetSourceKind(kind string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.capturing {
		return ErrCapturing
	}
	if a.factory == nil {
		return errors.New("no source factory configured")
	}

	prev := a.cfg.Source.Kind
	a.cfg.Source.Kind = kind
	s, err := a.factory(a.cfg)
	if err != nil {
		a.cfg.Source.Kind = prev
		return err
	}
	if err := a.swapLocked(s); err != nil {
		a.cfg.Source.Kind = prev
		return err
	}
	return a.cfg.Save()
}

// SetAudioDevice selects the microphone and rebuilds an audio source.
func (a *App) SetAudioDevice(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.capturing {
		return ErrCapturing
	}
	a.cfg.Audio.DeviceID = id
	if a.cfg.Source.Kind == config.SourceAudio && a.factory != nil {
		s, err := a.factory(a.cfg)
		if err != nil {
			return err
		}
		if err := a.swapLocked(s); err != nil {
			return err
		}
	}
	return a.cfg.Save()
}

// SetSerialPort selects port i for serial and Firmata sources.
func (a *App) SetSerialPort(i int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.capturing {
		return ErrCapturing
	}
	switch a.cfg.Source.Kind {
	case config.SourceFirmata:
		a.cfg.Firmata.Port = i
		a.cfg.Firmata.Device = ""
	default:
		a.cfg.Serial.Port = i
		a.cfg.Serial.Device = ""
	}
	if a.source != nil {
		a.source.UseUSBPort(i)
	}
	return a.cfg.Save()
}

func (a *App) SourceName() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.source == nil {
		return ""
	}
	return a.source.Name()
}

func (a *App) Stats() stream.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.source == nil {
		return stream.Stats{}
	}
	return a.source.Stats()
}

// Shutdown stops capture and releases the source and publisher.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if a.capturing {
		if err := a.stopLocked(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.source != nil {
		if err := a.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close source: %w", err))
		}
	}
	if a.pub != nil {
		if err := a.pub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	return errors.Join(errs...)
}
