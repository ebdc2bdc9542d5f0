package stream

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// Stats counts what a source has done since it was created.
type Stats struct {
	Dispatched uint64 // blocks handed to the callback
	Discarded  uint64 // frames, lines or blocks dropped before dispatch
	Errors     uint64 // device read errors and callback panics
	Run        string // ULID of the current or last run
}

type normalizerSlot struct {
	n Normalizer
}

// Base implements the parts of Stream that do not depend on the device.
// Variants embed it and call Init from their constructor.
type Base struct {
	name string
	log  zerolog.Logger

	lifecycle sync.Mutex // serializes Start, Stop and Close
	state     atomic.Int32
	run       atomic.Pointer[string]

	callback   atomic.Pointer[DataReadyFunc]
	normalizer atomic.Pointer[normalizerSlot]

	dispatched atomic.Uint64
	discarded  atomic.Uint64
	errors     atomic.Uint64
}

// Init names the source and attaches its logger.
func (b *Base) Init(name string, log zerolog.Logger) {
	b.name = name
	b.log = log.With().Str("source", name).Logger()
}

func (b *Base) Name() string { return b.name }

// Logger returns the source's logger, tagged with the current run if any.
func (b *Base) Logger() *zerolog.Logger {
	if run := b.run.Load(); run != nil {
		l := b.log.With().Str("run", *run).Logger()
		return &l
	}
	return &b.log
}

func (b *Base) HasStarted() bool {
	return State(b.state.Load()) == Running
}

// UseUSBPort is a no-op for sources that have no port.
func (b *Base) UseUSBPort(int) {}

// UseAnalogPin is a no-op for sources that have no analog pins.
func (b *Base) UseAnalogPin(int) {}

// UseNormalizer installs n, replacing any previous normalizer of either kind.
// A nil n, or a nil function of either kind, removes normalization.
func (b *Base) UseNormalizer(n Normalizer) {
	if n == nil || n.isNil() {
		b.normalizer.Store(nil)
		return
	}
	b.normalizer.Store(&normalizerSlot{n: n})
}

// OnDataReadyEvent registers fn as the only consumer. A nil fn unregisters.
func (b *Base) OnDataReadyEvent(fn DataReadyFunc) {
	if fn == nil {
		b.callback.Store(nil)
		return
	}
	b.callback.Store(&fn)
}

// Normalize applies the installed normalizer to v. Without one, v is
// returned unchanged.
func (b *Base) Normalize(v []float64) []float64 {
	slot := b.normalizer.Load()
	if slot == nil {
		return v
	}
	return slot.n.apply(v)
}

// Dispatch hands m to the registered callback on the calling goroutine. A
// panicking callback is recovered and counted so the producer keeps running.
func (b *Base) Dispatch(m *mat.Dense) {
	fn := b.callback.Load()
	if fn == nil {
		b.discarded.Add(1)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.errors.Add(1)
			b.log.Error().Interface("panic", r).Msg("Data-ready callback panicked")
		}
	}()
	(*fn)(m)
	b.dispatched.Add(1)
}

// DispatchVector normalizes v and dispatches it as a 1xN matrix. Vectors
// that normalize to nothing are discarded.
func (b *Base) DispatchVector(v []float64) {
	v = b.Normalize(v)
	if len(v) == 0 {
		b.Discard(fmt.Errorf("%w: empty vector after normalization", ErrFrame))
		return
	}
	b.Dispatch(Row(v))
}

// Discard records a dropped unit.
func (b *Base) Discard(err error) {
	b.discarded.Add(1)
	b.Logger().Debug().Err(err).Msg("Discarded input")
}

// ReadError records a device error that did not stop acquisition.
func (b *Base) ReadError(err error) {
	b.errors.Add(1)
	b.Logger().Warn().Err(err).Msg("Read error")
}

func (b *Base) Stats() Stats {
	s := Stats{
		Dispatched: b.dispatched.Load(),
		Discarded:  b.discarded.Load(),
		Errors:     b.errors.Load(),
	}
	if run := b.run.Load(); run != nil {
		s.Run = *run
	}
	return s
}

// StartWith runs arm with the lifecycle lock held, unless the source is
// already running, and marks the source running if arm succeeds. On failure
// the source stays stopped and the error is returned.
func (b *Base) StartWith(arm func() error) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if b.HasStarted() {
		b.Logger().Debug().Msg("Start ignored, already running")
		return nil
	}

	run := ulid.Make().String()
	b.run.Store(&run)
	if err := arm(); err != nil {
		b.Logger().Error().Err(err).Msg("Failed to start")
		return err
	}
	b.state.Store(int32(Running))
	b.Logger().Info().Msg("Started")
	return nil
}

// StopWith marks the source stopped and runs halt with the lifecycle lock
// held. halt must not return before the acquisition goroutine, if any, has
// exited. Stopping a stopped source does nothing.
func (b *Base) StopWith(halt func() error) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if !b.HasStarted() {
		return nil
	}
	b.state.Store(int32(Stopped))
	err := halt()
	if err != nil {
		b.Logger().Warn().Err(err).Msg("Stopped with error")
	} else {
		b.Logger().Info().Msg("Stopped")
	}
	return err
}

// Locked runs fn with the lifecycle lock held. Close implementations use it
// to release the device after StopWith.
func (b *Base) Locked(fn func() error) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	return fn()
}
