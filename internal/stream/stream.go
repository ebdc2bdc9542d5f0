// Package stream defines the uniform interface over the live signal sources
// (audio, binary serial, ASCII serial, Firmata) and the shared plumbing every
// source embeds: run state, the single data-ready callback, the optional
// normalizer and dispatch counters.
//
// A source never starts a goroutine from its constructor. Start arms the
// device and, for polled sources, spawns exactly one reader goroutine that is
// owned by the source; Stop joins that goroutine before returning, so no
// callback is delivered after Stop returns. Dispatch is synchronous on the
// producing goroutine and in acquisition order.
package stream

import (
	"io"

	"gonum.org/v1/gonum/mat"
)

// State is the run state of a source.
type State int32

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// DataReadyFunc receives one completed acquisition unit: one row per sample
// vector, one column per dimension. The matrix belongs to the callee only for
// the duration of the call; copy it to keep it.
type DataReadyFunc func(m *mat.Dense)

// Stream is the capability set shared by every source variant.
type Stream interface {
	// Start begins acquisition. Starting a running source is a no-op.
	Start() error
	// Stop halts acquisition and, for sources that own a goroutine, waits
	// for it to exit. Stopping a stopped source is a no-op.
	Stop() error
	HasStarted() bool

	// UseUSBPort and UseAnalogPin select the device before Start. Sources
	// that have no such notion ignore them.
	UseUSBPort(i int)
	UseAnalogPin(i int)

	UseNormalizer(n Normalizer)
	OnDataReadyEvent(fn DataReadyFunc)

	Stats() Stats
	Name() string

	// Close stops the source if needed and releases its device.
	io.Closer
}
