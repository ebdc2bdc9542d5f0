package serial

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// fakePort hands out scripted reads. A read with nothing queued waits for
// the configured timeout and returns 0, nil like a real port.
type fakePort struct {
	reads   chan []byte
	timeout time.Duration
	closed  atomic.Bool

	mu      sync.Mutex
	readErr error
}

func newFakePort() *fakePort {
	return &fakePort{reads: make(chan []byte, 64), timeout: 5 * time.Millisecond}
}

func (f *fakePort) feed(chunks ...[]byte) {
	for _, c := range chunks {
		f.reads <- c
	}
}

func (f *fakePort) failReads(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
}

func (f *fakePort) Read(p []byte) (int, error) {
	if f.closed.Load() {
		return 0, errors.New("port closed")
	}
	f.mu.Lock()
	err := f.readErr
	f.readErr = nil
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	select {
	case c := <-f.reads:
		return copy(p, c), nil
	case <-time.After(f.timeout):
		return 0, nil
	}
}

func (f *fakePort) Write(p []byte) (int, error) { return len(p), nil }

func (f *fakePort) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakePort) SetReadTimeout(t time.Duration) error {
	f.timeout = t
	return nil
}

func (f *fakePort) ResetInputBuffer() error { return nil }

// fakeDevices wires fake ports into a Config.
type fakeDevices struct {
	names  []string
	port   *fakePort
	opened []string
	err    error
}

func (d *fakeDevices) config() Config {
	return Config{
		Port:        0,
		Pin:         -1,
		ReadTimeout: 5 * time.Millisecond,
		Opener: func(name string, baud int) (Port, error) {
			if d.err != nil {
				return nil, d.err
			}
			d.opened = append(d.opened, name)
			d.port.closed.Store(false)
			return d.port, nil
		},
		Lister: func() ([]string, error) { return d.names, nil },
	}
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{
		names: []string{"/dev/ttyUSB0", "/dev/ttyACM0"},
		port:  newFakePort(),
	}
}
