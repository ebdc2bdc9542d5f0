package audio

import (
	"errors"
	"testing"

	"github.com/petems/signal-tray/internal/stream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

type mockHost struct {
	openErr    error
	startErr   error
	callback   func(in []float32)
	onStart    []float32
	opened     Config
	started    int
	stopped    int
	closed     int
	terminated int
}

func (h *mockHost) Open(cfg Config, cb func(in []float32)) (hostStream, error) {
	if h.openErr != nil {
		return nil, h.openErr
	}
	h.opened = cfg
	h.callback = cb
	return &mockHostStream{h: h}, nil
}

func (h *mockHost) Terminate() error {
	h.terminated++
	return nil
}

type mockHostStream struct{ h *mockHost }

func (m *mockHostStream) Start() error {
	if m.h.startErr != nil {
		return m.h.startErr
	}
	m.h.started++
	if m.h.onStart != nil {
		m.h.callback(m.h.onStart)
	}
	return nil
}

func (m *mockHostStream) Stop() error {
	m.h.stopped++
	return nil
}

func (m *mockHostStream) Close() error {
	m.h.closed++
	return nil
}

func newTestStream(bufferSize, channels int) (*Stream, *mockHost) {
	h := &mockHost{}
	s := newStream(Config{BufferSize: bufferSize, Channels: channels, Logger: zerolog.Nop()}, h)
	return s, h
}

func TestAudioInInterleavedBlock(t *testing.T) {
	s, h := newTestStream(2, 2)
	var got []*mat.Dense
	s.OnDataReadyEvent(func(m *mat.Dense) { got = append(got, m) })

	require.NoError(t, s.Start())
	h.callback([]float32{0.1, 0.2, 0.3, 0.4})
	require.NoError(t, s.Stop())

	require.Len(t, got, 1)
	r, c := got[0].Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 2, c)
	want := [][]float64{{0.1, 0.2}, {0.3, 0.4}}
	for i, row := range stream.Rows(got[0]) {
		assert.InDeltaSlice(t, want[i], row, 1e-6)
	}
}

func TestAudioInNormalizesEachFrame(t *testing.T) {
	s, h := newTestStream(2, 2)
	var got *mat.Dense
	s.OnDataReadyEvent(func(m *mat.Dense) { got = m })
	s.UseNormalizer(stream.Vectorwise(func(v []float64) []float64 {
		return []float64{v[0] + v[1]}
	}))

	require.NoError(t, s.Start())
	h.callback([]float32{1, 2, 3, 4})
	require.NoError(t, s.Stop())

	require.NotNil(t, got)
	assert.Equal(t, [][]float64{{3}, {7}}, stream.Rows(got))
}

func TestAudioInIgnoredWhenStopped(t *testing.T) {
	s, h := newTestStream(2, 1)
	calls := 0
	s.OnDataReadyEvent(func(*mat.Dense) { calls++ })

	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	h.callback([]float32{0.5, 0.5})

	assert.Zero(t, calls)
	assert.Zero(t, s.Stats().Dispatched)
}

func TestAudioInDuringStartIsDispatched(t *testing.T) {
	s, h := newTestStream(2, 1)
	h.onStart = []float32{0.25, 0.75}
	var got [][]float64
	s.OnDataReadyEvent(func(m *mat.Dense) { got = append(got, stream.Rows(m)...) })

	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())

	assert.Equal(t, [][]float64{{0.25}, {0.75}}, got)
	assert.Equal(t, uint64(1), s.Stats().Dispatched)
	assert.Zero(t, s.Stats().Discarded)
}

func TestAudioInTrailingSamplesDiscarded(t *testing.T) {
	s, h := newTestStream(2, 2)
	var got [][]float64
	s.OnDataReadyEvent(func(m *mat.Dense) { got = append(got, stream.Rows(m)...) })

	require.NoError(t, s.Start())
	h.callback([]float32{1, 2, 3, 4, 5})
	h.callback([]float32{6})
	require.NoError(t, s.Stop())

	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, got)
	assert.Equal(t, uint64(1), s.Stats().Dispatched)
	assert.Equal(t, uint64(2), s.Stats().Discarded)
}

func TestAudioInMismatchedNormalizerDiscards(t *testing.T) {
	s, h := newTestStream(2, 1)
	calls := 0
	s.OnDataReadyEvent(func(*mat.Dense) { calls++ })
	s.UseNormalizer(stream.Vectorwise(func(v []float64) []float64 {
		if v[0] > 0 {
			return []float64{v[0], v[0]}
		}
		return v
	}))

	require.NoError(t, s.Start())
	h.callback([]float32{1, -1})
	require.NoError(t, s.Stop())

	assert.Zero(t, calls)
	assert.Equal(t, uint64(1), s.Stats().Discarded)
}

func TestAudioStartOpenFailure(t *testing.T) {
	s, h := newTestStream(2, 1)
	h.openErr = errors.New("no such device")

	err := s.Start()
	assert.True(t, errors.Is(err, stream.ErrDevice))
	assert.False(t, s.HasStarted())
}

func TestAudioStartFailureClosesStream(t *testing.T) {
	s, h := newTestStream(2, 1)
	h.startErr = errors.New("device busy")

	err := s.Start()
	assert.True(t, errors.Is(err, stream.ErrDevice))
	assert.False(t, s.HasStarted())
	assert.Equal(t, 1, h.closed)
}

func TestAudioLifecycle(t *testing.T) {
	s, h := newTestStream(0, 0)

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.Equal(t, 1, h.started)
	assert.Equal(t, DefaultBufferSize, h.opened.BufferSize)
	assert.Equal(t, DefaultChannels, h.opened.Channels)

	require.NoError(t, s.Close())
	require.NoError(t, s.Stop())
	assert.Equal(t, 1, h.stopped)
	assert.Equal(t, 1, h.closed)
	assert.Equal(t, 1, h.terminated)
}

func TestListDevices(t *testing.T) {
	devices, err := ListDevices()
	if err != nil {
		t.Skipf("PortAudio unavailable: %v", err)
	}
	for _, d := range devices {
		assert.NotEmpty(t, d.Name)
	}
}
