package app

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/petems/signal-tray/internal/config"
	"github.com/petems/signal-tray/internal/stream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// Mock implementations for testing
type mockSource struct {
	stream.Base
	name     string
	startErr error
	usbPort  int
	closed   int
}

func newMockSource(name string) *mockSource {
	s := &mockSource{name: name, usbPort: -1}
	s.Init(name, zerolog.Nop())
	return s
}

func (m *mockSource) Start() error {
	return m.StartWith(func() error { return m.startErr })
}

func (m *mockSource) Stop() error {
	return m.StopWith(func() error { return nil })
}

func (m *mockSource) Close() error {
	m.closed++
	return m.Stop()
}

func (m *mockSource) UseUSBPort(i int) { m.usbPort = i }

// emit plays the acquisition goroutine's part.
func (m *mockSource) emit(rows ...[]float64) {
	block, err := stream.FromFrames(rows)
	if err != nil {
		panic(err)
	}
	m.Dispatch(block)
}

type mockStatus struct {
	mu   sync.Mutex
	last string
}

func (m *mockStatus) set(s string) {
	m.mu.Lock()
	m.last = s
	m.mu.Unlock()
}

func (m *mockStatus) SetIdle()      { m.set("idle") }
func (m *mockStatus) SetCapturing() { m.set("capturing") }
func (m *mockStatus) SetError()     { m.set("error") }

type mockPublisher struct {
	blocks [][][]float64
	err    error
	closed bool
}

func (m *mockPublisher) Publish(b *mat.Dense) error {
	m.blocks = append(m.blocks, stream.Rows(b))
	return m.err
}

func (m *mockPublisher) Close() error {
	m.closed = true
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(filepath.Join(t.TempDir(), "cfg"))
	require.NoError(t, err)
	return cfg
}

func newTestApp(t *testing.T) (*App, *mockSource, *mockStatus, *mockPublisher) {
	src := newMockSource("mock")
	status := &mockStatus{}
	pub := &mockPublisher{}
	a := New(Config{
		Source:        src,
		Publisher:     pub,
		Config:        testConfig(t),
		Logger:        zerolog.Nop(),
		StatusUpdater: status,
	})
	return a, src, status, pub
}

func TestToggle(t *testing.T) {
	a, src, status, _ := newTestApp(t)

	assert.False(t, a.IsCapturing())
	require.NoError(t, a.Toggle())
	assert.True(t, a.IsCapturing())
	assert.True(t, src.HasStarted())
	assert.Equal(t, "capturing", status.last)

	require.NoError(t, a.Toggle())
	assert.False(t, a.IsCapturing())
	assert.False(t, src.HasStarted())
	assert.Equal(t, "idle", status.last)
}

func TestStartFailureSetsError(t *testing.T) {
	a, src, status, _ := newTestApp(t)
	src.startErr = errors.New("no device")

	err := a.StartCapture()
	assert.Error(t, err)
	assert.False(t, a.IsCapturing())
	assert.Equal(t, "error", status.last)
}

func TestLatestAndPublish(t *testing.T) {
	a, src, _, pub := newTestApp(t)
	require.NoError(t, a.StartCapture())

	src.emit([]float64{1, 2}, []float64{3, 4})
	assert.Equal(t, []float64{3, 4}, a.Latest())
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, stream.Rows(a.LatestBlock()))
	assert.Equal(t, [][][]float64{{{1, 2}, {3, 4}}}, pub.blocks)

	src.emit([]float64{5, 6})
	assert.Equal(t, []float64{5, 6}, a.Latest())
}

func TestPublishErrorDoesNotReachSource(t *testing.T) {
	a, src, _, pub := newTestApp(t)
	pub.err = errors.New("EAGAIN")
	require.NoError(t, a.StartCapture())

	src.emit([]float64{1})
	assert.Equal(t, []float64{1}, a.Latest())
	assert.Zero(t, src.Stats().Errors)
	assert.Equal(t, uint64(1), src.Stats().Dispatched)
}

func TestLatestIsACopy(t *testing.T) {
	a, src, _, _ := newTestApp(t)
	require.NoError(t, a.StartCapture())

	block := mat.NewDense(1, 2, []float64{1, 2})
	src.Dispatch(block)
	block.Set(0, 0, 99)

	assert.Equal(t, []float64{1, 2}, a.Latest())
}

func TestStopClearsLatest(t *testing.T) {
	a, src, _, _ := newTestApp(t)
	require.NoError(t, a.StartCapture())
	src.emit([]float64{7})
	require.NotNil(t, a.Latest())

	require.NoError(t, a.StopCapture())
	assert.Nil(t, a.Latest())
	assert.Nil(t, a.LatestBlock())
	assert.Nil(t, a.Drain())
}

func TestDrain(t *testing.T) {
	a, src, _, _ := newTestApp(t)
	require.NoError(t, a.StartCapture())

	src.emit([]float64{1, 1})
	src.emit([]float64{2, 2}, []float64{3, 3})

	drained := a.Drain()
	require.NotNil(t, drained)
	assert.Equal(t, [][]float64{{1, 1}, {2, 2}, {3, 3}}, stream.Rows(drained))
	assert.Nil(t, a.Drain())
}

func TestRecording(t *testing.T) {
	a, src, _, _ := newTestApp(t)
	require.NoError(t, a.StartCapture())

	src.emit([]float64{0})
	require.NoError(t, a.StartRecording("3"))
	label, ok := a.IsRecording()
	assert.True(t, ok)
	assert.Equal(t, "3", label)
	assert.ErrorIs(t, a.StartRecording("4"), ErrRecording)

	src.emit([]float64{1})
	src.emit([]float64{2})
	seg, err := a.StopRecording()
	require.NoError(t, err)
	src.emit([]float64{3})

	assert.Equal(t, "3", seg.Label)
	assert.Equal(t, [][]float64{{1}, {2}}, stream.Rows(seg.Samples))
	require.Len(t, a.Segments(), 1)
	assert.Equal(t, "3", a.Segments()[0].Label)

	_, err = a.StopRecording()
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestEmptyRecording(t *testing.T) {
	a, _, _, _ := newTestApp(t)

	require.NoError(t, a.StartRecording("p"))
	_, err := a.StopRecording()
	assert.ErrorIs(t, err, stream.ErrFrame)
	assert.Empty(t, a.Segments())

	_, ok := a.IsRecording()
	assert.False(t, ok)
}

func TestSwapSourceRefusedWhileCapturing(t *testing.T) {
	a, src, _, _ := newTestApp(t)
	require.NoError(t, a.StartCapture())

	next := newMockSource("next")
	assert.ErrorIs(t, a.SwapSource(next), ErrCapturing)
	assert.Equal(t, "mock", a.SourceName())

	require.NoError(t, a.StopCapture())
	require.NoError(t, a.SwapSource(next))
	assert.Equal(t, "next", a.SourceName())
	assert.Equal(t, 1, src.closed)

	// The old source no longer reaches the app.
	src.emit([]float64{1})
	assert.Nil(t, a.Latest())

	require.NoError(t, a.StartCapture())
	next.emit([]float64{2})
	assert.Equal(t, []float64{2}, a.Latest())
}

func TestSetSourceKind(t *testing.T) {
	cfg := testConfig(t)
	var built []string
	a := New(Config{
		Source: newMockSource("audio"),
		Factory: func(c *config.Config) (stream.Stream, error) {
			if c.Source.Kind == "midi" {
				return nil, errors.New("unknown source")
			}
			built = append(built, c.Source.Kind)
			return newMockSource(c.Source.Kind), nil
		},
		Config: cfg,
		Logger: zerolog.Nop(),
	})

	require.NoError(t, a.SetSourceKind(config.SourceFirmata))
	assert.Equal(t, "firmata", a.SourceName())
	assert.Equal(t, []string{"firmata"}, built)

	assert.Error(t, a.SetSourceKind("midi"))
	assert.Equal(t, config.SourceFirmata, cfg.Source.Kind)

	reloaded, err := config.LoadFrom(filepath.Dir(cfg.Path()))
	require.NoError(t, err)
	assert.Equal(t, config.SourceFirmata, reloaded.Source.Kind)
}

func TestSetSerialPort(t *testing.T) {
	a, src, _, _ := newTestApp(t)
	a.cfg.Source.Kind = config.SourceFirmata

	require.NoError(t, a.SetSerialPort(2))
	assert.Equal(t, 2, src.usbPort)
	assert.Equal(t, 2, a.cfg.Firmata.Port)
	assert.Equal(t, 0, a.cfg.Serial.Port)

	require.NoError(t, a.StartCapture())
	assert.ErrorIs(t, a.SetSerialPort(1), ErrCapturing)
}

func TestShutdown(t *testing.T) {
	a, src, _, pub := newTestApp(t)
	require.NoError(t, a.StartCapture())

	require.NoError(t, a.Shutdown(t.Context()))
	assert.False(t, src.HasStarted())
	assert.Equal(t, 1, src.closed)
	assert.True(t, pub.closed)
}

func TestSetAudioDevice(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source.Kind = config.SourceAudio
	builds := 0
	a := New(Config{
		Source: newMockSource("audio"),
		Factory: func(c *config.Config) (stream.Stream, error) {
			builds++
			return newMockSource("audio-" + c.Audio.DeviceID), nil
		},
		Config: cfg,
		Logger: zerolog.Nop(),
	})

	require.NoError(t, a.SetAudioDevice("USB Mic"))
	assert.Equal(t, 1, builds)
	assert.Equal(t, "audio-USB Mic", a.SourceName())
	assert.Equal(t, "USB Mic", cfg.Audio.DeviceID)
}
