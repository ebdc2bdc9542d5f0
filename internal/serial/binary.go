package serial

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/petems/signal-tray/internal/stream"
)

// Binary frame layout:
//
//	0xA5 | n | n x uint16 little-endian | xor of the 2n payload bytes
//
// with 1 <= n <= MaxChannels.
const (
	frameSync   = 0xA5
	frameHeader = 2
	MaxChannels = 16
)

type frameDecoder struct {
	pending []byte
}

func frameSize(n int) int {
	return frameHeader + 2*n + 1
}

func checksum(payload []byte) byte {
	var c byte
	for _, b := range payload {
		c ^= b
	}
	return c
}

func (d *frameDecoder) Feed(p []byte, emit func([]float64), discard func(error)) {
	d.pending = append(d.pending, p...)
	start := 0
	for {
		buf := d.pending[start:]
		i := bytes.IndexByte(buf, frameSync)
		if i < 0 {
			if len(buf) > 0 {
				discard(fmt.Errorf("%w: %d bytes without sync", stream.ErrFrame, len(buf)))
			}
			start = len(d.pending)
			break
		}
		if i > 0 {
			discard(fmt.Errorf("%w: %d bytes before sync", stream.ErrFrame, i))
			start += i
			buf = buf[i:]
		}
		if len(buf) < frameHeader {
			break
		}
		n := int(buf[1])
		if n == 0 || n > MaxChannels {
			discard(fmt.Errorf("%w: bad channel count %d", stream.ErrFrame, n))
			start++
			continue
		}
		size := frameSize(n)
		if len(buf) < size {
			break
		}
		payload := buf[frameHeader : size-1]
		if checksum(payload) != buf[size-1] {
			// Resync on the next sync byte; this one may have been data.
			discard(fmt.Errorf("%w: checksum mismatch", stream.ErrFrame))
			start++
			continue
		}
		v := make([]float64, n)
		for k := range v {
			v[k] = float64(binary.LittleEndian.Uint16(payload[2*k:]))
		}
		start += size
		emit(v)
	}
	d.pending = append(d.pending[:0], d.pending[start:]...)
}

// Flush gives up on the frame at the head of pending. Its header may claim
// more bytes than ever arrived, so whatever follows the next sync byte is
// decoded again and only the bytes that still form no frame are dropped.
func (d *frameDecoder) Flush(emit func([]float64), discard func(error)) {
	for len(d.pending) > 0 {
		next := bytes.IndexByte(d.pending[1:], frameSync)
		if next < 0 {
			discard(fmt.Errorf("%w: truncated frame, %d bytes", stream.ErrFrame, len(d.pending)))
			d.pending = d.pending[:0]
			return
		}
		discard(fmt.Errorf("%w: truncated frame, %d bytes", stream.ErrFrame, next+1))
		d.pending = append(d.pending[:0], d.pending[next+1:]...)
		d.Feed(nil, emit, discard)
	}
}

// BinaryStream reads binary frames from a serial device and dispatches one
// 1xN matrix per frame.
type BinaryStream struct {
	portSource
	pin atomic.Int64
}

// NewBinaryStream creates a stopped binary-framed source. Baud defaults to
// 115200 and Pin is honoured as given, so pass -1 to keep every channel.
func NewBinaryStream(cfg Config) *BinaryStream {
	cfg.setDefaults(DefaultBaud)
	s := &BinaryStream{}
	s.setup("serial-binary", cfg, &frameDecoder{})
	s.pin.Store(int64(cfg.Pin))
	s.check = s.checkPin
	s.project = s.selectPin
	return s
}

// UseAnalogPin keeps only channel i of each frame; -1 keeps all of them.
func (s *BinaryStream) UseAnalogPin(i int) {
	s.pin.Store(int64(i))
}

func (s *BinaryStream) checkPin() error {
	if pin := s.pin.Load(); pin < -1 || pin >= MaxChannels {
		return fmt.Errorf("analog pin %d out of range [-1, %d)", pin, MaxChannels)
	}
	return nil
}

func (s *BinaryStream) selectPin(v []float64) ([]float64, error) {
	pin := int(s.pin.Load())
	if pin < 0 {
		return v, nil
	}
	if pin >= len(v) {
		return nil, fmt.Errorf("%w: pin %d not in %d-channel frame", stream.ErrFrame, pin, len(v))
	}
	return v[pin : pin+1], nil
}

var _ stream.Stream = (*BinaryStream)(nil)
