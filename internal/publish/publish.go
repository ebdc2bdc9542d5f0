// Package publish republishes sample blocks on a ZeroMQ PUB socket so that
// other processes can watch a capture live.
//
// Each block is one two-frame message: an 8-byte header holding the row and
// column counts as little-endian uint32, then rows*cols little-endian
// float64 values in row-major order.
package publish

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	zmq "github.com/pebbe/zmq4"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

const headerSize = 8

// Publisher owns one bound PUB socket.
type Publisher struct {
	log      zerolog.Logger
	endpoint string

	mu     sync.Mutex
	socket *zmq.Socket

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// New binds a PUB socket on endpoint, e.g. "tcp://127.0.0.1:5600".
func New(endpoint string, log zerolog.Logger) (*Publisher, error) {
	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger: %w", err)
	}
	if err := socket.Bind(endpoint); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to bind %s: %w", endpoint, err)
	}
	log.Info().Str("endpoint", endpoint).Msg("Publishing blocks")
	return &Publisher{log: log, endpoint: endpoint, socket: socket}, nil
}

// Publish sends m without blocking. A block that cannot be queued is
// dropped and the send error returned.
func (p *Publisher) Publish(m *mat.Dense) error {
	header, payload := encode(m)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.socket == nil {
		return fmt.Errorf("publisher on %s is closed", p.endpoint)
	}
	if _, err := p.socket.SendMessageDontwait(header, payload); err != nil {
		p.dropped.Add(1)
		return fmt.Errorf("failed to publish block: %w", err)
	}
	p.sent.Add(1)
	return nil
}

// Counts returns the number of blocks sent and dropped.
func (p *Publisher) Counts() (sent, dropped uint64) {
	return p.sent.Load(), p.dropped.Load()
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.socket == nil {
		return nil
	}
	err := p.socket.Close()
	p.socket = nil
	sent, dropped := p.sent.Load(), p.dropped.Load()
	p.log.Info().Uint64("sent", sent).Uint64("dropped", dropped).Msg("Publisher closed")
	return err
}

func encode(m *mat.Dense) (header, payload []byte) {
	r, c := m.Dims()
	header = make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:], uint32(r))
	binary.LittleEndian.PutUint32(header[4:], uint32(c))

	payload = make([]byte, 0, r*c*8)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			payload = binary.LittleEndian.AppendUint64(payload, math.Float64bits(m.At(i, j)))
		}
	}
	return header, payload
}

// Decode parses one published message back into a matrix.
func Decode(header, payload []byte) (*mat.Dense, error) {
	if len(header) != headerSize {
		return nil, fmt.Errorf("header is %d bytes, want %d", len(header), headerSize)
	}
	r := int(binary.LittleEndian.Uint32(header[0:]))
	c := int(binary.LittleEndian.Uint32(header[4:]))
	if r == 0 || c == 0 {
		return nil, fmt.Errorf("empty block %dx%d", r, c)
	}
	// Compare by division; r*c can overflow for hostile headers.
	cells := len(payload) / 8
	if len(payload)%8 != 0 || cells%c != 0 || cells/c != r {
		return nil, fmt.Errorf("payload is %d bytes, does not hold a %dx%d block", len(payload), r, c)
	}
	data := make([]float64, cells)
	for i := range data {
		data[i] = math.Float64frombits(binary.LittleEndian.Uint64(payload[i*8:]))
	}
	return mat.NewDense(r, c, data), nil
}
