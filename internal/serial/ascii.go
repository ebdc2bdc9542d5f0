package serial

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/petems/signal-tray/internal/stream"
)

// DefaultDelimiter terminates each ASCII line.
const DefaultDelimiter = "\n"

// maxLineLength bounds a line that never sees its delimiter.
const maxLineLength = 1024

type lineDecoder struct {
	delim   []byte
	pending []byte
}

func (d *lineDecoder) Feed(p []byte, emit func([]float64), discard func(error)) {
	d.pending = append(d.pending, p...)
	start := 0
	for {
		i := bytes.Index(d.pending[start:], d.delim)
		if i < 0 {
			break
		}
		line := d.pending[start : start+i]
		start += i + len(d.delim)

		v, err := parseLine(string(line))
		if err != nil {
			discard(err)
			continue
		}
		emit(v)
	}
	d.pending = append(d.pending[:0], d.pending[start:]...)
	if len(d.pending) > maxLineLength {
		discard(fmt.Errorf("%w: line exceeds %d bytes", stream.ErrFrame, maxLineLength))
		d.pending = d.pending[:0]
	}
}

func (d *lineDecoder) Flush(_ func([]float64), discard func(error)) {
	if len(d.pending) > 0 {
		discard(fmt.Errorf("%w: unterminated line %q", stream.ErrFrame, d.pending))
	}
	d.pending = d.pending[:0]
}

func isSeparator(r rune) bool {
	return r == ',' || r == ';' || unicode.IsSpace(r)
}

// parseLine reads a line of numbers separated by commas, semicolons or
// whitespace. Any token that is not a number rejects the whole line.
func parseLine(line string) ([]float64, error) {
	fields := strings.FieldsFunc(line, isSeparator)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty line", stream.ErrFrame)
	}
	v := make([]float64, len(fields))
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", stream.ErrFrame, f)
		}
		v[i] = x
	}
	return v, nil
}

// ASCIIStream reads delimiter-terminated lines of numbers from a serial
// device and dispatches one 1xN matrix per line. Analog pins do not apply.
type ASCIIStream struct {
	portSource
}

// NewASCIIStream creates a stopped ASCII-framed source at cfg.Baud.
func NewASCIIStream(cfg Config) *ASCIIStream {
	cfg.setDefaults(DefaultBaud)
	if cfg.Delimiter == "" {
		cfg.Delimiter = DefaultDelimiter
	}
	s := &ASCIIStream{}
	s.setup("serial-ascii", cfg, &lineDecoder{delim: []byte(cfg.Delimiter)})
	return s
}

var _ stream.Stream = (*ASCIIStream)(nil)
