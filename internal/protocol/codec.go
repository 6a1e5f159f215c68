package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Buffer limits for a single framed message (64KB initial, 1MB max).
const (
	initialLineBuffer = 64 * 1024
	MaxMessageSize    = 1024 * 1024
)

// ErrMessageTooLarge is returned when an outbound message exceeds MaxMessageSize.
var ErrMessageTooLarge = errors.New("message exceeds maximum size")

// Encoder writes one JSON document per line. It is safe for concurrent use;
// each message is written with a single Write call.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals v and writes it followed by a newline.
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if len(data) >= MaxMessageSize {
		return ErrMessageTooLarge
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Decoder reads newline-delimited messages.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, initialLineBuffer)
	scanner.Buffer(buf, MaxMessageSize)
	return &Decoder{scanner: scanner}
}

// Next returns the next non-empty line. It returns io.EOF at the end of
// the stream. The returned slice is only valid until the next call.
func (d *Decoder) Next() ([]byte, error) {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	return nil, io.EOF
}
