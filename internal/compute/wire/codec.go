// Package wire implements the framing used on the pipe between a compute
// backend and a kernel process: one JSON document per message, each
// terminated by a NUL byte.
package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Delimiter terminates every message
const Delimiter byte = 0

// Encoder writes NUL-terminated JSON messages. It is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder creates an encoder writing to w
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes v as a single message
func (e *Encoder) Encode(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if bytes.IndexByte(data, Delimiter) >= 0 {
		// encoding/json escapes control characters, so this cannot happen for valid input
		return errors.New("encoded message contains delimiter")
	}
	data = append(data, Delimiter)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Decoder reads NUL-terminated JSON messages
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder creates a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode reads the next message into v. It returns io.EOF at a clean end of
// stream and io.ErrUnexpectedEOF when the stream ends mid-message.
func (d *Decoder) Decode(v interface{}) error {
	for {
		data, err := d.r.ReadBytes(Delimiter)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(bytes.TrimSpace(data)) > 0 {
					return io.ErrUnexpectedEOF
				}
				return io.EOF
			}
			return fmt.Errorf("failed to read message: %w", err)
		}

		data = bytes.TrimSpace(data[:len(data)-1])
		if len(data) == 0 {
			continue
		}
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to decode message: %w", err)
		}
		return nil
	}
}
