// Package output batches raw output writes from a running computation into
// discrete flushed chunks under a size/time policy.
//
// A Batcher is owned by a single goroutine (the session's reader loop) and is
// not safe for concurrent use. Each exec_id gets its own Batcher per stream.
package output

import (
	"time"

	"github.com/AltairaLabs/compute-sessions/internal/coordinator/config"
)

// Chunk is one flushed unit of output
type Chunk struct {
	Data []byte
	// First is set on the first chunk a batcher emits
	First bool
}

// Sink receives flushed chunks
type Sink func(Chunk)

// Config holds the flush thresholds
type Config struct {
	FlushSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns the default thresholds (8192 bytes, 100ms)
func DefaultConfig() Config {
	return Config{
		FlushSize:     config.DefaultFlushSize,
		FlushInterval: config.DefaultFlushInterval,
	}
}

// Option configures a Batcher
type Option func(*Batcher)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(b *Batcher) {
		b.now = now
	}
}

// Batcher accumulates writes and flushes them to a sink
type Batcher struct {
	sink          Sink
	flushSize     int
	flushInterval time.Duration
	now           func() time.Time

	buf           []byte
	lastFlushTime time.Time
	awaitingFirst bool
	emitted       bool
}

// New creates a batcher. Non-positive thresholds fall back to the defaults.
func New(cfg Config, sink Sink, opts ...Option) *Batcher {
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = config.DefaultFlushSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = config.DefaultFlushInterval
	}

	b := &Batcher{
		sink:          sink,
		flushSize:     cfg.FlushSize,
		flushInterval: cfg.FlushInterval,
		now:           time.Now,
		awaitingFirst: true,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastFlushTime = b.now()
	return b
}

// Write buffers p. The first write after construction is gated on size only;
// later writes flush on size or on elapsed time since the last flush.
func (b *Batcher) Write(p []byte) (int, error) {
	if b.awaitingFirst {
		b.awaitingFirst = false
		return b.WriteSizeGated(p)
	}

	b.buf = append(b.buf, p...)
	if len(b.buf) >= b.flushSize || b.now().Sub(b.lastFlushTime) >= b.flushInterval {
		b.Flush()
	}
	return len(p), nil
}

// WriteSizeGated buffers p and flushes only once flushSize bytes are pending
func (b *Batcher) WriteSizeGated(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if len(b.buf) >= b.flushSize {
		b.Flush()
	}
	return len(p), nil
}

// Flush hands the whole buffer to the sink and resets both watermarks.
// Flushing an empty buffer does nothing.
func (b *Batcher) Flush() {
	if len(b.buf) == 0 {
		return
	}

	data := b.buf
	b.buf = nil
	b.lastFlushTime = b.now()

	first := !b.emitted
	b.emitted = true
	b.sink(Chunk{Data: data, First: first})
}

// Due reports whether buffered data has waited at least the flush interval
func (b *Batcher) Due() bool {
	return len(b.buf) > 0 && b.now().Sub(b.lastFlushTime) >= b.flushInterval
}

// Pending returns the number of buffered bytes
func (b *Batcher) Pending() int {
	return len(b.buf)
}
