package output

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBatcher(size int, interval time.Duration) (*Batcher, *[]Chunk, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	var chunks []Chunk
	b := New(Config{FlushSize: size, FlushInterval: interval}, func(c Chunk) {
		chunks = append(chunks, c)
	}, WithClock(clock.now))
	return b, &chunks, clock
}

func TestBatcherFlushesOnceOnSizeThreshold(t *testing.T) {
	b, chunks, _ := newTestBatcher(10, time.Second)

	n, err := b.Write([]byte("abcdefghijkl"))
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	require.Len(t, *chunks, 1)
	assert.Equal(t, "abcdefghijkl", string((*chunks)[0].Data))
	assert.True(t, (*chunks)[0].First)
	assert.Equal(t, 0, b.Pending())
}

func TestBatcherHoldsBelowThresholds(t *testing.T) {
	b, chunks, clock := newTestBatcher(10, time.Second)

	_, _ = b.Write([]byte("abc"))
	clock.advance(100 * time.Millisecond)
	_, _ = b.Write([]byte("def"))
	clock.advance(100 * time.Millisecond)
	_, _ = b.Write([]byte("ghi"))

	assert.Empty(t, *chunks)
	assert.Equal(t, 9, b.Pending())

	_, _ = b.Write([]byte("j"))
	require.Len(t, *chunks, 1)
	assert.Equal(t, "abcdefghij", string((*chunks)[0].Data))
}

func TestBatcherFlushesOnInterval(t *testing.T) {
	b, chunks, clock := newTestBatcher(100, 100*time.Millisecond)

	_, _ = b.Write([]byte("a"))
	assert.Empty(t, *chunks)

	clock.advance(150 * time.Millisecond)
	_, _ = b.Write([]byte("b"))

	require.Len(t, *chunks, 1)
	assert.Equal(t, "ab", string((*chunks)[0].Data))
}

func TestBatcherFirstWriteIsSizeGatedOnly(t *testing.T) {
	b, chunks, clock := newTestBatcher(100, 100*time.Millisecond)

	// the time watermark is already stale, but the first write ignores it
	clock.advance(time.Second)
	_, _ = b.Write([]byte("hello"))
	assert.Empty(t, *chunks)

	// the second write honours the interval
	_, _ = b.Write([]byte(" world"))
	require.Len(t, *chunks, 1)
	assert.Equal(t, "hello world", string((*chunks)[0].Data))
}

func TestBatcherWriteSizeGated(t *testing.T) {
	b, chunks, clock := newTestBatcher(4, 10*time.Millisecond)
	_, _ = b.Write([]byte("x"))

	clock.advance(time.Second)
	_, _ = b.WriteSizeGated([]byte("y"))
	assert.Empty(t, *chunks)

	_, _ = b.WriteSizeGated([]byte("zw"))
	require.Len(t, *chunks, 1)
	assert.Equal(t, "xyzw", string((*chunks)[0].Data))
}

func TestBatcherFlushEmptyIsNoop(t *testing.T) {
	b, chunks, _ := newTestBatcher(10, time.Second)

	b.Flush()
	b.Flush()
	assert.Empty(t, *chunks)
}

func TestBatcherFlushResetsWatermarks(t *testing.T) {
	b, chunks, clock := newTestBatcher(10, 100*time.Millisecond)

	_, _ = b.Write([]byte("abc"))
	clock.advance(50 * time.Millisecond)
	b.Flush()
	require.Len(t, *chunks, 1)

	// the interval restarts from the explicit flush
	clock.advance(60 * time.Millisecond)
	_, _ = b.Write([]byte("d"))
	assert.Len(t, *chunks, 1)

	clock.advance(50 * time.Millisecond)
	_, _ = b.Write([]byte("e"))
	require.Len(t, *chunks, 2)
	assert.Equal(t, "de", string((*chunks)[1].Data))
	assert.False(t, (*chunks)[1].First)
}

func TestBatcherDue(t *testing.T) {
	b, _, clock := newTestBatcher(10, 100*time.Millisecond)
	assert.False(t, b.Due(), "empty buffer is never due")

	_, _ = b.Write([]byte("a"))
	assert.False(t, b.Due())

	clock.advance(100 * time.Millisecond)
	assert.True(t, b.Due())
}

func TestNewAppliesDefaults(t *testing.T) {
	b := New(Config{}, func(Chunk) {})
	assert.Equal(t, DefaultConfig().FlushSize, b.flushSize)
	assert.Equal(t, DefaultConfig().FlushInterval, b.flushInterval)
}
