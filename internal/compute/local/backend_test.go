package local

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/compute-sessions/internal/kernel"
	"github.com/AltairaLabs/compute-sessions/internal/kernel/language/mock"
	"github.com/AltairaLabs/compute-sessions/internal/types"
)

// TestHelperProcess is not a real test. It runs a mock kernel when invoked
// as a subprocess by the backend under test.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := kernel.New(mock.NewProvider("mock"), os.Stdin, os.Stdout, logger).Serve(context.Background(), interrupts); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b := New(Config{
		Command: []string{os.Args[0], "-test.run=TestHelperProcess", "--"},
		WorkDir: t.TempDir(),
		Env:     []string{"GO_WANT_HELPER_PROCESS=1"},
	})
	t.Cleanup(b.Close)
	return b
}

func collect(t *testing.T, frames <-chan types.Frame, until types.FrameKind) []types.Frame {
	t.Helper()
	var out []types.Frame
	timeout := time.After(10 * time.Second)
	for {
		select {
		case f, ok := <-frames:
			require.True(t, ok, "frames closed early")
			out = append(out, f)
			if f.Kind == until {
				return out
			}
		case <-timeout:
			t.Fatalf("no %s frame", until)
		}
	}
}

func TestSpawnDispatchFrames(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	h, err := b.Spawn(ctx, types.SpawnRequest{SessionID: 3})
	require.NoError(t, err)
	require.True(t, h.Spawned())
	assert.DirExists(t, h.Path)

	frames, err := b.Frames(ctx, h)
	require.NoError(t, err)

	require.NoError(t, b.Dispatch(ctx, h, []types.CellRequest{{ExecID: 0, Code: "x"}}))
	got := collect(t, frames, types.FrameReady)

	require.Len(t, got, 4)
	assert.Equal(t, types.FrameStart, got[0].Kind)
	assert.Equal(t, "mock output for: x", got[1].Payload)
	assert.Equal(t, types.FrameDone, got[2].Kind)
}

func TestInterruptAndKill(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	h, err := b.Spawn(ctx, types.SpawnRequest{SessionID: 1})
	require.NoError(t, err)
	frames, err := b.Frames(ctx, h)
	require.NoError(t, err)

	require.NoError(t, b.Dispatch(ctx, h, []types.CellRequest{{ExecID: 0, Code: mock.DirectiveBlock}}))
	collect(t, frames, types.FrameStart)

	require.NoError(t, b.Signal(ctx, h, types.SignalInterrupt))
	got := collect(t, frames, types.FrameReady)
	assert.Contains(t, got[len(got)-2].Payload, kernel.StatusInterrupted)

	require.NoError(t, b.Signal(ctx, h, types.SignalKill))
	select {
	case _, ok := <-frames:
		assert.False(t, ok)
	case <-time.After(10 * time.Second):
		t.Fatal("frames not closed after kill")
	}

	assert.ErrorIs(t, b.Dispatch(ctx, h, nil), ErrUnknownProcess)
}

func TestCancelledFramesStillReaped(t *testing.T) {
	b := newTestBackend(t)

	h, err := b.Spawn(context.Background(), types.SpawnRequest{SessionID: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	frames, err := b.Frames(ctx, h)
	require.NoError(t, err)

	// far more output than the frame buffer holds
	code := mock.DirectiveLinesPrefix + strings.Repeat("line\n", 4*frameBuffer)
	require.NoError(t, b.Dispatch(context.Background(), h, []types.CellRequest{{ExecID: 0, Code: code}}))
	collect(t, frames, types.FrameStdout)

	cancel()
	timeout := time.After(10 * time.Second)
	for open := true; open; {
		select {
		case _, open = <-frames:
		case <-timeout:
			t.Fatal("frames not closed after cancel")
		}
	}

	require.NoError(t, b.Signal(context.Background(), h, types.SignalKill))
	assert.Eventually(t, func() bool {
		_, err := b.lookup(h)
		return errors.Is(err, ErrUnknownProcess)
	}, 10*time.Second, 10*time.Millisecond, "kernel was not reaped")
}

func TestSpawnFailure(t *testing.T) {
	b := New(Config{Command: []string{"/nonexistent/kernel"}, WorkDir: t.TempDir()})
	h, err := b.Spawn(context.Background(), types.SpawnRequest{})
	assert.Error(t, err)
	assert.False(t, h.Spawned())

	b = New(Config{WorkDir: t.TempDir()})
	h, err = b.Spawn(context.Background(), types.SpawnRequest{})
	assert.Error(t, err)
	assert.False(t, h.Spawned())
}

func TestUnknownHandle(t *testing.T) {
	b := New(Config{Command: []string{"true"}})
	ctx := context.Background()
	h := types.Handle{PID: 999999}

	assert.ErrorIs(t, b.Dispatch(ctx, h, nil), ErrUnknownProcess)
	assert.ErrorIs(t, b.Signal(ctx, h, types.SignalKill), ErrUnknownProcess)
	_, err := b.Frames(ctx, h)
	assert.ErrorIs(t, err, ErrUnknownProcess)
}
