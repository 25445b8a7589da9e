// Package mock provides a scriptable in-memory compute backend for tests.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AltairaLabs/compute-sessions/internal/types"
)

// ErrUnknownProcess is returned for handles the backend did not spawn
var ErrUnknownProcess = types.ErrUnknownProcess

// DispatchCall records one Dispatch invocation
type DispatchCall struct {
	PID   int
	Cells []types.CellRequest
}

// SignalCall records one Signal invocation
type SignalCall struct {
	PID    int
	Signal types.Signal
}

type process struct {
	frames chan types.Frame
	closed bool
}

// Backend records dispatches and signals and lets tests inject frames
type Backend struct {
	mu        sync.Mutex
	nextPID   int
	procs     map[int]*process
	dispatch  []DispatchCall
	signals   []SignalCall
	inFlight  int
	maxFlight int

	// SpawnErr makes Spawn fail with this error
	SpawnErr error
	// SpawnFailedPID makes Spawn report the failed-spawn sentinel instead of an error
	SpawnFailedPID bool
	// DispatchErr makes Dispatch fail with this error
	DispatchErr error
	// DispatchDelay holds every Dispatch call for this long
	DispatchDelay time.Duration
	// DispatchGate, when set, blocks every Dispatch call until it yields
	DispatchGate chan struct{}
	// SignalErr makes Signal fail with this error
	SignalErr error
	// OnDispatch runs after a dispatch is recorded, outside the backend lock
	OnDispatch func(h types.Handle, cells []types.CellRequest)
}

// NewBackend creates a backend whose first process gets PID 100
func NewBackend() *Backend {
	return &Backend{
		nextPID: 100,
		procs:   make(map[int]*process),
	}
}

func (b *Backend) Spawn(ctx context.Context, req types.SpawnRequest) (types.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.SpawnErr != nil {
		return types.Handle{PID: types.FailedPID}, b.SpawnErr
	}
	if b.SpawnFailedPID {
		return types.Handle{PID: types.FailedPID}, nil
	}

	pid := b.nextPID
	b.nextPID++
	b.procs[pid] = &process{frames: make(chan types.Frame, 256)}
	return types.Handle{
		PID:      pid,
		Path:     fmt.Sprintf("/tmp/mock/%d", req.SessionID),
		Endpoint: fmt.Sprintf("mock://%d", pid),
	}, nil
}

func (b *Backend) Dispatch(ctx context.Context, h types.Handle, cells []types.CellRequest) error {
	b.mu.Lock()
	if _, ok := b.procs[h.PID]; !ok {
		b.mu.Unlock()
		return ErrUnknownProcess
	}
	batch := make([]types.CellRequest, len(cells))
	copy(batch, cells)
	b.dispatch = append(b.dispatch, DispatchCall{PID: h.PID, Cells: batch})
	b.inFlight++
	if b.inFlight > b.maxFlight {
		b.maxFlight = b.inFlight
	}
	err, delay, gate, hook := b.DispatchErr, b.DispatchDelay, b.DispatchGate, b.OnDispatch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.inFlight--
		b.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	if hook != nil {
		hook(h, batch)
	}
	return nil
}

func (b *Backend) Signal(ctx context.Context, h types.Handle, sig types.Signal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.signals = append(b.signals, SignalCall{PID: h.PID, Signal: sig})
	if b.SignalErr != nil {
		return b.SignalErr
	}
	p, ok := b.procs[h.PID]
	if !ok {
		return ErrUnknownProcess
	}
	if sig == types.SignalKill && !p.closed {
		p.closed = true
		close(p.frames)
	}
	return nil
}

func (b *Backend) Frames(ctx context.Context, h types.Handle) (<-chan types.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.procs[h.PID]
	if !ok {
		return nil, ErrUnknownProcess
	}
	return p.frames, nil
}

// Emit injects a frame as if the process had written it
func (b *Backend) Emit(pid int, f types.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.procs[pid]
	if !ok {
		return ErrUnknownProcess
	}
	if p.closed {
		return errors.New("process exited")
	}
	p.frames <- f
	return nil
}

// Exit closes the process's frame channel as if it had died
func (b *Backend) Exit(pid int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.procs[pid]; ok && !p.closed {
		p.closed = true
		close(p.frames)
	}
}

// Dispatches returns a copy of every recorded dispatch
func (b *Backend) Dispatches() []DispatchCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]DispatchCall, len(b.dispatch))
	copy(out, b.dispatch)
	return out
}

// Signals returns a copy of every recorded signal
func (b *Backend) Signals() []SignalCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SignalCall, len(b.signals))
	copy(out, b.signals)
	return out
}

// MaxConcurrentDispatches returns the highest number of dispatches seen in flight at once
func (b *Backend) MaxConcurrentDispatches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxFlight
}

// SetDispatchErr changes the dispatch failure for subsequent calls
func (b *Backend) SetDispatchErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.DispatchErr = err
}
