package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/AltairaLabs/compute-sessions/internal/broadcast"
	"github.com/AltairaLabs/compute-sessions/internal/output"
	"github.com/AltairaLabs/compute-sessions/internal/types"
)

// cellStreams holds the batchers of one executing cell
type cellStreams struct {
	stdout *output.Batcher
	stderr *output.Batcher
}

// frameHandler turns frames from one process into stored output messages and
// broadcasts. It is owned by the session's read loop goroutine.
type frameHandler struct {
	o       *Orchestrator
	id      int
	router  *broadcast.Router
	logger  *slog.Logger
	streams map[int]*cellStreams
}

// readLoop consumes one session's frames until the process exits or the
// session is torn down
func (o *Orchestrator) readLoop(ctx context.Context, id int, e *sessionEntry, frames <-chan types.Frame) {
	defer close(e.done)

	h := &frameHandler{
		o:       o,
		id:      id,
		router:  e.router,
		logger:  o.logger.With("session_id", id),
		streams: make(map[int]*cellStreams),
	}

	ticker := time.NewTicker(o.opts.Output.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.flushAll(false)
			return

		case f, ok := <-frames:
			if !ok {
				h.flushAll(true)
				e.mu.Lock()
				o.markDeadLocked(context.WithoutCancel(ctx), id, e, "process exited")
				e.mu.Unlock()
				return
			}
			e.mu.Lock()
			e.lastActivity = o.opts.Now()
			e.mu.Unlock()
			h.handle(ctx, f)

		case <-ticker.C:
			h.flushDue()
		}
	}
}

func (h *frameHandler) handle(ctx context.Context, f types.Frame) {
	if !f.Valid() {
		h.logger.Warn("Dropping invalid frame", "exec_id", f.ExecID, "kind", f.Kind)
		return
	}
	h.logger.Debug("Frame received", "exec_id", f.ExecID, "kind", f.Kind, "bytes", len(f.Payload))

	switch f.Kind {
	case types.FrameStart:
		h.flushCell(f.ExecID)
		h.streams[f.ExecID] = h.newStreams(ctx, f.ExecID)
		h.router.Broadcast(broadcast.Message{Kind: broadcast.KindStart, Selector: selector(f.ExecID)})

	case types.FrameStdout:
		_, _ = h.cell(ctx, f.ExecID).stdout.Write([]byte(f.Payload))

	case types.FrameStderr:
		_, _ = h.cell(ctx, f.ExecID).stderr.Write([]byte(f.Payload))

	case types.FrameDone:
		h.flushCell(f.ExecID)
		delete(h.streams, f.ExecID)
		h.store(ctx, f.ExecID, OutputMessage{Kind: OutputOther, Payload: f.Payload, Done: true})
		h.router.Broadcast(broadcast.Message{Kind: broadcast.KindDone, Selector: selector(f.ExecID), Payload: f.Payload})

	case types.FrameReady:
		h.flushAll(false)
		_, err := h.o.OnProcessReady(ctx, h.id)
		if err != nil && !errors.Is(err, ErrProtocolViolation) && !errors.Is(err, ErrDead) {
			h.logger.Error("Failed to handle ready signal", "error", err)
		}
	}
}

// cell returns the streams of execID, creating them for output that arrives
// without a start frame
func (h *frameHandler) cell(ctx context.Context, execID int) *cellStreams {
	cs, ok := h.streams[execID]
	if !ok {
		cs = h.newStreams(ctx, execID)
		h.streams[execID] = cs
	}
	return cs
}

func (h *frameHandler) newStreams(ctx context.Context, execID int) *cellStreams {
	cfg := h.o.opts.Output
	clock := output.WithClock(h.o.opts.Now)
	return &cellStreams{
		stdout: output.New(cfg, h.sink(ctx, execID, OutputStdout, broadcast.KindStdout), clock),
		stderr: output.New(cfg, h.sink(ctx, execID, OutputStderr, broadcast.KindStderr), clock),
	}
}

func (h *frameHandler) sink(ctx context.Context, execID int, kind OutputKind, msgKind broadcast.Kind) output.Sink {
	return func(c output.Chunk) {
		payload := string(c.Data)
		h.store(ctx, execID, OutputMessage{Kind: kind, Payload: payload})
		h.router.Broadcast(broadcast.Message{
			Kind:     msgKind,
			Selector: selector(execID),
			Payload:  payload,
			First:    c.First,
		})
	}
}

func (h *frameHandler) store(ctx context.Context, execID int, msg OutputMessage) {
	if ctx.Err() != nil {
		return
	}
	if _, err := h.o.store.AppendOutput(ctx, h.id, execID, msg); err != nil {
		h.logger.Error("Failed to store output", "exec_id", execID, "kind", msg.Kind, "error", err)
	}
}

func (h *frameHandler) flushCell(execID int) {
	if cs, ok := h.streams[execID]; ok {
		cs.stdout.Flush()
		cs.stderr.Flush()
	}
}

// flushAll flushes every open cell. With terminate set, each cell also gets
// its done message since no more frames will arrive for it.
func (h *frameHandler) flushAll(terminate bool) {
	for execID, cs := range h.streams {
		cs.stdout.Flush()
		cs.stderr.Flush()
		if terminate {
			h.store(context.Background(), execID, OutputMessage{Kind: OutputOther, Done: true})
			h.router.Broadcast(broadcast.Message{Kind: broadcast.KindDone, Selector: selector(execID)})
			delete(h.streams, execID)
		}
	}
}

func (h *frameHandler) flushDue() {
	for _, cs := range h.streams {
		if cs.stdout.Due() {
			cs.stdout.Flush()
		}
		if cs.stderr.Due() {
			cs.stderr.Flush()
		}
	}
}

func selector(execID int) string {
	return strconv.Itoa(execID)
}
