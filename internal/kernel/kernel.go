// Package kernel is the compute-process side of a session. It reads cell
// batches from its input, evaluates them with a language provider and writes
// frames to its output.
package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/AltairaLabs/compute-sessions/internal/compute/wire"
	"github.com/AltairaLabs/compute-sessions/internal/kernel/language"
	"github.com/AltairaLabs/compute-sessions/internal/types"
)

// Cell outcomes carried in the done frame
const (
	StatusOK          = "ok"
	StatusError       = "error"
	StatusInterrupted = "interrupted"
)

// DoneReport is the payload of a done frame
type DoneReport struct {
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Kernel evaluates dispatched cells one at a time
type Kernel struct {
	provider language.Provider
	dec      *wire.Decoder
	enc      *wire.Encoder
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a kernel reading batches from in and writing frames to out
func New(provider language.Provider, in io.Reader, out io.Writer, logger *slog.Logger) *Kernel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Kernel{
		provider: provider,
		dec:      wire.NewDecoder(in),
		enc:      wire.NewEncoder(out),
		logger:   logger,
	}
}

type decoded struct {
	batch types.Batch
	err   error
}

// Serve runs batches until the input ends or ctx is cancelled. Every value on
// interrupts abandons the cell that is running at that moment, if any.
func (k *Kernel) Serve(ctx context.Context, interrupts <-chan os.Signal) error {
	batches := make(chan decoded)
	go func() {
		defer close(batches)
		for {
			var b types.Batch
			err := k.dec.Decode(&b)
			select {
			case batches <- decoded{batch: b, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-interrupts:
				if !ok {
					return
				}
				k.interrupt()
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-batches:
			if !ok {
				return nil
			}
			if errors.Is(d.err, io.EOF) {
				k.logger.Info("Input closed, kernel exiting")
				return nil
			}
			if d.err != nil {
				return fmt.Errorf("failed to read batch: %w", d.err)
			}
			if err := k.runBatch(ctx, d.batch); err != nil {
				return err
			}
		}
	}
}

func (k *Kernel) runBatch(ctx context.Context, batch types.Batch) error {
	k.logger.Debug("Batch received", "cells", len(batch.Cells))
	for _, cell := range batch.Cells {
		if err := k.runCell(ctx, cell); err != nil {
			return err
		}
	}
	return k.emit(types.Frame{ExecID: types.NoExecID, Kind: types.FrameReady})
}

func (k *Kernel) runCell(ctx context.Context, cell types.CellRequest) error {
	cellCtx, cancel := context.WithCancel(ctx)
	k.mu.Lock()
	k.cancel = cancel
	k.mu.Unlock()
	defer func() {
		k.mu.Lock()
		k.cancel = nil
		k.mu.Unlock()
		cancel()
	}()

	if err := k.emit(types.Frame{ExecID: cell.ExecID, Kind: types.FrameStart}); err != nil {
		return err
	}

	stdout := &frameWriter{k: k, execID: cell.ExecID, kind: types.FrameStdout}
	stderr := &frameWriter{k: k, execID: cell.ExecID, kind: types.FrameStderr}

	res, err := k.provider.Execute(cellCtx, &language.ExecuteRequest{Code: cell.Code, Stdout: stdout, Stderr: stderr})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		_ = k.emitDone(cell.ExecID, DoneReport{Status: StatusError, ExitCode: 1, Error: err.Error()})
		return fmt.Errorf("%s provider failed: %w", k.provider.Name(), err)
	}

	report := DoneReport{Status: StatusOK, ExitCode: res.ExitCode, DurationMS: res.Duration.Milliseconds()}
	switch {
	case cellCtx.Err() != nil && ctx.Err() == nil:
		_, _ = io.WriteString(stderr, "interrupted\n")
		report.Status = StatusInterrupted
	case res.Failed():
		report.Status = StatusError
	}
	if res.Error != nil {
		report.Error = res.Error.Error()
		if report.Status != StatusInterrupted && !stderr.wrote {
			_, _ = fmt.Fprintf(stderr, "%v\n", res.Error)
		}
	}
	k.logger.Debug("Cell finished", "exec_id", cell.ExecID, "status", report.Status)
	return k.emitDone(cell.ExecID, report)
}

func (k *Kernel) interrupt() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel == nil {
		k.logger.Debug("Interrupt with no running cell")
		return
	}
	k.logger.Info("Interrupting running cell")
	k.cancel()
}

func (k *Kernel) emitDone(execID int, report DoneReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode done report: %w", err)
	}
	return k.emit(types.Frame{ExecID: execID, Kind: types.FrameDone, Payload: string(payload)})
}

func (k *Kernel) emit(f types.Frame) error {
	if err := k.enc.Encode(f); err != nil {
		return fmt.Errorf("failed to emit %s frame: %w", f.Kind, err)
	}
	return nil
}

// frameWriter turns each write into one output frame
type frameWriter struct {
	k      *Kernel
	execID int
	kind   types.FrameKind
	wrote  bool
}

func (w *frameWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := w.k.emit(types.Frame{ExecID: w.execID, Kind: w.kind, Payload: string(p)}); err != nil {
		return 0, err
	}
	w.wrote = true
	return len(p), nil
}
