// Package local runs kernel processes on this host and talks to them over
// their standard streams.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/AltairaLabs/compute-sessions/internal/compute/wire"
	"github.com/AltairaLabs/compute-sessions/internal/types"
)

const (
	workspacePerms = 0o750
	frameBuffer    = 64
)

var (
	// ErrUnknownProcess is returned for a handle this backend does not own
	ErrUnknownProcess = types.ErrUnknownProcess
	// ErrProcessExited is returned when dispatching to a process that has exited
	ErrProcessExited = errors.New("process exited")
)

// Config holds configuration for the local backend
type Config struct {
	// Command is the kernel executable and its arguments
	Command []string
	// WorkDir is the parent of the per-session workspaces
	WorkDir string
	// Env is appended to the coordinator's environment for every kernel
	Env    []string
	Logger *slog.Logger
}

type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	enc    *wire.Encoder
	frames chan types.Frame
	done   chan struct{}

	// stop is closed once nobody will read frames again
	stop     chan struct{}
	stopOnce sync.Once
}

// halt makes readFrames discard output so the kernel can still be reaped
func (p *process) halt() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Backend spawns kernel subprocesses
type Backend struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	procs map[int]*process
}

// New creates a local backend
func New(cfg Config) *Backend {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &Backend{
		cfg:    cfg,
		logger: cfg.Logger,
		procs:  make(map[int]*process),
	}
}

// Spawn starts a kernel in a workspace named after the session
func (b *Backend) Spawn(ctx context.Context, req types.SpawnRequest) (types.Handle, error) {
	failed := types.Handle{PID: types.FailedPID}
	if len(b.cfg.Command) == 0 {
		return failed, errors.New("no kernel command configured")
	}

	path := filepath.Join(b.cfg.WorkDir, fmt.Sprintf("session-%d", req.SessionID))
	if err := os.MkdirAll(path, workspacePerms); err != nil {
		return failed, fmt.Errorf("failed to create workspace: %w", err)
	}

	// The kernel outlives the request that created it; Signal and Close stop it.
	//nolint:gosec // G204: kernel command comes from operator configuration
	cmd := exec.Command(b.cfg.Command[0], b.cfg.Command[1:]...)
	cmd.Dir = path
	cmd.Env = append(os.Environ(), b.cfg.Env...)
	cmd.Env = append(cmd.Env, "COMPUTE_SESSION_ID="+strconv.Itoa(req.SessionID))
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return failed, fmt.Errorf("failed to open kernel stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return failed, fmt.Errorf("failed to open kernel stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return failed, fmt.Errorf("failed to start kernel: %w", err)
	}

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		enc:    wire.NewEncoder(stdin),
		frames: make(chan types.Frame, frameBuffer),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	pid := cmd.Process.Pid

	b.mu.Lock()
	b.procs[pid] = p
	b.mu.Unlock()

	go b.readFrames(pid, p, stdout)

	b.logger.Info("Kernel started", "session_id", req.SessionID, "pid", pid, "path", path)
	return types.Handle{PID: pid, Path: path}, nil
}

// readFrames decodes the kernel's output until it exits, then reaps it
func (b *Backend) readFrames(pid int, p *process, stdout io.Reader) {
	dec := wire.NewDecoder(stdout)
	for {
		var f types.Frame
		if err := dec.Decode(&f); err != nil {
			if !errors.Is(err, io.EOF) {
				b.logger.Warn("Kernel output unreadable", "pid", pid, "error", err)
			}
			break
		}
		select {
		case p.frames <- f:
		case <-p.stop:
		}
	}

	_ = p.stdin.Close()
	err := p.cmd.Wait()
	b.logger.Info("Kernel exited", "pid", pid, "error", err)

	b.mu.Lock()
	delete(b.procs, pid)
	b.mu.Unlock()

	close(p.frames)
	close(p.done)
}

func (b *Backend) lookup(h types.Handle) (*process, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.procs[h.PID]
	if !ok {
		return nil, fmt.Errorf("pid %d: %w", h.PID, ErrUnknownProcess)
	}
	return p, nil
}

// Dispatch writes the batch to the kernel's stdin
func (b *Backend) Dispatch(ctx context.Context, h types.Handle, cells []types.CellRequest) error {
	p, err := b.lookup(h)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.enc.Encode(types.Batch{Cells: cells})
	}()

	select {
	case err := <-errCh:
		return err
	case <-p.done:
		return ErrProcessExited
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Signal delivers SIGINT or SIGKILL to the kernel
func (b *Backend) Signal(ctx context.Context, h types.Handle, sig types.Signal) error {
	p, err := b.lookup(h)
	if err != nil {
		return err
	}

	switch sig {
	case types.SignalInterrupt:
		err = p.cmd.Process.Signal(os.Interrupt)
	case types.SignalKill:
		p.halt()
		err = p.cmd.Process.Kill()
	default:
		return fmt.Errorf("unsupported signal: %q", sig)
	}
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Frames returns the kernel's frame stream. The stream is closed when the
// kernel exits or ctx is done; after ctx is done further output is dropped.
func (b *Backend) Frames(ctx context.Context, h types.Handle) (<-chan types.Frame, error) {
	p, err := b.lookup(h)
	if err != nil {
		return nil, err
	}

	out := make(chan types.Frame)
	go func() {
		defer close(out)
		for {
			select {
			case f, ok := <-p.frames:
				if !ok {
					return
				}
				select {
				case out <- f:
				case <-ctx.Done():
					p.halt()
					return
				}
			case <-ctx.Done():
				p.halt()
				return
			}
		}
	}()
	return out, nil
}

// Close kills every kernel and waits for them to be reaped
func (b *Backend) Close() {
	b.mu.Lock()
	procs := make([]*process, 0, len(b.procs))
	for _, p := range b.procs {
		procs = append(procs, p)
	}
	b.mu.Unlock()

	for _, p := range procs {
		p.halt()
		_ = p.cmd.Process.Kill()
	}
	for _, p := range procs {
		<-p.done
	}
}
