// Package python runs cells in a long-lived python3 process that shares one
// global namespace across cells.
package python

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/AltairaLabs/compute-sessions/internal/kernel/language"
)

// driver reads one JSON request per line, executes it in a shared scope and
// marks the end of each cell with a NUL on stdout and stderr plus a status
// line on fd 3
const driver = `
import json, os, sys, traceback
status = os.fdopen(3, "w")
scope = {"__name__": "__main__"}
while True:
    try:
        line = sys.stdin.readline()
    except KeyboardInterrupt:
        continue
    if not line:
        break
    ok, err = True, ""
    try:
        exec(compile(json.loads(line)["code"], "<cell>", "exec"), scope)
    except BaseException as e:
        ok, err = False, "".join(traceback.format_exception_only(type(e), e)).strip()
        traceback.print_exc()
    sys.stdout.flush()
    sys.stderr.flush()
    sys.stdout.write("\0")
    sys.stdout.flush()
    sys.stderr.write("\0")
    sys.stderr.flush()
    status.write(json.dumps({"ok": ok, "error": err}) + "\n")
    status.flush()
`

var (
	errNotInitialized = errors.New("provider not initialized")
	errExited         = errors.New("python process exited")
)

type cellStatus struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Provider implements language.Provider for Python.
type Provider struct {
	// Interpreter is the python executable, python3 by default
	Interpreter string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *stream
	stderr *stream
	status chan cellStatus
	exited chan struct{}
}

// NewProvider creates a new Python language provider.
func NewProvider() *Provider {
	return &Provider{Interpreter: "python3"}
}

// Name returns the language identifier.
func (p *Provider) Name() string {
	return "python"
}

// Initialize starts the interpreter process in the workspace.
func (p *Provider) Initialize(ctx context.Context, config language.InitConfig) error {
	path, err := exec.LookPath(p.Interpreter)
	if err != nil {
		return fmt.Errorf("%s not found in PATH: %w", p.Interpreter, err)
	}

	statusR, statusW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create status pipe: %w", err)
	}
	defer statusW.Close()

	// The interpreter outlives ctx; it is stopped by Cleanup.
	//nolint:gosec // G204: interpreter path comes from operator configuration
	cmd := exec.Command(path, "-u", "-c", driver)
	cmd.Dir = config.WorkspacePath
	cmd.Env = os.Environ()
	for key, value := range config.EnvVars {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}
	cmd.ExtraFiles = []*os.File{statusW}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		statusR.Close()
		return fmt.Errorf("failed to open stdin: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		statusR.Close()
		return fmt.Errorf("failed to open stdout: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		statusR.Close()
		return fmt.Errorf("failed to open stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		statusR.Close()
		return fmt.Errorf("failed to start %s: %w", p.Interpreter, err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.stdout = newStream()
	p.stderr = newStream()
	p.status = make(chan cellStatus, 1)
	p.exited = make(chan struct{})

	var pumps sync.WaitGroup
	pumps.Add(3)
	go func() { defer pumps.Done(); p.stdout.pump(stdoutPipe) }()
	go func() { defer pumps.Done(); p.stderr.pump(stderrPipe) }()
	go func() {
		defer pumps.Done()
		defer statusR.Close()
		scanner := bufio.NewScanner(statusR)
		for scanner.Scan() {
			var st cellStatus
			if err := json.Unmarshal(scanner.Bytes(), &st); err != nil {
				st = cellStatus{Error: fmt.Sprintf("invalid status line: %v", err)}
			}
			p.status <- st
		}
	}()
	go func() {
		pumps.Wait()
		_ = cmd.Wait()
		close(p.exited)
	}()
	return nil
}

// Execute sends one cell to the interpreter and streams its output until the
// end-of-cell markers arrive. Cancelling ctx raises KeyboardInterrupt in the cell.
func (p *Provider) Execute(ctx context.Context, req *language.ExecuteRequest) (*language.ExecuteResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil {
		return nil, errNotInitialized
	}

	start := time.Now()
	p.stdout.attach(req.Stdout)
	p.stderr.attach(req.Stderr)
	defer p.stdout.attach(nil)
	defer p.stderr.attach(nil)

	line, err := json.Marshal(map[string]string{"code": req.Code})
	if err != nil {
		return nil, fmt.Errorf("failed to encode cell: %w", err)
	}
	if _, err := p.stdin.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("failed to send cell: %w", err)
	}

	var (
		st                   cellStatus
		gotStatus, out, errs bool
		done                 = ctx.Done()
	)
	for !gotStatus || !out || !errs {
		select {
		case st = <-p.status:
			gotStatus = true
		case <-p.stdout.marks:
			out = true
		case <-p.stderr.marks:
			errs = true
		case <-done:
			_ = p.cmd.Process.Signal(os.Interrupt)
			done = nil
		case <-p.exited:
			return nil, errExited
		}
	}

	result := &language.ExecuteResult{Duration: time.Since(start)}
	if !st.OK {
		result.ExitCode = 1
		result.Error = errors.New(st.Error)
		if ctx.Err() != nil {
			result.Error = fmt.Errorf("%s: %w", st.Error, ctx.Err())
		}
	}
	return result, nil
}

// Cleanup stops the interpreter.
func (p *Provider) Cleanup(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil {
		return nil
	}
	_ = p.stdin.Close()
	select {
	case <-p.exited:
	case <-ctx.Done():
		_ = p.cmd.Process.Kill()
		<-p.exited
	case <-time.After(2 * time.Second):
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
	p.cmd = nil
	return nil
}

// stream copies one pipe of the interpreter to the writer of the running cell
type stream struct {
	mu    sync.Mutex
	w     io.Writer
	marks chan struct{}
}

func newStream() *stream {
	return &stream{marks: make(chan struct{}, 1)}
}

func (s *stream) attach(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}

func (s *stream) write(p []byte) {
	if len(p) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w != nil {
		_, _ = s.w.Write(p)
	}
}

// pump forwards bytes until the pipe closes. A NUL byte ends the current cell.
func (s *stream) pump(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		chunk := buf[:n]
		for len(chunk) > 0 {
			i := bytes.IndexByte(chunk, 0)
			if i < 0 {
				s.write(chunk)
				break
			}
			s.write(chunk[:i])
			s.marks <- struct{}{}
			chunk = chunk[i+1:]
		}
		if err != nil {
			return
		}
	}
}
