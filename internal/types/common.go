// Package types provides wire-level types shared by the coordinator, the compute
// backends, the gRPC worker and the kernel process.
package types

import (
	"errors"
	"fmt"
)

// FrameKind tags a framed message produced by a compute process
type FrameKind string

const (
	// FrameStart announces that a cell has begun executing
	FrameStart FrameKind = "start"
	// FrameStdout carries a chunk of standard output
	FrameStdout FrameKind = "stdout"
	// FrameStderr carries a chunk of standard error
	FrameStderr FrameKind = "stderr"
	// FrameDone is the terminal frame for one exec_id
	FrameDone FrameKind = "done"
	// FrameReady reports that the process finished its batch and wants more work
	FrameReady FrameKind = "ready"
)

// NoExecID is the exec id carried by frames that are not tied to a cell (ready)
const NoExecID = -1

// Frame is one message read from a compute process
type Frame struct {
	ExecID  int       `json:"exec_id"`
	Kind    FrameKind `json:"kind"`
	Payload string    `json:"payload,omitempty"`
}

// Valid reports whether the frame kind is one the coordinator understands
func (f Frame) Valid() bool {
	switch f.Kind {
	case FrameStart, FrameStdout, FrameStderr, FrameDone:
		return f.ExecID >= 0
	case FrameReady:
		return true
	default:
		return false
	}
}

// CellRequest is one cell handed to a compute process as part of a dispatch batch
type CellRequest struct {
	ExecID int    `json:"exec_id"`
	Code   string `json:"code"`
}

// Batch is the payload written to a compute process on dispatch
type Batch struct {
	Cells []CellRequest `json:"cells"`
}

// Signal is a control signal forwarded to a compute process
type Signal string

const (
	// SignalInterrupt asks the process to abandon the running cell
	SignalInterrupt Signal = "INT"
	// SignalKill terminates the process
	SignalKill Signal = "KILL"
)

// ParseSignal converts the wire name of a signal
func ParseSignal(name string) (Signal, error) {
	switch Signal(name) {
	case SignalInterrupt, SignalKill:
		return Signal(name), nil
	default:
		return "", fmt.Errorf("unknown signal: %q", name)
	}
}

// SpawnRequest asks a compute backend for a new process
type SpawnRequest struct {
	SessionID int `json:"session_id"`
}

// Handle identifies a spawned compute process. All fields are opaque to the
// coordinator; a PID of -1 is the backend's sentinel for a failed spawn.
type Handle struct {
	PID      int    `json:"pid"`
	Path     string `json:"path,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// FailedPID is the PID a backend reports when it could not start a process
const FailedPID = -1

// Spawned reports whether the handle refers to a started process
func (h Handle) Spawned() bool {
	return h.PID != FailedPID
}

// ErrUnknownProcess is returned by backends for a handle they do not own
var ErrUnknownProcess = errors.New("unknown process")
