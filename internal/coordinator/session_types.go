package coordinator

import (
	"time"
)

// SessionStatus represents the lifecycle state of a session
type SessionStatus string

const (
	// SessionStatusReady indicates the process is idle and the next cell is dispatched immediately
	SessionStatusReady SessionStatus = "ready"
	// SessionStatusRunning indicates exactly one dispatch is outstanding; new cells are enqueued
	SessionStatusRunning SessionStatus = "running"
	// SessionStatusDead indicates the process is unreachable or was killed; terminal
	SessionStatusDead SessionStatus = "dead"
)

// Valid reports whether s is one of the known statuses
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusReady, SessionStatusRunning, SessionStatusDead:
		return true
	default:
		return false
	}
}

// NoExecID is the last_active_exec_id of a session that has not dispatched anything
const NoExecID = -1

// Session is the persisted record of one compute session
type Session struct {
	ID               int           `json:"id"`
	PID              int           `json:"pid"`
	Path             string        `json:"path"`
	URL              string        `json:"url"`
	Status           SessionStatus `json:"status"`
	NextExecID       int           `json:"next_exec_id"`
	LastActiveExecID int           `json:"last_active_exec_id"`
	StartTime        time.Time     `json:"start_time"`
}

// SessionUpdate carries the mutable session fields to change; nil fields are left alone
type SessionUpdate struct {
	Status           *SessionStatus
	NextExecID       *int
	LastActiveExecID *int
}

// OutputKind classifies an output message
type OutputKind string

const (
	OutputStdout OutputKind = "stdout"
	OutputStderr OutputKind = "stderr"
	OutputOther  OutputKind = "other"
)

// OutputMessage is one entry of a cell's append-only output list
type OutputMessage struct {
	Number  int        `json:"number"`
	Kind    OutputKind `json:"kind"`
	Payload string     `json:"output"`
	Done    bool       `json:"done"`
}

// Cell is one submitted unit of code and the output it produced
type Cell struct {
	SessionID int             `json:"session_id"`
	ExecID    int             `json:"exec_id"`
	Code      string          `json:"code"`
	Output    []OutputMessage `json:"output"`
}

// SubmitResult is the outcome of a submission: the assigned exec id and the
// client-visible status (running, enqueued or dead)
type SubmitResult struct {
	ExecID int    `json:"exec_id"`
	Status string `json:"status"`
}
