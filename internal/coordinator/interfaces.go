package coordinator

import (
	"context"

	"github.com/AltairaLabs/compute-sessions/internal/types"
)

// SessionStore persists sessions, cells and cell output.
// This is defined here to avoid import cycles with the storage packages.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	// GetSession returns ErrNotFound for an unknown id
	GetSession(ctx context.Context, id int) (*Session, error)
	UpdateSession(ctx context.Context, id int, update SessionUpdate) error
	// DeleteSession removes the session and all of its cells
	DeleteSession(ctx context.Context, id int) error
	// ListSessions returns every session ordered by id
	ListSessions(ctx context.Context) ([]*Session, error)

	// CreateCell stores a cell and, in the same operation, raises the
	// session's NextExecID past execID
	CreateCell(ctx context.Context, sessionID, execID int, code string) error
	// AppendOutput appends msg to the cell's output, assigning Number as the
	// current output length, and returns the stored message
	AppendOutput(ctx context.Context, sessionID, execID int, msg OutputMessage) (OutputMessage, error)
	// GetCellsAfter returns the cells with exec_id > execID ordered by exec_id
	GetCellsAfter(ctx context.Context, sessionID, execID int) ([]*Cell, error)
	// GetCells returns every cell of the session ordered by exec_id
	GetCells(ctx context.Context, sessionID int) ([]*Cell, error)
}

// ComputeBackend spawns and drives compute processes
type ComputeBackend interface {
	// Spawn starts a process. A handle with PID -1 signals failure.
	Spawn(ctx context.Context, req types.SpawnRequest) (types.Handle, error)
	// Dispatch hands a batch of cells to the process
	Dispatch(ctx context.Context, h types.Handle, cells []types.CellRequest) error
	Signal(ctx context.Context, h types.Handle, sig types.Signal) error
	// Frames returns the process's framed output. The channel is closed when
	// the process exits or ctx is cancelled.
	Frames(ctx context.Context, h types.Handle) (<-chan types.Frame, error)
}
