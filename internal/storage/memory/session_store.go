package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/AltairaLabs/compute-sessions/internal/coordinator"
)

var (
	errSessionNil = errors.New("session cannot be nil")
	errInvalidID  = errors.New("session ID cannot be negative")
)

// sessionRecord is a stored session and its cells keyed by exec id
type sessionRecord struct {
	session coordinator.Session
	cells   map[int]*coordinator.Cell
}

// InMemorySessionStore implements coordinator.SessionStore using in-memory maps
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[int]*sessionRecord
}

// NewInMemorySessionStore creates a new in-memory session store
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: make(map[int]*sessionRecord),
	}
}

// CreateSession stores a copy of session
func (s *InMemorySessionStore) CreateSession(ctx context.Context, session *coordinator.Session) error {
	if session == nil {
		return errSessionNil
	}
	if session.ID < 0 {
		return errInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("session with ID %d already exists", session.ID)
	}

	s.sessions[session.ID] = &sessionRecord{
		session: *session,
		cells:   make(map[int]*coordinator.Cell),
	}
	return nil
}

// GetSession retrieves a copy of the session
func (s *InMemorySessionStore) GetSession(ctx context.Context, id int) (*coordinator.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.sessions[id]
	if !exists {
		return nil, fmt.Errorf("session %d: %w", id, coordinator.ErrNotFound)
	}
	sessionCopy := rec.session
	return &sessionCopy, nil
}

// UpdateSession applies the non-nil fields of update
func (s *InMemorySessionStore) UpdateSession(ctx context.Context, id int, update coordinator.SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.sessions[id]
	if !exists {
		return fmt.Errorf("session %d: %w", id, coordinator.ErrNotFound)
	}

	if update.Status != nil {
		rec.session.Status = *update.Status
	}
	if update.NextExecID != nil {
		rec.session.NextExecID = *update.NextExecID
	}
	if update.LastActiveExecID != nil {
		rec.session.LastActiveExecID = *update.LastActiveExecID
	}
	return nil
}

// DeleteSession removes a session and its cells
func (s *InMemorySessionStore) DeleteSession(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; !exists {
		return fmt.Errorf("session %d: %w", id, coordinator.ErrNotFound)
	}
	delete(s.sessions, id)
	return nil
}

// ListSessions returns copies of every session ordered by id
func (s *InMemorySessionStore) ListSessions(ctx context.Context) ([]*coordinator.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*coordinator.Session, 0, len(s.sessions))
	for _, rec := range s.sessions {
		sessionCopy := rec.session
		result = append(result, &sessionCopy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// CreateCell stores a new cell with empty output
func (s *InMemorySessionStore) CreateCell(ctx context.Context, sessionID, execID int, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.sessions[sessionID]
	if !exists {
		return fmt.Errorf("session %d: %w", sessionID, coordinator.ErrNotFound)
	}
	if _, exists := rec.cells[execID]; exists {
		return fmt.Errorf("cell %d of session %d already exists", execID, sessionID)
	}

	rec.cells[execID] = &coordinator.Cell{
		SessionID: sessionID,
		ExecID:    execID,
		Code:      code,
		Output:    []coordinator.OutputMessage{},
	}
	if rec.session.NextExecID <= execID {
		rec.session.NextExecID = execID + 1
	}
	return nil
}

// AppendOutput appends msg to the cell's output, numbering it by position
func (s *InMemorySessionStore) AppendOutput(
	ctx context.Context,
	sessionID, execID int,
	msg coordinator.OutputMessage,
) (coordinator.OutputMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.sessions[sessionID]
	if !exists {
		return coordinator.OutputMessage{}, fmt.Errorf("session %d: %w", sessionID, coordinator.ErrNotFound)
	}
	cell, exists := rec.cells[execID]
	if !exists {
		return coordinator.OutputMessage{}, fmt.Errorf("cell %d of session %d: %w", execID, sessionID, coordinator.ErrNotFound)
	}

	msg.Number = len(cell.Output)
	cell.Output = append(cell.Output, msg)
	return msg, nil
}

// GetCellsAfter returns copies of the cells with exec_id > execID in exec_id order
func (s *InMemorySessionStore) GetCellsAfter(ctx context.Context, sessionID, execID int) ([]*coordinator.Cell, error) {
	return s.cells(sessionID, func(c *coordinator.Cell) bool { return c.ExecID > execID })
}

// GetCells returns copies of every cell of the session in exec_id order
func (s *InMemorySessionStore) GetCells(ctx context.Context, sessionID int) ([]*coordinator.Cell, error) {
	return s.cells(sessionID, func(*coordinator.Cell) bool { return true })
}

func (s *InMemorySessionStore) cells(sessionID int, keep func(*coordinator.Cell) bool) ([]*coordinator.Cell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("session %d: %w", sessionID, coordinator.ErrNotFound)
	}

	result := make([]*coordinator.Cell, 0, len(rec.cells))
	for _, cell := range rec.cells {
		if !keep(cell) {
			continue
		}
		cellCopy := *cell
		cellCopy.Output = make([]coordinator.OutputMessage, len(cell.Output))
		copy(cellCopy.Output, cell.Output)
		result = append(result, &cellCopy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExecID < result[j].ExecID })
	return result, nil
}
