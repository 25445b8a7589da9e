package coordinator

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for an unknown session id
	ErrNotFound = errors.New("session not found")
	// ErrDead is returned for operations against a dead session
	ErrDead = errors.New("session is dead")
	// ErrProtocolViolation is returned when a compute process reports ready
	// while its session is not running. The session is left untouched.
	ErrProtocolViolation = errors.New("protocol violation")
)

// ProvisioningError reports a failed compute process spawn. No session record
// exists when this error is returned.
type ProvisioningError struct {
	SessionID int
	Err       error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provision session %d: %v", e.SessionID, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// DispatchError reports that a compute process could not be reached while
// handing it work or a signal. The session is dead once this is returned.
type DispatchError struct {
	SessionID int
	Op        string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s session %d: %v", e.Op, e.SessionID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline overrun rather than an I/O error
func (e *DispatchError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}
