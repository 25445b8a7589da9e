package config

// Client-visible status strings. These are part of the observable protocol and
// must not change.
const (
	// StatusRunning means the submitted code was dispatched immediately
	StatusRunning = "running"
	// StatusEnqueued means the code was stored behind an in-flight dispatch
	StatusEnqueued = "enqueued"
	// StatusDead means the session can no longer run code
	StatusDead = "dead"
	// StatusFail is returned when a new session could not be provisioned
	StatusFail = "fail"
	// StatusOK acknowledges control requests (interrupt, kill, teardown, relay)
	StatusOK = "ok"
)

// Log and error message formats
const (
	// ErrSessionError is the format string for session errors
	ErrSessionError = "session error: %v"
	// ErrUnknownSession is the format string for lookups of missing sessions
	ErrUnknownSession = "unknown session: %d"
)
