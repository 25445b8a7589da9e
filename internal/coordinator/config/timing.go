package config

import "time"

// Default timing and sizing used throughout the coordinator
const (
	// DefaultFlushSize is the buffered byte count that forces an output flush
	DefaultFlushSize = 8192

	// DefaultFlushInterval is the age after which buffered output is flushed
	DefaultFlushInterval = 100 * time.Millisecond

	// DefaultDispatchTimeout bounds a single dispatch to a compute process
	DefaultDispatchTimeout = 10 * time.Second

	// DefaultSignalTimeout bounds delivery of an interrupt or kill
	DefaultSignalTimeout = 5 * time.Second

	// DefaultSubscriberBuffer is the per-subscriber mailbox size in the router
	DefaultSubscriberBuffer = 256

	// DefaultWatchdogSchedule is how often the ready watchdog sweeps sessions
	DefaultWatchdogSchedule = "@every 30s"

	// DefaultCleanupConcurrency caps parallel kills during startup cleanup
	DefaultCleanupConcurrency = 8
)
