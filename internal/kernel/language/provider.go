// Package language defines the interpreters a kernel can host.
package language

import (
	"context"
	"io"
	"time"
)

// Provider evaluates cells for one language. A provider instance belongs to a
// single kernel process and keeps interpreter state across Execute calls.
type Provider interface {
	// Name returns the language identifier (e.g., "sh", "python")
	Name() string

	// Initialize prepares the interpreter for a session
	Initialize(ctx context.Context, config InitConfig) error

	// Execute runs one cell, streaming its output as it is produced.
	// Cancelling ctx interrupts the cell.
	Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResult, error)

	// Cleanup releases the interpreter
	Cleanup(ctx context.Context) error
}

// InitConfig provides configuration for initializing a language environment.
type InitConfig struct {
	// WorkspacePath is the directory cells run in
	WorkspacePath string

	// EnvVars contains environment variables to set in the language environment
	EnvVars map[string]string
}

// ExecuteRequest is one cell to evaluate
type ExecuteRequest struct {
	Code   string
	Stdout io.Writer
	Stderr io.Writer
}

// ExecuteResult describes how a cell finished
type ExecuteResult struct {
	// ExitCode is the status the interpreter reported (0 for success)
	ExitCode int

	// Duration is how long the execution took
	Duration time.Duration

	// Error is the evaluation error, distinct from a failure to run at all
	Error error
}

// Failed reports whether the cell did not complete successfully
func (r *ExecuteResult) Failed() bool {
	return r.ExitCode != 0 || r.Error != nil
}
