// Package sh hosts a POSIX shell interpreter in-process. Variables, functions
// and the working directory persist from one cell to the next.
package sh

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/AltairaLabs/compute-sessions/internal/kernel/language"
)

var errNotInitialized = errors.New("provider not initialized")

// Provider implements language.Provider with mvdan.cc/sh
type Provider struct {
	runner *interp.Runner
	parser *syntax.Parser
}

// NewProvider creates a new shell provider.
func NewProvider() *Provider {
	return &Provider{}
}

// Name returns the language identifier.
func (p *Provider) Name() string {
	return "sh"
}

// Initialize creates the interpreter rooted at the workspace.
func (p *Provider) Initialize(ctx context.Context, config language.InitConfig) error {
	env := os.Environ()
	for key, value := range config.EnvVars {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}

	opts := []interp.RunnerOption{
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(nil, nil, nil),
	}
	if config.WorkspacePath != "" {
		opts = append(opts, interp.Dir(config.WorkspacePath))
	}

	runner, err := interp.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create shell interpreter: %w", err)
	}
	p.runner = runner
	p.parser = syntax.NewParser()
	return nil
}

// Execute parses and runs one cell. A parse error is reported as the cell's
// error with exit code 2, as a shell would.
func (p *Provider) Execute(ctx context.Context, req *language.ExecuteRequest) (*language.ExecuteResult, error) {
	if p.runner == nil {
		return nil, errNotInitialized
	}

	start := time.Now()
	result := &language.ExecuteResult{}

	file, err := p.parser.Parse(strings.NewReader(req.Code), "cell")
	if err != nil {
		result.ExitCode = 2
		result.Error = err
		result.Duration = time.Since(start)
		return result, nil
	}

	if err := interp.StdIO(nil, req.Stdout, req.Stderr)(p.runner); err != nil {
		return nil, fmt.Errorf("failed to attach cell output: %w", err)
	}

	err = p.runner.Run(ctx, file)
	result.Duration = time.Since(start)

	var status interp.ExitStatus
	switch {
	case err == nil:
	case errors.As(err, &status):
		result.ExitCode = int(status)
	default:
		result.ExitCode = 1
		result.Error = err
	}
	if ctx.Err() != nil && result.Error == nil {
		result.Error = ctx.Err()
	}
	return result, nil
}

// Cleanup drops the interpreter.
func (p *Provider) Cleanup(ctx context.Context) error {
	p.runner = nil
	return nil
}
