// Package mock provides a language provider for tests that needs no runtime.
package mock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AltairaLabs/compute-sessions/internal/kernel/language"
)

// Cell directives understood by the provider. Any other code is echoed.
const (
	// DirectiveBlock blocks until the cell is interrupted
	DirectiveBlock = "block"
	// DirectiveFailPrefix writes the rest of the code to stderr and fails the cell
	DirectiveFailPrefix = "fail:"
	// DirectiveLinesPrefix writes the rest of the code to stdout one line per write
	DirectiveLinesPrefix = "lines:"
)

// Provider is a mock language provider for testing.
type Provider struct {
	name string

	mu        sync.Mutex
	executed  []string
	initError error
	initCfg   language.InitConfig
}

// NewProvider creates a new mock provider with the given language name.
func NewProvider(name string) *Provider {
	return &Provider{name: name}
}

// Name returns the mock language name.
func (p *Provider) Name() string {
	return p.name
}

// Initialize records the configuration.
func (p *Provider) Initialize(ctx context.Context, config language.InitConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initCfg = config
	return p.initError
}

// Execute runs a cell according to its directive. Plain code produces
// "mock output for: <code>" on stdout.
func (p *Provider) Execute(ctx context.Context, req *language.ExecuteRequest) (*language.ExecuteResult, error) {
	p.mu.Lock()
	p.executed = append(p.executed, req.Code)
	p.mu.Unlock()

	start := time.Now()
	result := &language.ExecuteResult{}

	switch code := req.Code; {
	case code == DirectiveBlock:
		<-ctx.Done()
		result.ExitCode = 1
		result.Error = ctx.Err()

	case strings.HasPrefix(code, DirectiveFailPrefix):
		msg := strings.TrimPrefix(code, DirectiveFailPrefix)
		fmt.Fprint(req.Stderr, msg)
		result.ExitCode = 1
		result.Error = errors.New(msg)

	case strings.HasPrefix(code, DirectiveLinesPrefix):
		for _, line := range strings.SplitAfter(strings.TrimPrefix(code, DirectiveLinesPrefix), "\n") {
			if line != "" {
				fmt.Fprint(req.Stdout, line)
			}
		}

	default:
		fmt.Fprintf(req.Stdout, "mock output for: %s", code)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// Cleanup does nothing.
func (p *Provider) Cleanup(ctx context.Context) error {
	return nil
}

// Test helper methods

// SetInitError configures the provider to return an error on Initialize.
func (p *Provider) SetInitError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initError = err
}

// Executed returns the code of every cell run so far
func (p *Provider) Executed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.executed))
	copy(out, p.executed)
	return out
}

// InitConfig returns the configuration passed to Initialize
func (p *Provider) InitConfig() language.InitConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initCfg
}
