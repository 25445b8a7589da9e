package mock

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/compute-sessions/internal/kernel/language"
)

func TestProviderDirectives(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		wantStdout string
		wantStderr string
		wantFailed bool
	}{
		{name: "echo", code: "1+1", wantStdout: "mock output for: 1+1"},
		{name: "fail", code: "fail:boom", wantStderr: "boom", wantFailed: true},
		{name: "lines", code: "lines:a\nb\n", wantStdout: "a\nb\n"},
	}

	p := NewProvider("mock")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			res, err := p.Execute(context.Background(), &language.ExecuteRequest{Code: tt.code, Stdout: &stdout, Stderr: &stderr})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStdout, stdout.String())
			assert.Equal(t, tt.wantStderr, stderr.String())
			assert.Equal(t, tt.wantFailed, res.Failed())
		})
	}
	assert.Equal(t, []string{"1+1", "fail:boom", "lines:a\nb\n"}, p.Executed())
}

func TestProviderBlockUntilCancelled(t *testing.T) {
	p := NewProvider("mock")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	res, err := p.Execute(ctx, &language.ExecuteRequest{Code: DirectiveBlock, Stdout: &out, Stderr: &out})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Error, context.DeadlineExceeded)
}

func TestProviderInitialize(t *testing.T) {
	p := NewProvider("mock")
	assert.Equal(t, "mock", p.Name())

	cfg := language.InitConfig{WorkspacePath: "/tmp/ws"}
	require.NoError(t, p.Initialize(context.Background(), cfg))
	assert.Equal(t, cfg, p.InitConfig())

	p.SetInitError(errors.New("nope"))
	assert.Error(t, p.Initialize(context.Background(), cfg))
}
