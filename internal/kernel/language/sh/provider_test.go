package sh

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/compute-sessions/internal/kernel/language"
)

func newProvider(t *testing.T) *Provider {
	t.Helper()
	p := NewProvider()
	require.NoError(t, p.Initialize(context.Background(), language.InitConfig{
		WorkspacePath: t.TempDir(),
		EnvVars:       map[string]string{"GREETING": "hello"},
	}))
	t.Cleanup(func() { _ = p.Cleanup(context.Background()) })
	return p
}

func run(t *testing.T, p *Provider, code string) (string, string, *language.ExecuteResult) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	res, err := p.Execute(context.Background(), &language.ExecuteRequest{Code: code, Stdout: &stdout, Stderr: &stderr})
	require.NoError(t, err)
	return stdout.String(), stderr.String(), res
}

func TestExecuteEcho(t *testing.T) {
	p := newProvider(t)
	assert.Equal(t, "sh", p.Name())

	out, errOut, res := run(t, p, `echo "$GREETING"; echo oops >&2`)
	assert.Equal(t, "hello\n", out)
	assert.Equal(t, "oops\n", errOut)
	assert.False(t, res.Failed())
}

func TestStatePersistsAcrossCells(t *testing.T) {
	p := newProvider(t)

	_, _, res := run(t, p, "x=41; inc() { echo $(( $1 + 1 )); }")
	require.False(t, res.Failed())

	out, _, _ := run(t, p, "inc $x")
	assert.Equal(t, "42\n", out)
}

func TestExitStatusAndExit(t *testing.T) {
	p := newProvider(t)

	_, _, res := run(t, p, "false")
	assert.Equal(t, 1, res.ExitCode)
	assert.Nil(t, res.Error)

	_, _, res = run(t, p, "exit 3")
	assert.Equal(t, 3, res.ExitCode)

	out, _, res := run(t, p, "echo still here")
	assert.Equal(t, "still here\n", out)
	assert.False(t, res.Failed())
}

func TestParseError(t *testing.T) {
	p := newProvider(t)
	_, _, res := run(t, p, "if then fi (")
	assert.Equal(t, 2, res.ExitCode)
	assert.Error(t, res.Error)
}

func TestCancelInterruptsCell(t *testing.T) {
	p := newProvider(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var stdout bytes.Buffer
	start := time.Now()
	res, err := p.Execute(ctx, &language.ExecuteRequest{Code: "while true; do :; done", Stdout: &stdout, Stderr: &stdout})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, res.Failed())
}

func TestExecuteNotInitialized(t *testing.T) {
	_, err := NewProvider().Execute(context.Background(), &language.ExecuteRequest{Code: "true"})
	assert.ErrorIs(t, err, errNotInitialized)
}
