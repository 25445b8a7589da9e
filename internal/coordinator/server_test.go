package coordinator_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/compute-sessions/internal/coordinator"
	"github.com/AltairaLabs/compute-sessions/internal/coordinator/config"
)

type toolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

type mcpHarness struct {
	*harness
	ms  *coordinator.MCPServer
	seq int
}

func newMCPHarness(t *testing.T) *mcpHarness {
	t.Helper()
	h := newHarness(t, coordinator.Options{})
	ms := coordinator.NewMCPServer(coordinator.Config{Name: "test-server", Version: "1.0.0"}, h.orch, nil)
	m := &mcpHarness{harness: h, ms: ms}

	m.rpc(t, "initialize", map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]interface{}{},
		"clientInfo":      map[string]interface{}{"name": "test", "version": "1.0.0"},
	})
	return m
}

func (m *mcpHarness) rpc(t *testing.T, method string, params interface{}) json.RawMessage {
	t.Helper()
	m.seq++
	req, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      m.seq,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	resp := m.ms.Server().HandleMessage(context.Background(), req)
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &envelope))
	require.Nil(t, envelope.Error, "rpc %s failed", method)
	return envelope.Result
}

func (m *mcpHarness) call(t *testing.T, tool string, args map[string]interface{}) toolResult {
	t.Helper()
	raw := m.rpc(t, "tools/call", map[string]interface{}{"name": tool, "arguments": args})
	var res toolResult
	require.NoError(t, json.Unmarshal(raw, &res))
	require.NotEmpty(t, res.Content)
	return res
}

func TestMCPToolsAreListed(t *testing.T) {
	m := newMCPHarness(t)

	raw := m.rpc(t, "tools/list", map[string]interface{}{})
	var list struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(raw, &list))

	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, config.AllTools(), names)
}

func TestMCPSessionLifecycle(t *testing.T) {
	m := newMCPHarness(t)

	res := m.call(t, config.ToolSessionNew, nil)
	require.False(t, res.IsError)
	assert.Equal(t, "0", res.Content[0].Text)

	res = m.call(t, config.ToolSessionExecute, map[string]interface{}{"session_id": 0, "code": "x=1"})
	require.False(t, res.IsError)
	var submit coordinator.SubmitResult
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].Text), &submit))
	assert.Equal(t, coordinator.SubmitResult{ExecID: 0, Status: config.StatusRunning}, submit)

	res = m.call(t, config.ToolSessionExecute, map[string]interface{}{"session_id": "0", "code": "x=2"})
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].Text), &submit))
	assert.Equal(t, config.StatusEnqueued, submit.Status)

	res = m.call(t, config.ToolSessionCells, map[string]interface{}{"session_id": 0})
	require.False(t, res.IsError)
	var cells []coordinator.Cell
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].Text), &cells))
	require.Len(t, cells, 2)
	assert.Equal(t, "x=2", cells[1].Code)

	res = m.call(t, config.ToolSessionInterrupt, map[string]interface{}{"session_id": 0})
	assert.Equal(t, config.StatusOK, res.Content[0].Text)

	res = m.call(t, config.ToolSessionKill, map[string]interface{}{"session_id": 0})
	assert.Equal(t, config.StatusOK, res.Content[0].Text)

	res = m.call(t, config.ToolSessionList, nil)
	var sessions []coordinator.Session
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].Text), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, coordinator.SessionStatusDead, sessions[0].Status)

	res = m.call(t, config.ToolSessionExecute, map[string]interface{}{"session_id": 0, "code": "x=3"})
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].Text), &submit))
	assert.Equal(t, config.StatusDead, submit.Status)
}

func TestMCPErrors(t *testing.T) {
	m := newMCPHarness(t)

	tests := []struct {
		name string
		tool string
		args map[string]interface{}
		want string
	}{
		{"missing session id", config.ToolSessionExecute, map[string]interface{}{"code": "x"}, "session_id"},
		{"bad session id", config.ToolSessionCells, map[string]interface{}{"session_id": "abc"}, "not an integer"},
		{"unknown session", config.ToolSessionExecute, map[string]interface{}{"session_id": 5, "code": "x"}, coordinator.ErrNotFound.Error()},
		{"missing code", config.ToolSessionExecute, map[string]interface{}{"session_id": 0}, "code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := m.call(t, tt.tool, tt.args)
			assert.True(t, res.IsError)
			assert.Contains(t, res.Content[0].Text, tt.want)
		})
	}
}

func TestMCPNewSessionFailure(t *testing.T) {
	m := newMCPHarness(t)
	m.backend.SpawnErr = errors.New("no capacity")

	res := m.call(t, config.ToolSessionNew, nil)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, fmt.Sprintf("%s:", config.StatusFail))
}
