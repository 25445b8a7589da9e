package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/compute-sessions/internal/compute/mock"
	"github.com/AltairaLabs/compute-sessions/internal/coordinator"
	"github.com/AltairaLabs/compute-sessions/internal/output"
	"github.com/AltairaLabs/compute-sessions/internal/storage/memory"
	"github.com/AltairaLabs/compute-sessions/internal/types"
)

type testAPI struct {
	engine  *route.Engine
	orch    *coordinator.Orchestrator
	backend *mock.Backend
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	backend := mock.NewBackend()
	orch := coordinator.NewOrchestrator(memory.NewInMemorySessionStore(), backend, coordinator.Options{
		Output: output.Config{FlushSize: 8192, FlushInterval: time.Hour},
	})
	t.Cleanup(func() { _ = orch.Shutdown(context.Background()) })

	engine := route.NewEngine(config.NewOptions([]config.Option{}))
	engine.Use(LogIDMiddleware())
	NewHandler(orch, nil).Register(engine)
	return &testAPI{engine: engine, orch: orch, backend: backend}
}

func (a *testAPI) do(method, path string, form url.Values) (int, string) {
	var body *ut.Body
	var headers []ut.Header
	if form != nil {
		body = &ut.Body{Body: bytes.NewBufferString(form.Encode()), Len: -1}
		headers = append(headers, ut.Header{Key: "Content-Type", Value: "application/x-www-form-urlencoded"})
	}
	w := ut.PerformRequest(a.engine, method, path, body, headers...)
	resp := w.Result()
	return resp.StatusCode(), string(resp.Body())
}

func TestSessionLifecycle(t *testing.T) {
	a := newTestAPI(t)

	status, body := a.do("GET", "/new_session", nil)
	require.Equal(t, 200, status)
	assert.Equal(t, "0", body)

	status, body = a.do("POST", "/execute/0", url.Values{"code": {"print(1)"}})
	assert.Equal(t, 200, status)
	assert.Equal(t, "running", body)

	status, body = a.do("POST", "/execute/0", url.Values{"code": {"print(2)"}})
	assert.Equal(t, 200, status)
	assert.Equal(t, "enqueued", body)

	status, body = a.do("GET", "/ready/0", nil)
	require.Equal(t, 200, status)
	var batch []types.CellRequest
	require.NoError(t, json.Unmarshal([]byte(body), &batch))
	assert.Equal(t, []types.CellRequest{{ExecID: 1, Code: "print(2)"}}, batch)

	status, body = a.do("GET", "/ready/0", nil)
	require.Equal(t, 200, status)
	assert.Equal(t, "[]", body)

	status, body = a.do("GET", "/cells/0", nil)
	require.Equal(t, 200, status)
	var cells []coordinator.Cell
	require.NoError(t, json.Unmarshal([]byte(body), &cells))
	require.Len(t, cells, 2)
	assert.Equal(t, "print(1)", cells[0].Code)

	status, body = a.do("GET", "/sessions", nil)
	require.Equal(t, 200, status)
	var sessions []coordinator.Session
	require.NoError(t, json.Unmarshal([]byte(body), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, coordinator.SessionStatusReady, sessions[0].Status)

	status, body = a.do("GET", "/sigint/0", nil)
	assert.Equal(t, 200, status)
	assert.Equal(t, "ok", body)

	status, body = a.do("GET", "/sigkill/0", nil)
	assert.Equal(t, 200, status)
	assert.Equal(t, "ok", body)

	status, body = a.do("POST", "/execute/0", url.Values{"code": {"x"}})
	assert.Equal(t, 200, status)
	assert.Equal(t, "dead", body)

	status, body = a.do("DELETE", "/sessions/0", nil)
	assert.Equal(t, 200, status)
	assert.Equal(t, "ok", body)

	status, _ = a.do("GET", "/cells/0", nil)
	assert.Equal(t, 404, status)
}

func TestNewSessionFailure(t *testing.T) {
	a := newTestAPI(t)
	a.backend.SpawnErr = errors.New("no capacity")

	status, body := a.do("GET", "/new_session", nil)
	assert.Equal(t, 200, status)
	assert.Equal(t, "fail", body)
}

func TestDispatchFailureReportsDead(t *testing.T) {
	a := newTestAPI(t)
	_, _ = a.do("GET", "/new_session", nil)
	a.backend.SetDispatchErr(errors.New("broken pipe"))

	status, body := a.do("POST", "/execute/0", url.Values{"code": {"x"}})
	assert.Equal(t, 200, status)
	assert.Equal(t, "dead", body)
}

func TestErrorResponses(t *testing.T) {
	a := newTestAPI(t)
	_, _ = a.do("GET", "/new_session", nil)

	tests := []struct {
		name       string
		method     string
		path       string
		form       url.Values
		wantStatus int
	}{
		{name: "execute unknown session", method: "POST", path: "/execute/9", form: url.Values{"code": {"x"}}, wantStatus: 404},
		{name: "execute bad id", method: "POST", path: "/execute/abc", form: url.Values{"code": {"x"}}, wantStatus: 400},
		{name: "ready while ready", method: "GET", path: "/ready/0", wantStatus: 409},
		{name: "ready unknown", method: "GET", path: "/ready/5", wantStatus: 404},
		{name: "interrupt unknown", method: "GET", path: "/sigint/5", wantStatus: 404},
		{name: "teardown unknown", method: "DELETE", path: "/sessions/5", wantStatus: 404},
		{name: "relay without subscriber", method: "POST", path: "/relay/0", form: url.Values{"payload": {"x"}}, wantStatus: 400},
		{name: "subscribe unknown", method: "GET", path: "/subscribe/5", wantStatus: 404},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := a.do(tt.method, tt.path, tt.form)
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}

func TestRelayReachesOtherSubscribers(t *testing.T) {
	a := newTestAPI(t)
	_, _ = a.do("GET", "/new_session", nil)

	ctx := context.Background()
	sender, err := a.orch.Subscribe(ctx, 0)
	require.NoError(t, err)
	listener, err := a.orch.Subscribe(ctx, 0)
	require.NoError(t, err)

	status, body := a.do("POST", "/relay/0", url.Values{
		"subscriber": {sender.ID},
		"selector":   {"cursor"},
		"payload":    {"12"},
	})
	require.Equal(t, 200, status)
	assert.Equal(t, "ok", body)

	select {
	case msg := <-listener.Messages():
		assert.Equal(t, "mesg", string(msg.Kind))
		assert.Equal(t, "cursor", msg.Selector)
		assert.Equal(t, "12", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("relay not delivered")
	}
	assert.Empty(t, sender.Messages())
}

func TestLogIDHeader(t *testing.T) {
	a := newTestAPI(t)
	w := ut.PerformRequest(a.engine, "GET", "/sessions", nil)
	assert.NotEmpty(t, w.Result().Header.Get(HeaderLogID))
}
