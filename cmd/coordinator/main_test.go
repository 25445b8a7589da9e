package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/compute-sessions/internal/coordinator"
	"github.com/AltairaLabs/compute-sessions/internal/coordinator/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  config.StoreConfig
	}{
		{name: "memory", cfg: config.StoreConfig{Driver: config.StoreMemory}},
		{name: "sqlite", cfg: config.StoreConfig{Driver: config.StoreSQLite, DSN: ":memory:", MaxOpenConnections: 1, MaxIdleConnections: 1}},
		{name: "miniredis", cfg: config.StoreConfig{Driver: config.StoreMiniredis, KeyPrefix: "t"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, closeFn, err := newStore(ctx, tt.cfg)
			require.NoError(t, err)
			defer closeFn()

			require.NoError(t, store.CreateSession(ctx, &coordinator.Session{ID: 0, Status: coordinator.SessionStatusReady, LastActiveExecID: coordinator.NoExecID}))
			sessions, err := store.ListSessions(ctx)
			require.NoError(t, err)
			assert.Len(t, sessions, 1)
		})
	}

	_, _, err := newStore(ctx, config.StoreConfig{Driver: "etcd"})
	assert.Error(t, err)
}

func TestNewBackend(t *testing.T) {
	b, closeFn, err := newBackend(config.ComputeConfig{Backend: config.BackendLocal, KernelCommand: []string{"kernel"}, Language: "sh"}, slog.Default())
	require.NoError(t, err)
	assert.NotNil(t, b)
	closeFn()

	// the gRPC client connects lazily, so no worker is needed
	b, closeFn, err = newBackend(config.ComputeConfig{Backend: config.BackendRemote, WorkerAddress: "127.0.0.1:1"}, slog.Default())
	require.NoError(t, err)
	assert.NotNil(t, b)
	closeFn()

	_, _, err = newBackend(config.ComputeConfig{Backend: "k8s"}, slog.Default())
	assert.Error(t, err)
}
