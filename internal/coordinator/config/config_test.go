package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, BackendLocal, cfg.Compute.Backend)
	assert.Equal(t, DefaultFlushSize, cfg.Output.FlushSize)
	assert.Equal(t, DefaultFlushInterval, cfg.Output.FlushInterval)
	assert.Equal(t, DefaultDispatchTimeout, cfg.Compute.DispatchTimeout)
	assert.Equal(t, time.Duration(0), cfg.Watchdog.ReadyTimeout)
	require.NoError(t, cfg.Validate())
}

func TestTimingConstants(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected time.Duration
	}{
		{"DefaultFlushInterval", DefaultFlushInterval, 100 * time.Millisecond},
		{"DefaultDispatchTimeout", DefaultDispatchTimeout, 10 * time.Second},
		{"DefaultSignalTimeout", DefaultSignalTimeout, 5 * time.Second},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if test.duration != test.expected {
				t.Errorf("Expected %v, got %v", test.expected, test.duration)
			}
		})
	}

	if DefaultFlushSize != 8192 {
		t.Errorf("Expected DefaultFlushSize 8192, got %d", DefaultFlushSize)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coordinator.yaml")
	content := `
http:
  port: 6000
store:
  driver: sqlite
  dsn: file::memory:
compute:
  backend: remote
  worker-address: localhost:50051
output:
  flush-size: 10
  flush-interval: 250ms
watchdog:
  ready-timeout: 2m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.HTTP.Port)
	assert.Equal(t, "0.0.0.0", cfg.HTTP.Host, "unset fields keep defaults")
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, BackendRemote, cfg.Compute.Backend)
	assert.Equal(t, 10, cfg.Output.FlushSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Output.FlushInterval)
	assert.Equal(t, 2*time.Minute, cfg.Watchdog.ReadyTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "7001")
	t.Setenv("STORE_DRIVER", "miniredis")
	t.Setenv("COMPUTE_BACKEND", "remote")
	t.Setenv("WORKER_ADDR", "worker:50051")

	cfg := Default()
	cfg.ApplyEnv()

	assert.Equal(t, 7001, cfg.HTTP.Port)
	assert.Equal(t, StoreMiniredis, cfg.Store.Driver)
	assert.Equal(t, BackendRemote, cfg.Compute.Backend)
	assert.Equal(t, "worker:50051", cfg.Compute.WorkerAddress)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store", func(c *Config) { c.Store.Driver = "cassandra" }},
		{"mysql without dsn", func(c *Config) { c.Store.Driver = StoreMySQL }},
		{"redis without address", func(c *Config) { c.Store.Driver = StoreRedis }},
		{"remote without address", func(c *Config) { c.Compute.Backend = BackendRemote }},
		{"local without kernel", func(c *Config) { c.Compute.KernelCommand = nil }},
		{"sse without address", func(c *Config) { c.MCP.Transport = MCPSSE }},
		{"zero flush size", func(c *Config) { c.Output.FlushSize = 0 }},
		{"zero dispatch timeout", func(c *Config) { c.Compute.DispatchTimeout = 0 }},
		{"negative watchdog", func(c *Config) { c.Watchdog.ReadyTimeout = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
