package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "UNSET_VAR",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.envValue)
			assert.Equal(t, tt.want, getEnv(tt.key, tt.defaultValue))
		})
	}
}

func TestDefaultEnvironmentVariables(t *testing.T) {
	t.Setenv("WORKER_ID", "")
	t.Setenv("GRPC_PORT", "")
	t.Setenv("BASE_WORKSPACE", "")
	t.Setenv("KERNEL_COMMAND", "")

	assert.Equal(t, "worker-1", getEnv("WORKER_ID", defaultWorkerID))
	assert.Equal(t, "50051", getEnv("GRPC_PORT", defaultGRPCPort))
	assert.Equal(t, "/tmp/compute-sessions", getEnv("BASE_WORKSPACE", defaultBaseWorkspace))
	assert.Equal(t, []string{"kernel", "-language", "sh"}, parseCommand(getEnv("KERNEL_COMMAND", defaultKernelCommand)))
}

func TestParseCommand(t *testing.T) {
	assert.Equal(t, []string{"python3", "-u", "kernel.py"}, parseCommand("  python3  -u\tkernel.py "))
	assert.Empty(t, parseCommand("   "))
}
