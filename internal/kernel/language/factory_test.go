package language

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider is a simple test provider
type stubProvider struct {
	name string
}

func (s *stubProvider) Name() string                                            { return s.name }
func (s *stubProvider) Initialize(ctx context.Context, config InitConfig) error { return nil }
func (s *stubProvider) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResult, error) {
	return &ExecuteResult{}, nil
}
func (s *stubProvider) Cleanup(ctx context.Context) error { return nil }

func TestRegistryCreateProvider(t *testing.T) {
	registry := NewRegistry()
	registry.Register("sh", func() Provider { return &stubProvider{name: "sh"} })
	registry.Register("python", func() Provider { return &stubProvider{name: "python"} })

	tests := []struct {
		name     string
		language string
		wantErr  bool
	}{
		{name: "sh", language: "sh"},
		{name: "python", language: "python"},
		{name: "unsupported", language: "cobol", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := registry.CreateProvider(tt.language)
			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, registry.IsSupported(tt.language))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.language, p.Name())
			assert.True(t, registry.IsSupported(tt.language))
		})
	}
}

func TestRegistryFreshInstances(t *testing.T) {
	registry := NewRegistry()
	registry.Register("sh", func() Provider { return &stubProvider{name: "sh"} })

	a, err := registry.CreateProvider("sh")
	require.NoError(t, err)
	b, err := registry.CreateProvider("sh")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestRegistryListSupported(t *testing.T) {
	registry := NewRegistry()
	assert.Empty(t, registry.ListSupported())

	registry.Register("sh", func() Provider { return &stubProvider{name: "sh"} })
	registry.Register("mock", func() Provider { return &stubProvider{name: "mock"} })
	assert.Equal(t, []string{"mock", "sh"}, registry.ListSupported())
}

func TestExecuteResultFailed(t *testing.T) {
	assert.False(t, (&ExecuteResult{}).Failed())
	assert.True(t, (&ExecuteResult{ExitCode: 2}).Failed())
	assert.True(t, (&ExecuteResult{Error: context.Canceled}).Failed())
}
