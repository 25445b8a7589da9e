package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	r := newRegistry()
	assert.Equal(t, []string{"mock", "python", "sh"}, r.ListSupported())

	p, err := r.CreateProvider("sh")
	require.NoError(t, err)
	assert.Equal(t, "sh", p.Name())

	_, err = r.CreateProvider("cobol")
	assert.Error(t, err)
}
