package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/go-stepcache/pkg/pipeline/model"
	"github.com/askiada/go-stepcache/pkg/pipeline/registry"
)

func TestBuiltinRegistryHasReadSample(t *testing.T) {
	t.Parallel()

	reg := builtinRegistry()
	assert.Equal(t, []string{"read_sample"}, reg.List())
}

func TestReadSample(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "file1.fcs")
	require.NoError(t, os.WriteFile(path, []byte("FCS3.0 payload"), 0o600))

	artifact, err := readSample(context.Background(), model.NewSample(path), registry.Args{})
	require.NoError(t, err)

	handle, ok := artifact.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, path, handle["path"])
	assert.Equal(t, int64(14), handle["size_bytes"])
	assert.Len(t, handle["sha256"], 64)
}

func TestReadSampleMaxBytes(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "file1.fcs")
	require.NoError(t, os.WriteFile(path, []byte("FCS3.0 payload"), 0o600))

	// JSON numbers arrive as float64.
	artifact, err := readSample(context.Background(), model.NewSample(path), registry.Args{"max_bytes": float64(4)})
	require.NoError(t, err)

	handle, ok := artifact.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(4), handle["size_bytes"])
}

func TestReadSampleMissingFile(t *testing.T) {
	t.Parallel()

	_, err := readSample(context.Background(), model.NewSample("nope/missing.fcs"), registry.Args{})
	assert.Error(t, err)
}
