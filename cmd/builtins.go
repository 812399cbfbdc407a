package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/askiada/go-stepcache/pkg/pipeline/model"
	"github.com/askiada/go-stepcache/pkg/pipeline/registry"
)

// builtinRegistry returns the registry the CLI runs with. It only carries
// the sample-file reader; domain step functions are expected to come from
// programs embedding the pipeline package directly.
func builtinRegistry() *registry.Registry {
	reg := registry.New()
	reg.MustRegister("read_sample", readSample, registry.Optional("max_bytes"))

	return reg
}

// readSample reads the sample's source file and produces an artifact
// handle: path, size and content digest. The bytes stay on disk; only the
// handle enters the cache.
func readSample(_ context.Context, sample model.Sample, args registry.Args) (any, error) {
	file, err := os.Open(sample.Source)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open sample %s", sample.ID)
	}
	defer file.Close()

	var reader io.Reader = file
	if limit, ok := args["max_bytes"].(float64); ok && limit > 0 {
		reader = io.LimitReader(file, int64(limit))
	}

	digest := sha256.New()
	size, err := io.Copy(digest, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read sample %s", sample.ID)
	}

	return map[string]any{
		"path":       sample.Source,
		"size_bytes": size,
		"sha256":     hex.EncodeToString(digest.Sum(nil)),
	}, nil
}
