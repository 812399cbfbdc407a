// Package config loads the declarative step-configuration format: an
// ordered list of step records grouped under named queues, plus the
// experiment identity and the sample set. Argument values pass through to
// the invoked functions untouched; the only interpretation applied is
// step-reference detection ({"$step": "name"} mappings).
package config

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/askiada/go-stepcache/pkg/pipeline"
	"github.com/askiada/go-stepcache/pkg/pipeline/model"
)

var ErrNoQueues = errors.New("configuration declares no queues")

// File is the on-disk shape of a pipeline configuration.
type File struct {
	Experiment string        `json:"experiment"`
	Samples    []string      `json:"samples"`
	Queues     []model.Queue `json:"queues"`
}

// Load reads and validates a pipeline configuration file.
func Load(path string) (*pipeline.Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open configuration %s", path)
	}
	defer f.Close()

	pipe, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "configuration %s", path)
	}

	return pipe, nil
}

// Parse decodes a pipeline configuration and builds a validated pipeline.
func Parse(r io.Reader) (*pipeline.Pipeline, error) {
	var file File
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return nil, errors.Wrap(err, "unable to decode configuration")
	}

	if len(file.Queues) == 0 {
		return nil, ErrNoQueues
	}

	pipe, err := pipeline.New(file.Experiment)
	if err != nil {
		return nil, err
	}

	for _, source := range file.Samples {
		if err := pipe.AddSample(model.NewSample(source)); err != nil {
			return nil, err
		}
	}

	for _, q := range file.Queues {
		if _, err := pipe.AddQueue(q.Name); err != nil {
			return nil, err
		}
		for _, def := range q.Steps {
			if err := pipe.AddStep(q.Name, def); err != nil {
				return nil, errors.Wrapf(err, "queue %s", q.Name)
			}
		}
	}

	if err := pipe.Validate(); err != nil {
		return nil, err
	}

	return pipe, nil
}
