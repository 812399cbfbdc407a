// Package cache defines the artifact cache contract shared by the executor
// and the inspection tooling, plus an in-memory implementation. The durable
// implementation lives in the sqlite subpackage.
package cache

import (
	"context"
	"time"
)

// Status tags a cache entry as the outcome of a step invocation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Key identifies one cached step outcome. Keys are disjoint across samples
// under sample-parallel execution, so two workers never write the same key
// in one run.
type Key struct {
	Experiment string `json:"experiment"`
	Queue      string `json:"queue"`
	Step       string `json:"step"`
	Sample     string `json:"sample"`
}

// Entry is the stored outcome for one key. Failed entries carry the error
// detail and never satisfy downstream dependencies. Digest fingerprints the
// step definition that produced the entry; a mismatch on a later run means
// the definition was edited and the entry must not be reused.
type Entry struct {
	Status    Status    `json:"status"`
	Digest    string    `json:"digest"`
	Artifact  any       `json:"artifact,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// KeyedEntry pairs a key with its entry for inspection listings.
type KeyedEntry struct {
	Key   Key   `json:"key"`
	Entry Entry `json:"entry"`
}

// Cache is the artifact store injected into the executor. Implementations
// must support concurrent reads and writes to distinct keys without
// serializing whole runs; only the internal key index needs guarding.
type Cache interface {
	// Get returns the entry stored at key, if any.
	Get(ctx context.Context, key Key) (Entry, bool, error)
	// Put stores the entry at key, overwriting any previous entry.
	Put(ctx context.Context, key Key, entry Entry) error
	// Invalidate removes every entry stored under the experiment.
	Invalidate(ctx context.Context, experiment string) error
	// List returns every entry stored under the experiment, ordered by
	// queue, step and sample.
	List(ctx context.Context, experiment string) ([]KeyedEntry, error)
	// Close releases the underlying storage.
	Close() error
}
