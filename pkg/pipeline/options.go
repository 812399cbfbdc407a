package pipeline

import "github.com/askiada/go-stepcache/pkg/logger"

// ExecutorOption configures an Executor.
type ExecutorOption func(e *Executor)

// WithLogger sets the logger used during execution. Defaults to a noop
// logger so library use stays silent.
func WithLogger(log logger.Logger) ExecutorOption {
	return func(e *Executor) {
		e.log = log
	}
}

type execConfig struct {
	queue      string
	samples    []string
	clearCache bool
	workers    int
}

// ExecOption configures one Execute call.
type ExecOption func(cfg *execConfig)

// WithQueue restricts the run to one queue. All queues run by default.
func WithQueue(name string) ExecOption {
	return func(cfg *execConfig) {
		cfg.queue = name
	}
}

// WithSamples restricts the run to the given sample identifiers. All
// samples run by default.
func WithSamples(ids ...string) ExecOption {
	return func(cfg *execConfig) {
		cfg.samples = append(cfg.samples, ids...)
	}
}

// WithClearCache invalidates every cache entry of the experiment before
// the first step runs.
func WithClearCache() ExecOption {
	return func(cfg *execConfig) {
		cfg.clearCache = true
	}
}

// WithParallel runs up to the given number of (queue, sample) units
// concurrently. Steps within one unit stay strictly sequential. The
// default is fully sequential execution.
func WithParallel(workers int) ExecOption {
	return func(cfg *execConfig) {
		cfg.workers = workers
	}
}
