package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/askiada/go-stepcache/pkg/logger"
	"github.com/askiada/go-stepcache/pkg/pipeline/cache"
	"github.com/askiada/go-stepcache/pkg/pipeline/model"
	"github.com/askiada/go-stepcache/pkg/pipeline/registry"
)

// Executor runs pipelines against a registry of step functions and an
// artifact cache. Scheduling is sample-parallel: each (queue, sample) pair
// is one unit of work, and steps inside a unit run strictly in declared
// order because later steps may consume earlier steps' artifacts.
type Executor struct {
	registry *registry.Registry
	cache    cache.Cache
	log      logger.Logger
}

// NewExecutor creates an executor.
func NewExecutor(reg *registry.Registry, artifactCache cache.Cache, opts ...ExecutorOption) (*Executor, error) {
	if reg == nil {
		return nil, ErrRegistryMustBeSet
	}
	if artifactCache == nil {
		return nil, ErrCacheMustBeSet
	}

	e := &Executor{
		registry: reg,
		cache:    artifactCache,
		log:      logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

type unit struct {
	queue  *model.Queue
	sample model.Sample
}

// Execute runs the pipeline and returns a report covering every attempted
// (queue, step, sample) triple. Step-local failures never surface as an
// error here: they become Failed cache entries and report outcomes, and
// every unaffected sample and queue keeps running. Only resource-level
// failures (cache storage errors, structurally invalid queues, unknown
// queue or sample targets, context cancellation) abort the run.
func (e *Executor) Execute(ctx context.Context, pipe *Pipeline, opts ...ExecOption) (*Report, error) {
	if pipe == nil {
		return nil, ErrPipelineMustBeSet
	}

	cfg := &execConfig{workers: 1}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.workers < 1 {
		cfg.workers = 1
	}

	queues, err := e.targetQueues(pipe, cfg)
	if err != nil {
		return nil, err
	}

	samples, err := e.targetSamples(pipe, cfg)
	if err != nil {
		return nil, err
	}

	for _, q := range queues {
		if err := q.Validate(); err != nil {
			return nil, err
		}
	}

	// Invalidation is a barrier: it completes before any worker starts
	// writing new entries.
	if cfg.clearCache {
		if err := e.cache.Invalidate(ctx, pipe.Experiment()); err != nil {
			return nil, err
		}
	}

	units := make([]unit, 0, len(queues)*len(samples))
	for _, q := range queues {
		for _, sample := range samples {
			units = append(units, unit{queue: q, sample: sample})
		}
	}

	report := newReport(pipe.Experiment())
	e.log.Info("pipeline run starting",
		zap.String("run_id", report.RunID),
		zap.String("experiment", pipe.Experiment()),
		zap.Int("units", len(units)),
		zap.Int("workers", cfg.workers))

	errGrp, dCtx := errgroup.WithContext(ctx)
	errGrp.SetLimit(cfg.workers)

	for _, u := range units {
		localUnit := u
		errGrp.Go(func() error {
			outcomes, err := e.runUnit(dCtx, pipe.Experiment(), localUnit)
			if err != nil {
				return errors.Wrapf(err, "queue %s sample %s", localUnit.queue.Name, localUnit.sample.ID)
			}
			report.append(outcomes)

			return nil
		})
	}

	if err := errGrp.Wait(); err != nil {
		return nil, err
	}

	report.finish()
	e.log.Info("pipeline run finished",
		zap.String("run_id", report.RunID),
		zap.Int("succeeded", report.Count(StatusSucceededNew)),
		zap.Int("reused", report.Count(StatusReused)),
		zap.Int("failed", report.Count(StatusFailed)),
		zap.Duration("duration", report.Duration()))

	return report, nil
}

func (e *Executor) targetQueues(pipe *Pipeline, cfg *execConfig) ([]*model.Queue, error) {
	if cfg.queue != "" {
		q, ok := pipe.Queue(cfg.queue)
		if !ok {
			return nil, errors.Wrap(ErrUnknownQueue, cfg.queue)
		}

		return []*model.Queue{q}, nil
	}

	queues := make([]*model.Queue, 0, len(pipe.Queues()))
	for _, name := range pipe.Queues() {
		q, _ := pipe.Queue(name)
		queues = append(queues, q)
	}

	return queues, nil
}

func (e *Executor) targetSamples(pipe *Pipeline, cfg *execConfig) ([]model.Sample, error) {
	if len(cfg.samples) == 0 {
		return pipe.Samples(), nil
	}

	samples := make([]model.Sample, 0, len(cfg.samples))
	for _, id := range cfg.samples {
		sample, ok := pipe.Sample(id)
		if !ok {
			return nil, errors.Wrap(ErrUnknownSample, id)
		}
		samples = append(samples, sample)
	}

	return samples, nil
}

// runUnit executes one queue for one sample, steps strictly in declared
// order. The returned error is resource-level only; step failures land in
// the outcomes.
func (e *Executor) runUnit(ctx context.Context, experiment string, u unit) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(u.queue.Steps))
	// Status of every step already handled in this unit during this run.
	// Reuse of a cached entry requires all of its producers to be reused
	// too: a producer that re-executed may have produced a different
	// artifact, so its consumers must re-execute as well.
	ran := make(map[string]OutcomeStatus, len(u.queue.Steps))
	halted := false

	for _, def := range u.queue.Steps {
		if halted {
			outcomes = append(outcomes, Outcome{
				Queue:  u.queue.Name,
				Step:   def.Name,
				Sample: u.sample.ID,
				Status: StatusNotReached,
			})

			continue
		}

		key := cache.Key{
			Experiment: experiment,
			Queue:      u.queue.Name,
			Step:       def.Name,
			Sample:     u.sample.ID,
		}

		digest, err := fingerprint(def)
		if err != nil {
			return nil, err
		}

		start := time.Now()

		entry, found, err := e.cache.Get(ctx, key)
		if err != nil {
			return nil, err
		}

		if found && entry.Status == cache.StatusSuccess && entry.Digest == digest && e.producersReused(def, ran) {
			ran[def.Name] = StatusReused
			outcomes = append(outcomes, Outcome{
				Queue:    u.queue.Name,
				Step:     def.Name,
				Sample:   u.sample.ID,
				Status:   StatusReused,
				Artifact: entry.Artifact,
				Duration: time.Since(start),
			})
			e.log.Debug("step reused from cache",
				zap.String("queue", u.queue.Name),
				zap.String("step", def.Name),
				zap.String("sample", u.sample.ID))

			continue
		}

		artifact, failure, err := e.invoke(ctx, key, def, u.sample)
		if err != nil {
			return nil, err
		}

		elapsed := time.Since(start)

		if failure != nil {
			if err := e.cache.Put(ctx, key, cache.Entry{
				Status: cache.StatusFailed,
				Digest: digest,
				Error:  failure.Error(),
			}); err != nil {
				return nil, err
			}

			ran[def.Name] = StatusFailed
			halted = true
			outcomes = append(outcomes, Outcome{
				Queue:    u.queue.Name,
				Step:     def.Name,
				Sample:   u.sample.ID,
				Status:   StatusFailed,
				Failure:  failure,
				Duration: elapsed,
			})
			e.log.Warn("step failed",
				zap.String("queue", u.queue.Name),
				zap.String("step", def.Name),
				zap.String("sample", u.sample.ID),
				zap.String("kind", string(failure.Kind)),
				zap.String("detail", failure.Detail))

			continue
		}

		if err := e.cache.Put(ctx, key, cache.Entry{
			Status:   cache.StatusSuccess,
			Digest:   digest,
			Artifact: artifact,
		}); err != nil {
			return nil, err
		}

		ran[def.Name] = StatusSucceededNew
		outcomes = append(outcomes, Outcome{
			Queue:    u.queue.Name,
			Step:     def.Name,
			Sample:   u.sample.ID,
			Status:   StatusSucceededNew,
			Artifact: artifact,
			Duration: elapsed,
		})
		e.log.Debug("step succeeded",
			zap.String("queue", u.queue.Name),
			zap.String("step", def.Name),
			zap.String("sample", u.sample.ID),
			zap.Duration("duration", elapsed))
	}

	return outcomes, nil
}

func (e *Executor) producersReused(def model.StepDef, ran map[string]OutcomeStatus) bool {
	for _, ref := range def.References() {
		if ran[ref] != StatusReused {
			return false
		}
	}

	return true
}

// invoke resolves the step's function and arguments and runs it. The
// returned Failure covers the step-local taxonomy; the error return is
// reserved for cache storage problems.
func (e *Executor) invoke(ctx context.Context, key cache.Key, def model.StepDef, sample model.Sample) (any, *Failure, error) {
	artifacts := make(map[string]any, len(def.References()))
	for _, ref := range def.References() {
		producerKey := cache.Key{
			Experiment: key.Experiment,
			Queue:      key.Queue,
			Step:       ref,
			Sample:     key.Sample,
		}

		producer, found, err := e.cache.Get(ctx, producerKey)
		if err != nil {
			return nil, nil, err
		}
		if !found || producer.Status != cache.StatusSuccess {
			return nil, &Failure{
				Kind:   FailureUnresolvedDependency,
				Detail: fmt.Sprintf("producer step %q has no successful result", ref),
			}, nil
		}

		artifacts[ref] = producer.Artifact
	}

	fn, err := e.registry.Resolve(def.Function)
	if err != nil {
		return nil, &Failure{Kind: FailureUnknownFunction, Detail: err.Error()}, nil
	}

	if err := registry.ValidateArgs(fn, def.Args); err != nil {
		return nil, &Failure{Kind: FailureArgumentMismatch, Detail: err.Error()}, nil
	}

	args := make(registry.Args, len(def.Args))
	for name, value := range def.Args {
		resolved, err := value.Resolve(func(stepName string) (any, bool) {
			artifact, ok := artifacts[stepName]

			return artifact, ok
		})
		if err != nil {
			return nil, &Failure{Kind: FailureUnresolvedDependency, Detail: err.Error()}, nil
		}
		args[name] = resolved
	}

	artifact, err := fn.Fn(ctx, sample, args)
	if err != nil {
		return nil, &Failure{Kind: FailureInvocation, Detail: err.Error()}, nil
	}

	return artifact, nil, nil
}
