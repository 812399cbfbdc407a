package pipeline_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/go-stepcache/pkg/pipeline"
	"github.com/askiada/go-stepcache/pkg/pipeline/cache"
	"github.com/askiada/go-stepcache/pkg/pipeline/model"
	"github.com/askiada/go-stepcache/pkg/pipeline/registry"
)

type callCounter struct {
	mu    sync.Mutex
	calls map[string]int
}

func newCallCounter() *callCounter {
	return &callCounter{calls: make(map[string]int)}
}

func (c *callCounter) inc(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[key]++
}

func (c *callCounter) count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.calls[key]
}

func newTestRegistry(t *testing.T, counts *callCounter) *registry.Registry {
	t.Helper()

	reg := registry.New()

	reg.MustRegister("produce", func(_ context.Context, sample model.Sample, args registry.Args) (any, error) {
		counts.inc("produce:" + sample.ID)

		return fmt.Sprintf("%v:%s", args["value"], sample.ID), nil
	}, registry.Required("value"))

	reg.MustRegister("consume", func(_ context.Context, sample model.Sample, args registry.Args) (any, error) {
		counts.inc("consume:" + sample.ID)

		return fmt.Sprintf("%v|%v", args["input"], args["suffix"]), nil
	}, registry.Required("input"), registry.Optional("suffix"))

	reg.MustRegister("fail_on", func(_ context.Context, sample model.Sample, args registry.Args) (any, error) {
		counts.inc("fail_on:" + sample.ID)
		if args["sample"] == sample.ID {
			return nil, errors.New("malformed input data")
		}

		return "ok:" + sample.ID, nil
	}, registry.Required("sample"))

	return reg
}

func twoStepPipeline(t *testing.T, suffix string) *pipeline.Pipeline {
	t.Helper()

	pipe, err := pipeline.New("asc1",
		model.NewSample("Data/s1.fcs"),
		model.NewSample("Data/s2.fcs"),
	)
	require.NoError(t, err)

	require.NoError(t, pipe.AddStep("pre-processing", model.StepDef{
		Name:     "A",
		Function: "produce",
		Args:     map[string]model.Value{"value": model.Scalar("a1")},
	}))
	require.NoError(t, pipe.AddStep("pre-processing", model.StepDef{
		Name:     "B",
		Function: "consume",
		Args: map[string]model.Value{
			"input":  model.StepRef("A"),
			"suffix": model.Scalar(suffix),
		},
	}))

	return pipe
}

func newTestExecutor(t *testing.T, counts *callCounter, c cache.Cache) *pipeline.Executor {
	t.Helper()

	exec, err := pipeline.NewExecutor(newTestRegistry(t, counts), c)
	require.NoError(t, err)

	return exec
}

func requireStatus(t *testing.T, report *pipeline.Report, queue, step, sample string, want pipeline.OutcomeStatus) pipeline.Outcome {
	t.Helper()

	outcome, ok := report.Outcome(queue, step, sample)
	require.True(t, ok, "no outcome for (%s, %s, %s)", queue, step, sample)
	require.Equal(t, want, outcome.Status)

	return outcome
}

func TestExecuteScenarioReuseAndEdit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	counts := newCallCounter()
	store := cache.NewMemoryCache()
	exec := newTestExecutor(t, counts, store)

	// First run: everything computes fresh.
	report, err := exec.Execute(ctx, twoStepPipeline(t, "v1"))
	require.NoError(t, err)
	assert.Equal(t, 4, report.Count(pipeline.StatusSucceededNew))
	assert.Equal(t, "a1:s1|v1", requireStatus(t, report, "pre-processing", "B", "s1", pipeline.StatusSucceededNew).Artifact)

	// Second run, same configuration: everything reused, nothing invoked.
	report, err = exec.Execute(ctx, twoStepPipeline(t, "v1"))
	require.NoError(t, err)
	assert.Equal(t, 4, report.Count(pipeline.StatusReused))
	assert.Equal(t, 0, report.Count(pipeline.StatusSucceededNew))
	assert.Equal(t, 1, counts.count("produce:s1"))
	assert.Equal(t, 1, counts.count("consume:s1"))
	assert.Equal(t, "a1:s2|v1", requireStatus(t, report, "pre-processing", "B", "s2", pipeline.StatusReused).Artifact)

	// Third run, B's arguments edited: A stays reused, B recomputes.
	report, err = exec.Execute(ctx, twoStepPipeline(t, "v2"))
	require.NoError(t, err)
	requireStatus(t, report, "pre-processing", "A", "s1", pipeline.StatusReused)
	requireStatus(t, report, "pre-processing", "A", "s2", pipeline.StatusReused)
	requireStatus(t, report, "pre-processing", "B", "s1", pipeline.StatusSucceededNew)
	requireStatus(t, report, "pre-processing", "B", "s2", pipeline.StatusSucceededNew)
	assert.Equal(t, 1, counts.count("produce:s1"))
	assert.Equal(t, 2, counts.count("consume:s1"))
}

func TestExecuteFailureIsolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	counts := newCallCounter()
	exec := newTestExecutor(t, counts, cache.NewMemoryCache())

	pipe, err := pipeline.New("asc1",
		model.NewSample("Data/s1.fcs"),
		model.NewSample("Data/s2.fcs"),
	)
	require.NoError(t, err)
	require.NoError(t, pipe.AddStep("pre-processing", model.StepDef{
		Name:     "A",
		Function: "fail_on",
		Args:     map[string]model.Value{"sample": model.Scalar("s2")},
	}))
	require.NoError(t, pipe.AddStep("pre-processing", model.StepDef{
		Name:     "B",
		Function: "consume",
		Args:     map[string]model.Value{"input": model.StepRef("A")},
	}))

	report, err := exec.Execute(ctx, pipe)
	require.NoError(t, err)

	requireStatus(t, report, "pre-processing", "A", "s1", pipeline.StatusSucceededNew)
	requireStatus(t, report, "pre-processing", "B", "s1", pipeline.StatusSucceededNew)

	failed := requireStatus(t, report, "pre-processing", "A", "s2", pipeline.StatusFailed)
	require.NotNil(t, failed.Failure)
	assert.Equal(t, pipeline.FailureInvocation, failed.Failure.Kind)
	assert.Contains(t, failed.Failure.Detail, "malformed input data")

	requireStatus(t, report, "pre-processing", "B", "s2", pipeline.StatusNotReached)

	// B's function never ran for the failed sample.
	assert.Equal(t, 1, counts.count("consume:s1"))
	assert.Equal(t, 0, counts.count("consume:s2"))
}

func TestExecuteReentrancyAfterFix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	counts := newCallCounter()
	store := cache.NewMemoryCache()
	exec := newTestExecutor(t, counts, store)

	build := func(failSample string) *pipeline.Pipeline {
		pipe, err := pipeline.New("asc1", model.NewSample("Data/s1.fcs"))
		require.NoError(t, err)
		require.NoError(t, pipe.AddStep("pre-processing", model.StepDef{
			Name:     "A",
			Function: "produce",
			Args:     map[string]model.Value{"value": model.Scalar("a1")},
		}))
		require.NoError(t, pipe.AddStep("pre-processing", model.StepDef{
			Name:     "B",
			Function: "fail_on",
			Args:     map[string]model.Value{"sample": model.Scalar(failSample)},
		}))

		return pipe
	}

	report, err := exec.Execute(ctx, build("s1"))
	require.NoError(t, err)
	requireStatus(t, report, "pre-processing", "A", "s1", pipeline.StatusSucceededNew)
	requireStatus(t, report, "pre-processing", "B", "s1", pipeline.StatusFailed)

	// Fixing B re-attempts only B; A's artifact is reused.
	report, err = exec.Execute(ctx, build("none"))
	require.NoError(t, err)
	requireStatus(t, report, "pre-processing", "A", "s1", pipeline.StatusReused)
	requireStatus(t, report, "pre-processing", "B", "s1", pipeline.StatusSucceededNew)
	assert.Equal(t, 1, counts.count("produce:s1"))
	assert.Equal(t, 2, counts.count("fail_on:s1"))
}

func TestExecuteClearCacheBarrier(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	counts := newCallCounter()
	store := cache.NewMemoryCache()
	exec := newTestExecutor(t, counts, store)

	// Stale entry under the experiment, unrelated to any current step.
	stale := cache.Key{Experiment: "asc1", Queue: "old-queue", Step: "gone", Sample: "s1"}
	require.NoError(t, store.Put(ctx, stale, cache.Entry{Status: cache.StatusSuccess, Digest: "stale"}))

	report, err := exec.Execute(ctx, twoStepPipeline(t, "v1"))
	require.NoError(t, err)
	assert.Equal(t, 4, report.Count(pipeline.StatusSucceededNew))

	report, err = exec.Execute(ctx, twoStepPipeline(t, "v1"), pipeline.WithClearCache())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Count(pipeline.StatusSucceededNew))
	assert.Equal(t, 0, report.Count(pipeline.StatusReused))
	assert.Equal(t, 2, counts.count("produce:s1"))

	// No stale entries survive the invalidation.
	listed, err := store.List(ctx, "asc1")
	require.NoError(t, err)
	for _, keyed := range listed {
		assert.NotEqual(t, "old-queue", keyed.Key.Queue)
	}
}

func TestExecuteQueueAndSampleSubset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	counts := newCallCounter()
	exec := newTestExecutor(t, counts, cache.NewMemoryCache())

	pipe := twoStepPipeline(t, "v1")
	require.NoError(t, pipe.AddStep("scale transform", model.StepDef{
		Name:     "T",
		Function: "produce",
		Args:     map[string]model.Value{"value": model.Scalar("t1")},
	}))

	report, err := exec.Execute(ctx, pipe,
		pipeline.WithQueue("scale transform"),
		pipeline.WithSamples("s2"),
	)
	require.NoError(t, err)

	outcomes := report.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, "scale transform", outcomes[0].Queue)
	assert.Equal(t, "s2", outcomes[0].Sample)
	assert.Equal(t, 0, counts.count("produce:s1"))
}

func TestExecuteUnknownQueue(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(t, newCallCounter(), cache.NewMemoryCache())

	_, err := exec.Execute(context.Background(), twoStepPipeline(t, "v1"), pipeline.WithQueue("nope"))
	assert.ErrorIs(t, err, pipeline.ErrUnknownQueue)
}

func TestExecuteUnknownSample(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(t, newCallCounter(), cache.NewMemoryCache())

	_, err := exec.Execute(context.Background(), twoStepPipeline(t, "v1"), pipeline.WithSamples("s9"))
	assert.ErrorIs(t, err, pipeline.ErrUnknownSample)
}

func TestExecuteUnknownFunction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	exec := newTestExecutor(t, newCallCounter(), cache.NewMemoryCache())

	pipe, err := pipeline.New("asc1", model.NewSample("Data/s1.fcs"))
	require.NoError(t, err)
	require.NoError(t, pipe.AddStep("pre-processing", model.StepDef{Name: "A", Function: "remove_margins"}))
	require.NoError(t, pipe.AddStep("pre-processing", model.StepDef{
		Name:     "B",
		Function: "consume",
		Args:     map[string]model.Value{"input": model.StepRef("A")},
	}))

	report, err := exec.Execute(ctx, pipe)
	require.NoError(t, err)

	failed := requireStatus(t, report, "pre-processing", "A", "s1", pipeline.StatusFailed)
	require.NotNil(t, failed.Failure)
	assert.Equal(t, pipeline.FailureUnknownFunction, failed.Failure.Kind)
	requireStatus(t, report, "pre-processing", "B", "s1", pipeline.StatusNotReached)
}

func TestExecuteArgumentMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	counts := newCallCounter()
	exec := newTestExecutor(t, counts, cache.NewMemoryCache())

	pipe, err := pipeline.New("asc1", model.NewSample("Data/s1.fcs"))
	require.NoError(t, err)
	require.NoError(t, pipe.AddStep("pre-processing", model.StepDef{
		Name:     "A",
		Function: "produce",
		Args:     map[string]model.Value{"valeu": model.Scalar("a1")},
	}))

	report, err := exec.Execute(ctx, pipe)
	require.NoError(t, err)

	failed := requireStatus(t, report, "pre-processing", "A", "s1", pipeline.StatusFailed)
	require.NotNil(t, failed.Failure)
	assert.Equal(t, pipeline.FailureArgumentMismatch, failed.Failure.Kind)
	assert.Contains(t, failed.Failure.Detail, "value")
	assert.Contains(t, failed.Failure.Detail, "valeu")
	assert.Equal(t, 0, counts.count("produce:s1"))
}

func TestExecuteDuplicateStepNamesIsFatal(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(t, newCallCounter(), cache.NewMemoryCache())

	pipe, err := pipeline.New("asc1", model.NewSample("Data/s1.fcs"))
	require.NoError(t, err)
	q, err := pipe.AddQueue("pre-processing")
	require.NoError(t, err)
	q.Steps = []model.StepDef{
		{Name: "A", Function: "produce", Args: map[string]model.Value{"value": model.Scalar(1)}},
		{Name: "A", Function: "produce", Args: map[string]model.Value{"value": model.Scalar(2)}},
	}

	_, err = exec.Execute(context.Background(), pipe)
	assert.ErrorIs(t, err, model.ErrDuplicateStepName)
}

func TestExecuteNilPipeline(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(t, newCallCounter(), cache.NewMemoryCache())

	_, err := exec.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, pipeline.ErrPipelineMustBeSet)
}

func TestNewExecutorMissingCollaborators(t *testing.T) {
	t.Parallel()

	_, err := pipeline.NewExecutor(nil, cache.NewMemoryCache())
	assert.ErrorIs(t, err, pipeline.ErrRegistryMustBeSet)

	_, err = pipeline.NewExecutor(registry.New(), nil)
	assert.ErrorIs(t, err, pipeline.ErrCacheMustBeSet)
}

func TestExecuteParallelSamples(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := registry.New()

	arrived := make(chan string, 2)
	release := make(chan struct{})

	// Both samples must be in flight at the same time before either
	// completes, which only happens when units run concurrently.
	reg.MustRegister("rendezvous", func(_ context.Context, sample model.Sample, _ registry.Args) (any, error) {
		arrived <- sample.ID
		select {
		case <-release:
			return sample.ID, nil
		case <-time.After(10 * time.Second):
			return nil, errors.New("no concurrent peer arrived")
		}
	})

	go func() {
		<-arrived
		<-arrived
		close(release)
	}()

	exec, err := pipeline.NewExecutor(reg, cache.NewMemoryCache())
	require.NoError(t, err)

	pipe, err := pipeline.New("asc1",
		model.NewSample("Data/s1.fcs"),
		model.NewSample("Data/s2.fcs"),
	)
	require.NoError(t, err)
	require.NoError(t, pipe.AddStep("pre-processing", model.StepDef{Name: "A", Function: "rendezvous"}))

	report, err := exec.Execute(ctx, pipe, pipeline.WithParallel(2))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(pipeline.StatusSucceededNew))
}

func TestReportOrderingStableUnderParallelism(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	counts := newCallCounter()
	exec := newTestExecutor(t, counts, cache.NewMemoryCache())

	report, err := exec.Execute(ctx, twoStepPipeline(t, "v1"), pipeline.WithParallel(4))
	require.NoError(t, err)

	outcomes := report.Outcomes()
	require.Len(t, outcomes, 4)
	// Grouped by sample, steps in declared order.
	assert.Equal(t, "s1", outcomes[0].Sample)
	assert.Equal(t, "A", outcomes[0].Step)
	assert.Equal(t, "B", outcomes[1].Step)
	assert.Equal(t, "s2", outcomes[2].Sample)
	assert.Equal(t, "A", outcomes[2].Step)
}
