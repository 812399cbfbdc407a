// Package pipeline provides a cached execution engine for named queues of
// data-processing steps running over a collection of input samples.
//
// A pipeline aggregates an experiment identity, an ordered sample set and
// one or more named queues. Each queue is an ordered list of step
// definitions; a step invokes a function registered by name and may
// reference the output of any earlier step in the same queue as one of its
// arguments. The executor runs every (queue, sample) pair independently,
// consulting the artifact cache before invoking a step and writing the
// outcome back afterwards. A step that already succeeded with an unchanged
// definition is never recomputed, even across separate invocations and
// process restarts, which is what makes long pipelines cheap to resume.
//
// Failures are isolated per (queue, sample): a failing step stops the
// remaining steps for that sample in that queue and is recorded in the
// cache and the report, while every other sample and queue keeps running.
package pipeline
