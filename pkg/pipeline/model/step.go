package model

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
)

var (
	ErrEmptyStepName      = errors.New("step name must not be empty")
	ErrDuplicateStepName  = errors.New("step name already exists in queue")
	ErrUnknownReference   = errors.New("step references an unknown or later step")
	ErrReferenceCycle     = errors.New("step references form a cycle")
	ErrEmptyQueueName     = errors.New("queue name must not be empty")
	ErrEmptySampleSource  = errors.New("sample source must not be empty")
	ErrEmptyExperiment    = errors.New("experiment name must not be empty")
	ErrEmptyFunctionName  = errors.New("step function must not be empty")
	ErrDuplicateSampleIDs = errors.New("sample identifier already exists")
)

// StepDef declares one named unit of work: the function to invoke and the
// argument mapping to invoke it with. Argument values referencing earlier
// steps are substituted with the producers' artifacts before invocation.
type StepDef struct {
	Name     string           `json:"name"`
	Function string           `json:"function"`
	Args     map[string]Value `json:"args,omitempty"`
}

// References collects the names of every producer step the definition
// depends on, sorted and deduplicated.
func (s StepDef) References() []string {
	seen := make(map[string]struct{})
	for _, value := range s.Args {
		for _, ref := range value.References() {
			seen[ref] = struct{}{}
		}
	}

	refs := make([]string, 0, len(seen))
	for name := range seen {
		refs = append(refs, name)
	}

	sort.Strings(refs)

	return refs
}

// Queue is an ordered sequence of step definitions executed strictly in
// declared order for each sample.
type Queue struct {
	Name  string    `json:"name"`
	Steps []StepDef `json:"steps"`
}

// NewQueue creates an empty queue.
func NewQueue(name string) *Queue {
	return &Queue{Name: name}
}

// AddStep appends a step definition to the queue. The step name must be
// unique within the queue.
func (q *Queue) AddStep(def StepDef) error {
	if def.Name == "" {
		return ErrEmptyStepName
	}
	if def.Function == "" {
		return errors.Wrap(ErrEmptyFunctionName, def.Name)
	}
	if _, ok := q.Step(def.Name); ok {
		return errors.Wrap(ErrDuplicateStepName, def.Name)
	}

	q.Steps = append(q.Steps, def)

	return nil
}

// Step returns the definition with the given name.
func (q *Queue) Step(name string) (StepDef, bool) {
	for _, def := range q.Steps {
		if def.Name == name {
			return def, true
		}
	}

	return StepDef{}, false
}

// Validate checks the structural invariants of the queue: unique step names
// and producer references that only point at earlier steps. The reference
// edges are inserted into a cycle-preventing directed graph, so a cyclic or
// forward reference is rejected before any step runs.
func (q *Queue) Validate() error {
	if q.Name == "" {
		return ErrEmptyQueueName
	}

	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())

	for _, def := range q.Steps {
		if def.Name == "" {
			return ErrEmptyStepName
		}
		if def.Function == "" {
			return errors.Wrap(ErrEmptyFunctionName, def.Name)
		}

		err := g.AddVertex(def.Name)
		if errors.Is(err, graph.ErrVertexAlreadyExists) {
			return errors.Wrapf(ErrDuplicateStepName, "queue %s: step %s", q.Name, def.Name)
		}
		if err != nil {
			return errors.Wrapf(err, "unable to add step %s", def.Name)
		}

		for _, ref := range def.References() {
			err := g.AddEdge(ref, def.Name)
			switch {
			case errors.Is(err, graph.ErrVertexNotFound):
				// The producer vertex only exists once its step has been
				// visited, so any reference to a later or unknown step
				// lands here.
				return errors.Wrapf(ErrUnknownReference, "queue %s: step %s references %s", q.Name, def.Name, ref)
			case errors.Is(err, graph.ErrEdgeCreatesCycle):
				return errors.Wrapf(ErrReferenceCycle, "queue %s: step %s references %s", q.Name, def.Name, ref)
			case err != nil:
				return errors.Wrapf(err, "unable to link %s to %s", ref, def.Name)
			}
		}
	}

	return nil
}

// Sample is one named input unit processed independently through every
// queue. Source is the file path or logical identifier handed to step
// functions; ID scopes the sample's cache entries.
type Sample struct {
	ID     string `json:"id"`
	Source string `json:"source"`
}

// NewSample derives a sample from a source path, using the base name
// without extension as the identifier.
func NewSample(source string) Sample {
	base := filepath.Base(source)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}

	return Sample{ID: base, Source: source}
}
