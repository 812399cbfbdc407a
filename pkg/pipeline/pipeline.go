package pipeline

import (
	"github.com/pkg/errors"

	"github.com/askiada/go-stepcache/pkg/pipeline/model"
)

// Pipeline aggregates an experiment identity, an ordered sample set and
// named queues of step definitions. It is purely structural: building and
// inspecting it has no execution side effects.
type Pipeline struct {
	experiment string
	samples    []model.Sample
	queues     map[string]*model.Queue
	order      []string
}

// New creates a pipeline for the given experiment name. The experiment
// scopes every cache entry written during execution, so it must not change
// once a run has started writing under it.
func New(experiment string, samples ...model.Sample) (*Pipeline, error) {
	if experiment == "" {
		return nil, model.ErrEmptyExperiment
	}

	pipe := &Pipeline{
		experiment: experiment,
		queues:     make(map[string]*model.Queue),
	}

	for _, sample := range samples {
		if err := pipe.AddSample(sample); err != nil {
			return nil, err
		}
	}

	return pipe, nil
}

// Experiment returns the experiment name.
func (p *Pipeline) Experiment() string {
	return p.experiment
}

// AddSample appends a sample to the pipeline. Sample identifiers must be
// unique.
func (p *Pipeline) AddSample(sample model.Sample) error {
	if sample.Source == "" {
		return model.ErrEmptySampleSource
	}
	if sample.ID == "" {
		sample = model.NewSample(sample.Source)
	}

	for _, existing := range p.samples {
		if existing.ID == sample.ID {
			return errors.Wrap(model.ErrDuplicateSampleIDs, sample.ID)
		}
	}

	p.samples = append(p.samples, sample)

	return nil
}

// Samples returns the samples in declaration order.
func (p *Pipeline) Samples() []model.Sample {
	out := make([]model.Sample, len(p.samples))
	copy(out, p.samples)

	return out
}

// Sample returns the sample with the given identifier.
func (p *Pipeline) Sample(id string) (model.Sample, bool) {
	for _, sample := range p.samples {
		if sample.ID == id {
			return sample, true
		}
	}

	return model.Sample{}, false
}

// AddQueue creates a new empty queue.
func (p *Pipeline) AddQueue(name string) (*model.Queue, error) {
	if name == "" {
		return nil, model.ErrEmptyQueueName
	}
	if _, ok := p.queues[name]; ok {
		return nil, errors.Wrap(ErrDuplicateQueueName, name)
	}

	q := model.NewQueue(name)
	p.queues[name] = q
	p.order = append(p.order, name)

	return q, nil
}

// AddStep appends a step definition to the named queue, creating the queue
// if it does not exist yet. Adding a step after a partial execution does
// not invalidate already cached prior steps.
func (p *Pipeline) AddStep(queueName string, def model.StepDef) error {
	q, ok := p.queues[queueName]
	if !ok {
		created, err := p.AddQueue(queueName)
		if err != nil {
			return err
		}
		q = created
	}

	return q.AddStep(def)
}

// Queue returns the named queue.
func (p *Pipeline) Queue(name string) (*model.Queue, bool) {
	q, ok := p.queues[name]

	return q, ok
}

// Queues returns the queue names in declaration order.
func (p *Pipeline) Queues() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)

	return out
}

// Steps returns the step definitions of the named queue in declared order.
func (p *Pipeline) Steps(queueName string) ([]model.StepDef, error) {
	q, ok := p.queues[queueName]
	if !ok {
		return nil, errors.Wrap(ErrUnknownQueue, queueName)
	}

	out := make([]model.StepDef, len(q.Steps))
	copy(out, q.Steps)

	return out, nil
}

// Validate checks the structural invariants of every queue.
func (p *Pipeline) Validate() error {
	for _, name := range p.order {
		if err := p.queues[name].Validate(); err != nil {
			return err
		}
	}

	return nil
}

// StepDescription is the structural summary of one step.
type StepDescription struct {
	Name       string   `json:"name"`
	Function   string   `json:"function"`
	References []string `json:"references,omitempty"`
}

// QueueDescription is the structural summary of one queue.
type QueueDescription struct {
	Name  string            `json:"name"`
	Steps []StepDescription `json:"steps"`
}

// Description is the structural summary of a pipeline, consumed by
// inspection and visualization tooling.
type Description struct {
	Experiment string             `json:"experiment"`
	Samples    []string           `json:"samples"`
	Queues     []QueueDescription `json:"queues"`
}

// Describe produces the structural summary of the pipeline.
func (p *Pipeline) Describe() Description {
	desc := Description{
		Experiment: p.experiment,
		Samples:    make([]string, 0, len(p.samples)),
		Queues:     make([]QueueDescription, 0, len(p.order)),
	}

	for _, sample := range p.samples {
		desc.Samples = append(desc.Samples, sample.ID)
	}

	for _, name := range p.order {
		q := p.queues[name]
		qd := QueueDescription{Name: name, Steps: make([]StepDescription, 0, len(q.Steps))}
		for _, def := range q.Steps {
			qd.Steps = append(qd.Steps, StepDescription{
				Name:       def.Name,
				Function:   def.Function,
				References: def.References(),
			})
		}
		desc.Queues = append(desc.Queues, qd)
	}

	return desc
}
