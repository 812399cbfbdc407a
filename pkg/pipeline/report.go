package pipeline

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// OutcomeStatus is the per-(queue, step, sample) result of one run.
type OutcomeStatus string

const (
	// StatusSucceededNew marks a step whose function was invoked and
	// produced a fresh artifact.
	StatusSucceededNew OutcomeStatus = "succeeded"
	// StatusReused marks a step satisfied from the cache without invoking
	// its function.
	StatusReused OutcomeStatus = "reused"
	// StatusFailed marks a step that failed with one of the step-local
	// failure kinds.
	StatusFailed OutcomeStatus = "failed"
	// StatusNotReached marks a step skipped because an earlier step in the
	// same (queue, sample) failed.
	StatusNotReached OutcomeStatus = "not_reached"
)

// Outcome is the result of one step for one sample in one queue.
type Outcome struct {
	Queue    string        `json:"queue"`
	Step     string        `json:"step"`
	Sample   string        `json:"sample"`
	Status   OutcomeStatus `json:"status"`
	Artifact any           `json:"artifact,omitempty"`
	Failure  *Failure      `json:"failure,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report aggregates the outcome of every attempted (queue, step, sample)
// triple of one Execute call. Units of work append concurrently; the final
// ordering groups outcomes by queue and sample, steps in declared order.
type Report struct {
	RunID       string
	Experiment  string
	StartedAt   time.Time
	CompletedAt time.Time

	mu       sync.Mutex
	outcomes []Outcome
}

func newReport(experiment string) *Report {
	return &Report{
		RunID:      ulid.Make().String(),
		Experiment: experiment,
		StartedAt:  time.Now().UTC(),
	}
}

// append adds one unit's outcomes, keeping the unit's internal step order.
func (r *Report) append(outcomes []Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.outcomes = append(r.outcomes, outcomes...)
}

func (r *Report) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.CompletedAt = time.Now().UTC()

	sort.SliceStable(r.outcomes, func(i, j int) bool {
		a, b := r.outcomes[i], r.outcomes[j]
		if a.Queue != b.Queue {
			return a.Queue < b.Queue
		}

		return a.Sample < b.Sample
	})
}

// Outcomes returns every outcome of the run.
func (r *Report) Outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Outcome, len(r.outcomes))
	copy(out, r.outcomes)

	return out
}

// Outcome returns the result recorded for one (queue, step, sample) triple.
func (r *Report) Outcome(queue, step, sample string) (Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range r.outcomes {
		if o.Queue == queue && o.Step == step && o.Sample == sample {
			return o, true
		}
	}

	return Outcome{}, false
}

// Failed returns the outcomes that failed.
func (r *Report) Failed() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Outcome, 0)
	for _, o := range r.outcomes {
		if o.Status == StatusFailed {
			out = append(out, o)
		}
	}

	return out
}

// Count returns the number of outcomes with the given status.
func (r *Report) Count(status OutcomeStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, o := range r.outcomes {
		if o.Status == status {
			n++
		}
	}

	return n
}

// Duration returns the wall-clock duration of the run.
func (r *Report) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// MarshalJSON renders the report for downstream tooling.
func (r *Report) MarshalJSON() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return json.Marshal(struct {
		RunID       string    `json:"run_id"`
		Experiment  string    `json:"experiment"`
		StartedAt   time.Time `json:"started_at"`
		CompletedAt time.Time `json:"completed_at"`
		Outcomes    []Outcome `json:"outcomes"`
	}{
		RunID:       r.RunID,
		Experiment:  r.Experiment,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Outcomes:    r.outcomes,
	})
}
