package pipeline

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrPipelineMustBeSet  = errors.New("pipeline must be set")
	ErrRegistryMustBeSet  = errors.New("registry must be set")
	ErrCacheMustBeSet     = errors.New("cache must be set")
	ErrUnknownQueue       = errors.New("unknown queue")
	ErrUnknownSample      = errors.New("unknown sample")
	ErrDuplicateQueueName = errors.New("queue name already exists")
)

// FailureKind classifies a step-local failure. All four kinds are non-fatal
// to the run: they become Failed cache entries and report outcomes.
type FailureKind string

const (
	// FailureUnknownFunction marks a step naming a function the registry
	// cannot resolve.
	FailureUnknownFunction FailureKind = "unknown_function"
	// FailureArgumentMismatch marks declared arguments that do not satisfy
	// the function's parameter list.
	FailureArgumentMismatch FailureKind = "argument_mismatch"
	// FailureUnresolvedDependency marks a referenced producer step without
	// a successful cached result.
	FailureUnresolvedDependency FailureKind = "unresolved_dependency"
	// FailureInvocation marks a domain error reported by the step function
	// itself.
	FailureInvocation FailureKind = "invocation"
)

// Failure is the recorded detail of a step-local failure.
type Failure struct {
	Kind   FailureKind `json:"kind"`
	Detail string      `json:"detail"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}
