// Package registry maps step function identifiers to invocable Go
// implementations and validates declared arguments against a function's
// parameter list before invocation.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/askiada/go-stepcache/pkg/pipeline/model"
)

var (
	ErrUnknownFunction   = errors.New("unknown step function")
	ErrAlreadyRegistered = errors.New("step function already registered")
	ErrEmptyFunctionName = errors.New("function name must not be empty")
)

// Args holds the resolved arguments handed to a step function: literal
// configuration values plus substituted producer artifacts.
type Args map[string]any

// StepFunc is the uniform interface every registered step function
// implements, regardless of origin. It returns the produced artifact or a
// descriptive failure.
type StepFunc func(ctx context.Context, sample model.Sample, args Args) (any, error)

// Param declares one parameter a step function accepts.
type Param struct {
	Name     string
	Required bool
}

// Required declares a mandatory parameter.
func Required(name string) Param {
	return Param{Name: name, Required: true}
}

// Optional declares a parameter that may be omitted.
func Optional(name string) Param {
	return Param{Name: name}
}

// Function is a resolved registry entry.
type Function struct {
	Name   string
	Params []Param
	Fn     StepFunc
}

// ArgumentMismatchError reports declared arguments that do not satisfy a
// function's parameter list.
type ArgumentMismatchError struct {
	Function   string
	Missing    []string
	Unexpected []string
}

func (e *ArgumentMismatchError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, fmt.Sprintf("unexpected %s", strings.Join(e.Unexpected, ", ")))
	}

	return fmt.Sprintf("arguments do not match function %s: %s", e.Function, strings.Join(parts, "; "))
}

// Registry holds the mapping from function identifiers to step functions.
// Registration normally happens at startup; resolution happens once per
// step definition at execution time, so a typo in a configured function
// name surfaces as a per-step failure instead of aborting construction.
type Registry struct {
	mu        sync.RWMutex
	functions map[string]Function
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{functions: make(map[string]Function)}
}

// Register adds a step function under the given identifier.
func (r *Registry) Register(name string, fn StepFunc, params ...Param) error {
	if name == "" {
		return ErrEmptyFunctionName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.functions[name]; ok {
		return errors.Wrap(ErrAlreadyRegistered, name)
	}

	r.functions[name] = Function{Name: name, Params: params, Fn: fn}

	return nil
}

// MustRegister is Register, panicking on error. Meant for startup wiring.
func (r *Registry) MustRegister(name string, fn StepFunc, params ...Param) {
	if err := r.Register(name, fn, params...); err != nil {
		panic(err)
	}
}

// Resolve looks up the function registered under the given identifier.
func (r *Registry) Resolve(name string) (Function, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.functions[name]
	if !ok {
		return Function{}, errors.Wrap(ErrUnknownFunction, name)
	}

	return fn, nil
}

// List returns the registered function identifiers, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// ValidateArgs checks that the declared argument names satisfy the
// function's parameter list. A function declared without parameters
// accepts any arguments.
func ValidateArgs(fn Function, args map[string]model.Value) error {
	if len(fn.Params) == 0 {
		return nil
	}

	declared := make(map[string]struct{}, len(fn.Params))

	var missing []string
	for _, param := range fn.Params {
		declared[param.Name] = struct{}{}
		if !param.Required {
			continue
		}
		if _, ok := args[param.Name]; !ok {
			missing = append(missing, param.Name)
		}
	}

	var unexpected []string
	for name := range args {
		if _, ok := declared[name]; !ok {
			unexpected = append(unexpected, name)
		}
	}

	if len(missing) == 0 && len(unexpected) == 0 {
		return nil
	}

	sort.Strings(missing)
	sort.Strings(unexpected)

	return &ArgumentMismatchError{Function: fn.Name, Missing: missing, Unexpected: unexpected}
}
