package model

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// refKey marks a step-output reference inside a JSON argument mapping.
const refKey = "$step"

// ValueKind discriminates the variants of a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindScalar
	KindList
	KindMap
	KindStepRef
)

// Value is one argument value in a step definition. It is either a literal
// (scalar, list or nested mapping), absent, or a reference to the output of
// an earlier step in the same queue. Literals are opaque to the engine and
// passed through to the step function untouched.
type Value struct {
	kind    ValueKind
	scalar  any
	list    []Value
	mapping map[string]Value
	ref     string
}

// Null returns the absent value.
func Null() Value {
	return Value{kind: KindNull}
}

// Scalar returns a literal scalar value.
func Scalar(v any) Value {
	if v == nil {
		return Null()
	}

	return Value{kind: KindScalar, scalar: v}
}

// List returns a literal list value.
func List(elems ...Value) Value {
	return Value{kind: KindList, list: elems}
}

// Map returns a literal nested mapping value.
func Map(m map[string]Value) Value {
	return Value{kind: KindMap, mapping: m}
}

// StepRef returns a reference to the output of the named producer step.
func StepRef(stepName string) Value {
	return Value{kind: KindStepRef, ref: stepName}
}

// Kind returns the variant of the value.
func (v Value) Kind() ValueKind {
	return v.kind
}

// Ref returns the referenced step name when the value is a step reference.
func (v Value) Ref() (string, bool) {
	return v.ref, v.kind == KindStepRef
}

// References collects every step name referenced anywhere inside the value,
// including references nested in lists and mappings.
func (v Value) References() []string {
	seen := make(map[string]struct{})
	v.collectRefs(seen)

	refs := make([]string, 0, len(seen))
	for name := range seen {
		refs = append(refs, name)
	}

	sort.Strings(refs)

	return refs
}

func (v Value) collectRefs(seen map[string]struct{}) {
	switch v.kind {
	case KindStepRef:
		seen[v.ref] = struct{}{}
	case KindList:
		for _, elem := range v.list {
			elem.collectRefs(seen)
		}
	case KindMap:
		for _, elem := range v.mapping {
			elem.collectRefs(seen)
		}
	case KindNull, KindScalar:
	}
}

// Resolve converts the value to a plain Go value, substituting every step
// reference with the artifact returned by lookup.
func (v Value) Resolve(lookup func(stepName string) (any, bool)) (any, error) {
	switch v.kind {
	case KindNull:
		return nil, nil
	case KindScalar:
		return v.scalar, nil
	case KindStepRef:
		artifact, ok := lookup(v.ref)
		if !ok {
			return nil, errors.Errorf("no artifact available for step %q", v.ref)
		}

		return artifact, nil
	case KindList:
		out := make([]any, len(v.list))
		for i, elem := range v.list {
			resolved, err := elem.Resolve(lookup)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}

		return out, nil
	case KindMap:
		out := make(map[string]any, len(v.mapping))
		for name, elem := range v.mapping {
			resolved, err := elem.Resolve(lookup)
			if err != nil {
				return nil, err
			}
			out[name] = resolved
		}

		return out, nil
	}

	return nil, errors.Errorf("unknown value kind %d", v.kind)
}

// MarshalJSON renders literals as-is and step references as
// {"$step": "name"}.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindScalar:
		return json.Marshal(v.scalar)
	case KindStepRef:
		return json.Marshal(map[string]string{refKey: v.ref})
	case KindList:
		return json.Marshal(v.list)
	case KindMap:
		return json.Marshal(v.mapping)
	}

	return nil, errors.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON parses a JSON argument value. A mapping whose only key is
// "$step" becomes a step reference; everything else stays a literal.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "unable to decode argument value")
	}

	parsed, err := fromRaw(raw)
	if err != nil {
		return err
	}
	*v = parsed

	return nil
}

func fromRaw(raw any) (Value, error) {
	switch typed := raw.(type) {
	case nil:
		return Null(), nil
	case []any:
		elems := make([]Value, len(typed))
		for i, e := range typed {
			parsed, err := fromRaw(e)
			if err != nil {
				return Value{}, err
			}
			elems[i] = parsed
		}

		return List(elems...), nil
	case map[string]any:
		if ref, ok := typed[refKey]; ok && len(typed) == 1 {
			name, ok := ref.(string)
			if !ok {
				return Value{}, errors.Errorf("%s reference must be a string, got %T", refKey, ref)
			}

			return StepRef(name), nil
		}

		mapping := make(map[string]Value, len(typed))
		for name, e := range typed {
			parsed, err := fromRaw(e)
			if err != nil {
				return Value{}, err
			}
			mapping[name] = parsed
		}

		return Map(mapping), nil
	default:
		return Scalar(typed), nil
	}
}
