package style

import (
	"bytes"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/tiendc/go-deepcopy"
)

// Properties is an opaque property bag as exchanged with the engine.
// Values must be JSON-representable.
type Properties map[string]any

// TypeConversionError is returned when a property bag cannot be converted to
// or from a typed value.
type TypeConversionError struct {
	Target string
	Err    error
}

func (e *TypeConversionError) Error() string {
	return fmt.Sprintf("convert properties to %s: %v", e.Target, e.Err)
}

func (e *TypeConversionError) Unwrap() error { return e.Err }

// Clone returns a deep copy of p.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	var out Properties
	if err := deepcopy.Copy(&out, p); err != nil {
		// Fall back to a round trip through the canonical encoding.
		raw, mErr := canonical(p)
		if mErr != nil {
			return p
		}
		out = Properties{}
		if uErr := json.Unmarshal(raw, &out); uErr != nil {
			return p
		}
	}
	return out
}

// Fingerprint hashes the canonical encoding of p. Map keys are encoded in
// sorted order, so equal bags yield equal fingerprints.
func (p Properties) Fingerprint() (uint64, error) {
	raw, err := canonical(p)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(raw), nil
}

// Equal compares two bags by their canonical encoding. Numbers compare by
// value, so int(1) equals float64(1). An empty bag equals nil.
func (p Properties) Equal(o Properties) bool {
	if len(p) == 0 && len(o) == 0 {
		return true
	}
	return valueEqual(map[string]any(p), map[string]any(o))
}

// Patch returns the keys of next whose value differs from prev, plus a nil
// entry for every key of prev that next no longer has.
func Patch(prev, next Properties) Properties {
	out := Properties{}
	for k, v := range next {
		if old, ok := prev[k]; !ok || !valueEqual(old, v) {
			out[k] = v
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			out[k] = nil
		}
	}
	return out
}

// Decode converts a property bag into a typed value.
func Decode[T any](p Properties) (T, error) {
	var out T
	raw, err := json.Marshal(p)
	if err != nil {
		return out, &TypeConversionError{Target: fmt.Sprintf("%T", out), Err: err}
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &TypeConversionError{Target: fmt.Sprintf("%T", out), Err: err}
	}
	return out, nil
}

// Encode converts a typed value into a property bag.
func Encode(v any) (Properties, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &TypeConversionError{Target: "Properties", Err: err}
	}
	var out Properties
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &TypeConversionError{Target: "Properties", Err: err}
	}
	return out, nil
}

func canonical(v any) ([]byte, error) {
	return json.Marshal(v)
}

func valueEqual(a, b any) bool {
	ra, errA := canonical(a)
	rb, errB := canonical(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ra, rb)
}

// ValueEqual compares two property values by canonical encoding.
func ValueEqual(a, b any) bool {
	return valueEqual(a, b)
}
