package domain

import (
	"bytes"
	"encoding/json"
)

// Opt is a confidence-gated optional value. Unknown means the analysis engine
// declined to assert a value; it is distinct from a zero value and must never
// be replaced with a default downstream.
type Opt[T any] struct {
	value T
	known bool
}

func Known[T any](v T) Opt[T] {
	return Opt[T]{value: v, known: true}
}

func Unknown[T any]() Opt[T] {
	return Opt[T]{}
}

func (o Opt[T]) Known() bool {
	return o.known
}

// Get returns the value and whether it is known.
func (o Opt[T]) Get() (T, bool) {
	return o.value, o.known
}

// MustGet returns the value, or the zero value when unknown. Callers must
// check Known first; this exists for call sites that already have.
func (o Opt[T]) MustGet() T {
	return o.value
}

var jsonNull = []byte("null")

// MarshalJSON encodes Unknown as null so the wire shape matches the
// enumerated-value-or-null contract of the model output.
func (o Opt[T]) MarshalJSON() ([]byte, error) {
	if !o.known {
		return jsonNull, nil
	}
	return json.Marshal(o.value)
}

func (o *Opt[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		*o = Opt[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Opt[T]{value: v, known: true}
	return nil
}
