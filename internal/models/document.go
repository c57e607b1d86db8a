// Package models defines the fixture records, query specifications and response schemas
// exchanged with a vearch cluster.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ScalarKind identifies the concrete type held by a Scalar.
type ScalarKind int

const (
	KindInt ScalarKind = iota + 1
	KindFloat
	KindString
)

func (k ScalarKind) String() string {
	switch k {
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Scalar is an int, float or string field value.
type Scalar struct {
	Kind  ScalarKind
	Int   int64
	Float float64
	Str   string
}

// Int returns an integer scalar.
func Int(v int64) Scalar { return Scalar{Kind: KindInt, Int: v} }

// Float returns a float scalar.
func Float(v float64) Scalar { return Scalar{Kind: KindFloat, Float: v} }

// String returns a string scalar.
func String(v string) Scalar { return Scalar{Kind: KindString, Str: v} }

// Number returns the numeric value of s; ok is false for strings.
func (s Scalar) Number() (v float64, ok bool) {
	switch s.Kind {
	case KindInt:
		return float64(s.Int), true
	case KindFloat:
		return s.Float, true
	default:
		return 0, false
	}
}

// Text renders s the way vearch compares term values.
func (s Scalar) Text() string {
	switch s.Kind {
	case KindInt:
		return strconv.FormatInt(s.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(s.Float, 'g', -1, 64)
	default:
		return s.Str
	}
}

// MarshalJSON implements json.Marshaler.
func (s Scalar) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case KindInt:
		return json.Marshal(s.Int)
	case KindFloat:
		return json.Marshal(s.Float)
	case KindString:
		return json.Marshal(s.Str)
	default:
		return nil, fmt.Errorf("scalar has no kind")
	}
}

// UnmarshalJSON implements json.Unmarshaler. Numbers without a fraction or exponent become ints.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	parsed, err := ScalarFromJSON(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ScalarFromJSON converts a value decoded with json.Decoder.UseNumber into a Scalar.
func ScalarFromJSON(v any) (Scalar, error) {
	switch t := v.(type) {
	case string:
		return String(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Scalar{}, fmt.Errorf("invalid number %q: %w", t, err)
		}
		return Float(f), nil
	case float64:
		if t == float64(int64(t)) {
			return Int(int64(t)), nil
		}
		return Float(t), nil
	default:
		return Scalar{}, fmt.Errorf("unsupported scalar value %T", v)
	}
}

// Record is one fixture document: an identifier, one vector and typed scalar and tag fields.
type Record struct {
	ID          string
	NumericID   bool
	VectorField string
	Vector      []float32
	Scalars     map[string]Scalar
	Tags        map[string][]Scalar
}

// VectorValue is the wire shape of a vector field value.
type VectorValue struct {
	Feature []float32 `json:"feature"`
}

// Body renders the insert payload for r. The identifier is carried by the URL or bulk action line,
// never by the body.
func (r Record) Body() ([]byte, error) {
	if r.VectorField == "" || len(r.Vector) == 0 {
		return nil, fmt.Errorf("record %q has no vector", r.ID)
	}
	doc := make(map[string]any, len(r.Scalars)+len(r.Tags)+1)
	for name, v := range r.Scalars {
		doc[name] = v
	}
	for name, tags := range r.Tags {
		doc[name] = tags
	}
	doc[r.VectorField] = VectorValue{Feature: r.Vector}
	return json.Marshal(doc)
}

// Dimension returns the length of the record's vector.
func (r Record) Dimension() int {
	return len(r.Vector)
}
