package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Filter is one predicate in a query's filter list. Variants are RangeFilter and TermFilter.
type Filter interface {
	Validate() error
	filterJSON() any
}

// RangeFilter matches numeric fields within the given bounds.
type RangeFilter struct {
	Field string
	GTE   *float64
	LTE   *float64
	GT    *float64
	LT    *float64
}

// Between returns an inclusive range filter.
func Between(field string, lo, hi float64) RangeFilter {
	return RangeFilter{Field: field, GTE: &lo, LTE: &hi}
}

// Validate checks the filter has a field and at least one bound.
func (f RangeFilter) Validate() error {
	if f.Field == "" {
		return errors.New("range filter: field is required")
	}
	if f.GTE == nil && f.LTE == nil && f.GT == nil && f.LT == nil {
		return fmt.Errorf("range filter on %q: at least one bound is required", f.Field)
	}
	lo, hi := f.GTE, f.LTE
	if lo == nil {
		lo = f.GT
	}
	if hi == nil {
		hi = f.LT
	}
	if lo != nil && hi != nil && *lo > *hi {
		return fmt.Errorf("range filter on %q: lower bound %v above upper bound %v", f.Field, *lo, *hi)
	}
	return nil
}

// Matches reports whether v falls within the bounds.
func (f RangeFilter) Matches(v float64) bool {
	if f.GTE != nil && v < *f.GTE {
		return false
	}
	if f.GT != nil && v <= *f.GT {
		return false
	}
	if f.LTE != nil && v > *f.LTE {
		return false
	}
	if f.LT != nil && v >= *f.LT {
		return false
	}
	return true
}

type rangeBounds struct {
	GTE *float64 `json:"gte,omitempty"`
	LTE *float64 `json:"lte,omitempty"`
	GT  *float64 `json:"gt,omitempty"`
	LT  *float64 `json:"lt,omitempty"`
}

func (f RangeFilter) filterJSON() any {
	return map[string]any{"range": map[string]rangeBounds{
		f.Field: {GTE: f.GTE, LTE: f.LTE, GT: f.GT, LT: f.LT},
	}}
}

// Term operators.
const (
	OperatorAnd = "and"
	OperatorOr  = "or"
)

// TermFilter matches string or tag fields against a set of values.
type TermFilter struct {
	Field    string
	Values   []Scalar
	Operator string
}

// Terms returns an "or" term filter over string values.
func Terms(field string, values ...string) TermFilter {
	scalars := make([]Scalar, len(values))
	for i, v := range values {
		scalars[i] = String(v)
	}
	return TermFilter{Field: field, Values: scalars, Operator: OperatorOr}
}

// Validate checks the filter has a field, values and a known operator.
func (f TermFilter) Validate() error {
	if f.Field == "" {
		return errors.New("term filter: field is required")
	}
	if f.Field == "operator" {
		return errors.New("term filter: field name \"operator\" is reserved")
	}
	if len(f.Values) == 0 {
		return fmt.Errorf("term filter on %q: at least one value is required", f.Field)
	}
	switch f.Operator {
	case "", OperatorAnd, OperatorOr:
		return nil
	default:
		return fmt.Errorf("term filter on %q: unknown operator %q", f.Field, f.Operator)
	}
}

// Matches reports whether the field values satisfy the filter.
func (f TermFilter) Matches(values []Scalar) bool {
	have := make(map[string]struct{}, len(values))
	for _, v := range values {
		have[v.Text()] = struct{}{}
	}
	matched := 0
	for _, want := range f.Values {
		if _, ok := have[want.Text()]; ok {
			matched++
		}
	}
	if f.Operator == OperatorAnd {
		return matched == len(f.Values)
	}
	return matched > 0
}

func (f TermFilter) filterJSON() any {
	body := map[string]any{f.Field: f.Values}
	if f.Operator != "" {
		body["operator"] = f.Operator
	}
	return map[string]any{"term": body}
}

// VectorSumClause scores documents by similarity between Feature and the vector field.
type VectorSumClause struct {
	Field    string    `json:"field"`
	Feature  []float32 `json:"feature"`
	Format   string    `json:"format,omitempty"`
	MinScore *float64  `json:"min_score,omitempty"`
	MaxScore *float64  `json:"max_score,omitempty"`
	Boost    *float64  `json:"boost,omitempty"`
}

// Validate checks the clause has a field and a feature.
func (c VectorSumClause) Validate() error {
	if c.Field == "" {
		return errors.New("sum clause: field is required")
	}
	if len(c.Feature) == 0 {
		return fmt.Errorf("sum clause on %q: feature is empty", c.Field)
	}
	if c.Format != "" && c.Format != "normalization" {
		return fmt.Errorf("sum clause on %q: unknown format %q", c.Field, c.Format)
	}
	if c.MinScore != nil && c.MaxScore != nil && *c.MinScore > *c.MaxScore {
		return fmt.Errorf("sum clause on %q: min_score above max_score", c.Field)
	}
	return nil
}

// RetrievalParam carries index search hints such as the IVF probe count.
type RetrievalParam struct {
	Nprobe            int    `json:"nprobe,omitempty"`
	ParallelOnQueries int    `json:"parallel_on_queries"`
	MetricType        string `json:"metric_type,omitempty"`
}

// Query is a vector search or delete-by-query request.
type Query struct {
	Sum            []VectorSumClause
	Filters        []Filter
	Size           int
	Fields         []string
	VectorValue    bool
	Quick          bool
	RetrievalParam *RetrievalParam
}

// Validate checks every clause and filter. A query needs at least one sum clause or filter.
func (q Query) Validate() error {
	if len(q.Sum) == 0 && len(q.Filters) == 0 {
		return errors.New("query needs at least one sum clause or filter")
	}
	if q.Size < 0 {
		return fmt.Errorf("query size must not be negative, got %d", q.Size)
	}
	for _, c := range q.Sum {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	for _, f := range q.Filters {
		if f == nil {
			return errors.New("query contains a nil filter")
		}
		if err := f.Validate(); err != nil {
			return err
		}
	}
	if p := q.RetrievalParam; p != nil && p.Nprobe < 0 {
		return fmt.Errorf("retrieval param nprobe must not be negative, got %d", p.Nprobe)
	}
	return nil
}

type wireQueryBody struct {
	Sum    []VectorSumClause `json:"sum,omitempty"`
	Filter []json.RawMessage `json:"filter,omitempty"`
}

type wireQuery struct {
	Query          wireQueryBody   `json:"query"`
	Size           int             `json:"size,omitempty"`
	Fields         []string        `json:"fields,omitempty"`
	VectorValue    bool            `json:"vector_value"`
	Quick          bool            `json:"quick,omitempty"`
	RetrievalParam *RetrievalParam `json:"retrieval_param,omitempty"`
}

// MarshalJSON validates q and renders the vearch search body.
func (q Query) MarshalJSON() ([]byte, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	w := wireQuery{
		Query:          wireQueryBody{Sum: q.Sum},
		Size:           q.Size,
		Fields:         q.Fields,
		VectorValue:    q.VectorValue,
		Quick:          q.Quick,
		RetrievalParam: q.RetrievalParam,
	}
	for _, f := range q.Filters {
		raw, err := json.Marshal(f.filterJSON())
		if err != nil {
			return nil, err
		}
		w.Query.Filter = append(w.Query.Filter, raw)
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses a vearch search body, resolving each filter into its variant.
func (q *Query) UnmarshalJSON(data []byte) error {
	var w wireQuery
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Query{
		Sum:            w.Query.Sum,
		Size:           w.Size,
		Fields:         w.Fields,
		VectorValue:    w.VectorValue,
		Quick:          w.Quick,
		RetrievalParam: w.RetrievalParam,
	}
	for i, raw := range w.Query.Filter {
		f, err := DecodeFilter(raw)
		if err != nil {
			return fmt.Errorf("filter %d: %w", i, err)
		}
		out.Filters = append(out.Filters, f)
	}
	*q = out
	return nil
}

// DecodeFilter parses one element of a query's filter list.
func DecodeFilter(raw json.RawMessage) (Filter, error) {
	var envelope struct {
		Range map[string]rangeBounds     `json:"range"`
		Term  map[string]json.RawMessage `json:"term"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&envelope); err != nil {
		return nil, err
	}
	switch {
	case len(envelope.Range) == 1:
		for field, b := range envelope.Range {
			return RangeFilter{Field: field, GTE: b.GTE, LTE: b.LTE, GT: b.GT, LT: b.LT}, nil
		}
	case len(envelope.Term) > 0:
		f := TermFilter{Operator: OperatorOr}
		for key, val := range envelope.Term {
			if key == "operator" {
				if err := json.Unmarshal(val, &f.Operator); err != nil {
					return nil, fmt.Errorf("term operator: %w", err)
				}
				continue
			}
			if f.Field != "" {
				return nil, fmt.Errorf("term filter names more than one field")
			}
			f.Field = key
			values, err := decodeTermValues(val)
			if err != nil {
				return nil, fmt.Errorf("term %q: %w", key, err)
			}
			f.Values = values
		}
		return f, nil
	}
	return nil, fmt.Errorf("unrecognized filter %s", string(raw))
}

func decodeTermValues(raw json.RawMessage) ([]Scalar, error) {
	var many []Scalar
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	var one Scalar
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []Scalar{one}, nil
}
