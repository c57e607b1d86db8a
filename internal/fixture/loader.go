// Package fixture reads newline-delimited JSON test documents and SIFT-style vector datasets.
package fixture

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"

	"github.com/hyperjump/vearchprobe/internal/models"
)

const maxLineSize = 16 * 1024 * 1024

// ParseError reports a fixture line that is not valid JSON or lacks a required field.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("fixture %s line %d: %v", e.Path, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Loader describes a fixture file. It holds no open resources, so every Open starts from the first line.
type Loader struct {
	Path        string
	MaxRecords  int
	IDField     string
	VectorField string
	S3          S3Options
	Store       ObjectStore
}

func (l *Loader) idField() string {
	if l.IDField == "" {
		return "_id"
	}
	return l.IDField
}

func (l *Loader) vectorField() string {
	if l.VectorField == "" {
		return "vector"
	}
	return l.VectorField
}

// Reader yields records from one pass over a fixture.
type Reader struct {
	ctx     context.Context
	loader  *Loader
	src     io.ReadCloser
	scanner *bufio.Scanner
	line    int
	count   int
}

// Open starts a new pass over the fixture.
func (l *Loader) Open(ctx context.Context) (*Reader, error) {
	src, err := openSource(ctx, l.Path, l.Store, l.S3)
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{ctx: ctx, loader: l, src: src, scanner: sc}, nil
}

// Next returns the next record, or io.EOF once the file or the record limit is exhausted.
func (r *Reader) Next() (models.Record, error) {
	if max := r.loader.MaxRecords; max > 0 && r.count >= max {
		return models.Record{}, io.EOF
	}
	for r.scanner.Scan() {
		if err := r.ctx.Err(); err != nil {
			return models.Record{}, err
		}
		r.line++
		text := bytes.TrimSpace(r.scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		rec, err := parseRecord(text, r.loader.idField(), r.loader.vectorField())
		if err != nil {
			return models.Record{}, &ParseError{Path: r.loader.Path, Line: r.line, Err: err}
		}
		r.count++
		return rec, nil
	}
	if err := r.scanner.Err(); err != nil {
		return models.Record{}, &ParseError{Path: r.loader.Path, Line: r.line + 1, Err: err}
	}
	return models.Record{}, io.EOF
}

// Line returns the number of lines consumed so far.
func (r *Reader) Line() int {
	return r.line
}

// Close releases the underlying file or object.
func (r *Reader) Close() error {
	return r.src.Close()
}

// All returns a single-use sequence over a fresh pass. Iteration stops after the first error.
func (l *Loader) All(ctx context.Context) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		r, err := l.Open(ctx)
		if err != nil {
			yield(models.Record{}, err)
			return
		}
		defer r.Close()
		for {
			rec, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

// Load reads every record. Any malformed line fails the whole load.
func (l *Loader) Load(ctx context.Context) ([]models.Record, error) {
	var out []models.Record
	for rec, err := range l.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseRecord(line []byte, idField, vectorField string) (models.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return models.Record{}, fmt.Errorf("invalid json: %w", err)
	}
	if raw == nil {
		return models.Record{}, errors.New("line is not a json object")
	}

	rec := models.Record{
		VectorField: vectorField,
		Scalars:     map[string]models.Scalar{},
		Tags:        map[string][]models.Scalar{},
	}

	id, ok := raw[idField]
	if !ok {
		return models.Record{}, fmt.Errorf("missing %q field", idField)
	}
	switch v := id.(type) {
	case string:
		rec.ID = v
	case json.Number:
		rec.ID = v.String()
	default:
		return models.Record{}, fmt.Errorf("field %q must be a string or number, got %T", idField, id)
	}
	if rec.ID == "" {
		return models.Record{}, fmt.Errorf("field %q is empty", idField)
	}
	if _, err := strconv.ParseUint(rec.ID, 10, 32); err == nil {
		rec.NumericID = true
	}

	vec, ok := raw[vectorField]
	if !ok {
		return models.Record{}, fmt.Errorf("missing %q field", vectorField)
	}
	feature, err := parseVector(vec)
	if err != nil {
		return models.Record{}, fmt.Errorf("field %q: %w", vectorField, err)
	}
	rec.Vector = feature

	for name, v := range raw {
		if name == idField || name == vectorField || v == nil {
			continue
		}
		if arr, ok := v.([]any); ok {
			tags := make([]models.Scalar, 0, len(arr))
			for _, item := range arr {
				s, err := models.ScalarFromJSON(item)
				if err != nil {
					return models.Record{}, fmt.Errorf("field %q: %w", name, err)
				}
				tags = append(tags, s)
			}
			rec.Tags[name] = tags
			continue
		}
		s, err := models.ScalarFromJSON(v)
		if err != nil {
			return models.Record{}, fmt.Errorf("field %q: %w", name, err)
		}
		rec.Scalars[name] = s
	}
	return rec, nil
}

// parseVector accepts {"feature":[...]} or a bare array.
func parseVector(v any) ([]float32, error) {
	if obj, ok := v.(map[string]any); ok {
		v, ok = obj["feature"]
		if !ok {
			return nil, errors.New("missing feature")
		}
	}
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return nil, errors.New("feature must be a non-empty array")
	}
	out := make([]float32, len(arr))
	for i, item := range arr {
		n, ok := item.(json.Number)
		if !ok {
			return nil, fmt.Errorf("feature[%d] is not a number", i)
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("feature[%d]: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}
