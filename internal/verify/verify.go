// Package verify checks API responses against structured expectations.
// Field expectations address the decoded JSON body with jq paths.
package verify

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/hyperjump/vearchprobe/internal/client"
	"github.com/hyperjump/vearchprobe/pkg/utils"
	"github.com/itchyny/gojq"
)

const maxBodyInFailure = 512

// AssertionFailure records one unmet expectation.
type AssertionFailure struct {
	Op          string `json:"op"`
	Expectation string `json:"expectation"`
	Detail      string `json:"detail,omitempty"`
	Body        string `json:"body,omitempty"`
}

func (f *AssertionFailure) Error() string {
	var b strings.Builder
	if f.Op != "" {
		b.WriteString(f.Op)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "expected %s", f.Expectation)
	if f.Detail != "" {
		fmt.Fprintf(&b, ", %s", f.Detail)
	}
	return b.String()
}

// Expectation is one condition on a response.
type Expectation interface {
	String() string
	check(status int, body []byte, doc func() (any, error)) (detail string, ok bool)
}

// Check evaluates every expectation against resp. All failures are returned, joined.
func Check(op string, resp *client.Response, exps ...Expectation) error {
	if resp == nil {
		return &AssertionFailure{Op: op, Expectation: "a response", Detail: "got none"}
	}

	var (
		decoded   any
		decodeErr error
		decodedOK bool
	)
	doc := func() (any, error) {
		if !decodedOK {
			decoded, decodeErr = resp.Value()
			decodedOK = true
		}
		return decoded, decodeErr
	}

	var failures []error
	for _, e := range exps {
		if detail, ok := e.check(resp.Status, resp.Body, doc); !ok {
			failures = append(failures, &AssertionFailure{
				Op:          op,
				Expectation: e.String(),
				Detail:      detail,
				Body:        utils.Truncate(string(resp.Body), maxBodyInFailure),
			})
		}
	}
	return errors.Join(failures...)
}

// Equal compares decoded values.
func Equal[T comparable](op, what string, want, got T) error {
	if want == got {
		return nil
	}
	return &AssertionFailure{
		Op:          op,
		Expectation: fmt.Sprintf("%s == %v", what, want),
		Detail:      fmt.Sprintf("got %v", got),
	}
}

// Failures flattens err into the assertion failures it carries.
func Failures(err error) []*AssertionFailure {
	if err == nil {
		return nil
	}
	var out []*AssertionFailure
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, Failures(e)...)
		}
		return out
	}
	var f *AssertionFailure
	if errors.As(err, &f) {
		out = append(out, f)
	}
	return out
}

type statusExpectation int

// Status expects an exact HTTP status.
func Status(code int) Expectation {
	return statusExpectation(code)
}

func (s statusExpectation) String() string {
	return fmt.Sprintf("status %d", int(s))
}

func (s statusExpectation) check(status int, _ []byte, _ func() (any, error)) (string, bool) {
	if status == int(s) {
		return "", true
	}
	return fmt.Sprintf("got %d", status), false
}

type containsExpectation string

// BodyContains expects a raw substring. Prefer Field expectations; this exists for diagnostics.
func BodyContains(s string) Expectation {
	return containsExpectation(s)
}

func (c containsExpectation) String() string {
	return fmt.Sprintf("body containing %q", string(c))
}

func (c containsExpectation) check(_ int, body []byte, _ func() (any, error)) (string, bool) {
	if strings.Contains(string(body), string(c)) {
		return "", true
	}
	return "not found", false
}

// Path is a compiled jq path into a response body.
type Path struct {
	expr string
	code *gojq.Code
	err  error
}

// Field compiles expr, for example ".hits.total" or "._shards.failed".
// A malformed expression fails every expectation built from it.
func Field(expr string) Path {
	p := Path{expr: expr}
	q, err := gojq.Parse(expr)
	if err != nil {
		p.err = fmt.Errorf("invalid jq expression %q: %w", expr, err)
		return p
	}
	p.code, p.err = gojq.Compile(q)
	return p
}

// Lookup evaluates the path on a decoded document and returns its first result.
func (p Path) Lookup(doc any) (any, error) {
	if p.err != nil {
		return nil, p.err
	}
	iter := p.code.Run(doc)
	v, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("%s produced no value", p.expr)
	}
	if err, ok := v.(error); ok {
		return nil, fmt.Errorf("%s: %w", p.expr, err)
	}
	return v, nil
}

type fieldExpectation struct {
	path Path
	desc string
	test func(v any) (string, bool)
}

func (f fieldExpectation) String() string {
	return f.path.expr + " " + f.desc
}

func (f fieldExpectation) check(_ int, _ []byte, doc func() (any, error)) (string, bool) {
	d, err := doc()
	if err != nil {
		return err.Error(), false
	}
	v, err := f.path.Lookup(d)
	if err != nil {
		return err.Error(), false
	}
	return f.test(v)
}

// Equals expects the value at the path to equal want after JSON normalization.
func (p Path) Equals(want any) Expectation {
	normWant, werr := normalize(want)
	return fieldExpectation{
		path: p,
		desc: fmt.Sprintf("== %s", render(want)),
		test: func(v any) (string, bool) {
			if werr != nil {
				return werr.Error(), false
			}
			got, err := normalize(v)
			if err != nil {
				return err.Error(), false
			}
			if reflect.DeepEqual(normWant, got) {
				return "", true
			}
			return "got " + render(v), false
		},
	}
}

// Present expects the path to resolve to a non-null value.
func (p Path) Present() Expectation {
	return fieldExpectation{
		path: p,
		desc: "present",
		test: func(v any) (string, bool) {
			if v == nil {
				return "got null", false
			}
			return "", true
		},
	}
}

// AtLeast expects a number no smaller than n.
func (p Path) AtLeast(n float64) Expectation {
	return fieldExpectation{
		path: p,
		desc: fmt.Sprintf(">= %v", n),
		test: func(v any) (string, bool) {
			f, ok := toFloat(v)
			if !ok {
				return fmt.Sprintf("got non-number %s", render(v)), false
			}
			if f >= n {
				return "", true
			}
			return fmt.Sprintf("got %v", f), false
		},
	}
}

// Len expects an array or object with exactly n elements.
func (p Path) Len(n int) Expectation {
	return fieldExpectation{
		path: p,
		desc: fmt.Sprintf("of length %d", n),
		test: func(v any) (string, bool) {
			var got int
			switch t := v.(type) {
			case []any:
				got = len(t)
			case map[string]any:
				got = len(t)
			default:
				return fmt.Sprintf("got %s", render(v)), false
			}
			if got == n {
				return "", true
			}
			return fmt.Sprintf("got length %d", got), false
		},
	}
}

func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func render(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case float64:
		return t, true
	case *big.Int:
		f, _ := new(big.Float).SetInt(t).Float64()
		return f, true
	default:
		return 0, false
	}
}
