package harness

import (
	"time"

	"github.com/hyperjump/vearchprobe/internal/bench"
	"github.com/hyperjump/vearchprobe/internal/verify"
)

// Status is the outcome of one case.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// CaseResult records one case. Failures lists every unmet expectation; Error is set when the case
// was aborted by a transport or setup error.
type CaseResult struct {
	Name     string                     `json:"name"`
	Status   Status                     `json:"status"`
	Failures []*verify.AssertionFailure `json:"failures,omitempty"`
	Error    string                     `json:"error,omitempty"`
	Reason   string                     `json:"reason,omitempty"`
	Duration time.Duration              `json:"duration"`
}

// SweepResult is the recall sweep of one IVFFLAT space.
type SweepResult struct {
	Space      string              `json:"space"`
	StoreType  string              `json:"store_type"`
	NCentroids int                 `json:"ncentroids"`
	Documents  int                 `json:"documents"`
	Combos     []bench.ComboResult `json:"combos"`
}

// Passed reports whether every combination passed.
func (s SweepResult) Passed() bool {
	for _, c := range s.Combos {
		if !c.Passed() {
			return false
		}
	}
	return true
}

// Report is the outcome of a run.
type Report struct {
	RunID          string        `json:"run_id"`
	RouterURL      string        `json:"router_url"`
	DataURL        string        `json:"data_url"`
	Started        time.Time     `json:"started"`
	Finished       time.Time     `json:"finished"`
	Cases          []CaseResult  `json:"cases"`
	Sweeps         []SweepResult `json:"sweeps,omitempty"`
	TeardownErrors []string      `json:"teardown_errors,omitempty"`
}

// Counts tallies cases by status.
func (r *Report) Counts() map[Status]int {
	out := make(map[Status]int, 4)
	for _, c := range r.Cases {
		out[c.Status]++
	}
	return out
}

// Passed reports whether every case passed and every sweep met its gate.
// Skipped cases count against the run: a prerequisite failed for them to be skipped.
func (r *Report) Passed() bool {
	for _, c := range r.Cases {
		if c.Status != StatusPass {
			return false
		}
	}
	for _, s := range r.Sweeps {
		if !s.Passed() {
			return false
		}
	}
	return len(r.TeardownErrors) == 0
}

// ExitCode is 0 when the run passed and 1 otherwise.
func (r *Report) ExitCode() int {
	if r.Passed() {
		return 0
	}
	return 1
}

// Failed returns the cases that did not pass.
func (r *Report) Failed() []CaseResult {
	var out []CaseResult
	for _, c := range r.Cases {
		if c.Status != StatusPass {
			out = append(out, c)
		}
	}
	return out
}

func (r *Report) merge(other *Report) {
	r.Cases = append(r.Cases, other.Cases...)
	r.Sweeps = append(r.Sweeps, other.Sweeps...)
	r.TeardownErrors = append(r.TeardownErrors, other.TeardownErrors...)
}
