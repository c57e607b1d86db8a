// Package harness drives a vearch cluster through the functional suite and the IVFFLAT recall
// benchmark, records every case and always tears down what it created.
package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/vearchprobe/internal/client"
	"github.com/hyperjump/vearchprobe/internal/config"
	"github.com/hyperjump/vearchprobe/internal/verify"
	"github.com/hyperjump/vearchprobe/pkg/utils"
	"go.uber.org/zap"
)

// Case is one named step of a run.
type Case struct {
	Name     string
	Requires Requirement
	Run      func(ctx context.Context, p *Probe) error
}

// Probe is handed to a running case. Check and Expect record assertion failures without stopping
// the case; returning an error from Run aborts it.
type Probe struct {
	Client   *client.Client
	Seq      *Sequence
	Logger   *zap.Logger
	name     string
	failures []*verify.AssertionFailure
}

// Check evaluates expectations against resp and records any failures. It reports whether all held.
func (p *Probe) Check(resp *client.Response, exps ...verify.Expectation) bool {
	return p.Expect(verify.Check(p.name, resp, exps...))
}

// Expect records the assertion failures carried by err. Errors that are not assertion failures are
// recorded as failures too. It reports whether err was nil.
func (p *Probe) Expect(err error) bool {
	if err == nil {
		return true
	}
	fs := verify.Failures(err)
	if len(fs) == 0 {
		fs = []*verify.AssertionFailure{{Op: p.name, Expectation: "no error", Detail: err.Error()}}
	}
	p.failures = append(p.failures, fs...)
	return false
}

// Failed reports whether any failure was recorded so far.
func (p *Probe) Failed() bool {
	return len(p.failures) > 0
}

// Runner executes cases against one cluster.
type Runner struct {
	cfg    *config.Config
	client *client.Client
	logger *zap.Logger
	runID  string
	clock  func() time.Time
}

// NewRunner creates a runner. Each runner has its own run id, used to derive unique names when
// target.unique_names is set.
func NewRunner(cfg *config.Config, c *client.Client, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Runner{
		cfg:    cfg,
		client: c,
		logger: logger.With(zap.String("run_id", utils.ShortID(id, 8))),
		runID:  id,
		clock:  time.Now,
	}
}

// RunID returns the run identifier.
func (r *Runner) RunID() string {
	return r.runID
}

// name derives a database or space name from base.
func (r *Runner) name(base string) string {
	if !r.cfg.Target.UniqueNames {
		return base
	}
	return base + "_" + utils.ShortID(r.runID, 8)
}

func (r *Runner) newReport() *Report {
	return &Report{
		RunID:     r.runID,
		RouterURL: r.client.RouterURL(),
		DataURL:   r.client.DataURL(),
		Started:   r.clock(),
	}
}

// execute runs cases in order against seq, then tears down whatever seq still holds.
// Teardown runs even when ctx is cancelled.
func (r *Runner) execute(ctx context.Context, seq *Sequence, cases []Case, rep *Report) {
	defer func() {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.teardownTimeout())
		defer cancel()
		for _, err := range seq.Teardown(tctx, r.client) {
			r.logger.Error("teardown failed", zap.Error(err))
			rep.TeardownErrors = append(rep.TeardownErrors, err.Error())
		}
	}()

	for _, c := range cases {
		if ctx.Err() != nil {
			rep.Cases = append(rep.Cases, CaseResult{Name: c.Name, Status: StatusSkipped, Reason: "run cancelled"})
			continue
		}
		rep.Cases = append(rep.Cases, r.runCase(ctx, seq, c))
	}
}

func (r *Runner) teardownTimeout() time.Duration {
	if t := r.cfg.Target.Timeout; t > 0 {
		return 2 * t
	}
	return time.Minute
}

func (r *Runner) runCase(ctx context.Context, seq *Sequence, c Case) CaseResult {
	res := CaseResult{Name: c.Name}
	if !seq.Satisfies(c.Requires) {
		res.Status = StatusSkipped
		res.Reason = fmt.Sprintf("needs %s, sequence is %s", c.Requires, seq.State())
		r.logger.Warn("case skipped", zap.String("case", c.Name), zap.String("reason", res.Reason))
		return res
	}

	p := &Probe{Client: r.client, Seq: seq, Logger: r.logger.With(zap.String("case", c.Name)), name: c.Name}
	began := r.clock()
	err := c.Run(ctx, p)
	res.Duration = r.clock().Sub(began)
	res.Failures = p.failures

	var terr *client.TransportError
	switch {
	case err != nil && errors.As(err, &terr):
		res.Status = StatusError
		res.Error = err.Error()
	case err != nil:
		// assertion failures returned directly are still failures, not aborts
		if fs := verify.Failures(err); len(fs) > 0 {
			res.Failures = append(res.Failures, fs...)
			res.Status = StatusFail
		} else {
			res.Status = StatusError
			res.Error = err.Error()
		}
	case len(res.Failures) > 0:
		res.Status = StatusFail
	default:
		res.Status = StatusPass
	}

	switch res.Status {
	case StatusPass:
		r.logger.Info("case passed", zap.String("case", c.Name), zap.Duration("duration", res.Duration))
	case StatusFail:
		msgs := make([]string, len(res.Failures))
		for i, f := range res.Failures {
			msgs[i] = f.Error()
		}
		r.logger.Warn("case failed", zap.String("case", c.Name), zap.String("failures", strings.Join(msgs, "; ")))
	default:
		r.logger.Error("case aborted", zap.String("case", c.Name), zap.String("error", res.Error))
	}
	return res
}
