package bench

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Mode selects how queries are submitted.
type Mode int

const (
	// ModeSingle submits one request per query.
	ModeSingle Mode = iota
	// ModeBatch submits BatchSize queries per request.
	ModeBatch
)

func (m Mode) String() string {
	if m == ModeBatch {
		return "batch"
	}
	return "single"
}

// MarshalText renders the mode name in reports.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Params is one point of the sweep.
type Params struct {
	Nprobe            int  `json:"nprobe"`
	ParallelOnQueries int  `json:"parallel_on_queries"`
	Mode              Mode `json:"mode"`
}

func (p Params) String() string {
	return fmt.Sprintf("mode=%s nprobe=%d parallel_on_queries=%d", p.Mode, p.Nprobe, p.ParallelOnQueries)
}

// Searcher runs queries and returns the ranked ids of each.
type Searcher interface {
	Search(ctx context.Context, p Params, queries [][]float32, k int) ([][]string, error)
}

// ComboResult is the outcome of one parameter combination.
type ComboResult struct {
	Params     Params
	Recall     map[int]float64
	Queries    int
	AvgLatency time.Duration
	Gated      bool
	Err        error
}

// Passed reports whether the combination ran and, when gated, met the threshold.
func (c ComboResult) Passed() bool {
	return c.Err == nil
}

// MarshalJSON renders the combination with its error as text.
func (c ComboResult) MarshalJSON() ([]byte, error) {
	out := struct {
		Params
		Recall     map[int]float64 `json:"recall"`
		Queries    int             `json:"queries"`
		AvgLatency time.Duration   `json:"avg_latency_ns"`
		Gated      bool            `json:"gated"`
		Passed     bool            `json:"passed"`
		Error      string          `json:"error,omitempty"`
	}{
		Params:     c.Params,
		Recall:     c.Recall,
		Queries:    c.Queries,
		AvgLatency: c.AvgLatency,
		Gated:      c.Gated,
		Passed:     c.Passed(),
	}
	if c.Err != nil {
		out.Error = c.Err.Error()
	}
	return json.Marshal(out)
}

// RecallKs returns the measured K values in ascending order.
func (c ComboResult) RecallKs() []int {
	ks := make([]int, 0, len(c.Recall))
	for k := range c.Recall {
		ks = append(ks, k)
	}
	sort.Ints(ks)
	return ks
}

// Sweep runs every nprobe × parallel_on_queries × mode combination.
type Sweep struct {
	NProbes           []int
	ParallelOnQueries []int
	Modes             []Mode
	K                 int
	RecallAt          []int
	BatchSize         int
	Gate              Gate
	Logger            *zap.Logger
}

// Run evaluates each combination independently. A failing combination is recorded and the sweep continues.
func (s Sweep) Run(ctx context.Context, searcher Searcher, queries [][]float32, truth GroundTruth) []ComboResult {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	modes := s.Modes
	if len(modes) == 0 {
		modes = []Mode{ModeBatch, ModeSingle}
	}

	var results []ComboResult
	for _, nprobe := range s.NProbes {
		for _, parallel := range s.ParallelOnQueries {
			for _, mode := range modes {
				p := Params{Nprobe: nprobe, ParallelOnQueries: parallel, Mode: mode}
				res := s.runOne(ctx, searcher, p, queries, truth)
				fields := []zap.Field{
					zap.String("mode", mode.String()),
					zap.Int("nprobe", nprobe),
					zap.Int("parallel_on_queries", parallel),
					zap.Duration("avg_latency", res.AvgLatency),
				}
				for _, k := range res.RecallKs() {
					fields = append(fields, zap.Float64(fmt.Sprintf("recall@%d", k), res.Recall[k]))
				}
				if res.Err != nil {
					logger.Warn("sweep combination failed", append(fields, zap.Error(res.Err))...)
				} else {
					logger.Info("sweep combination", fields...)
				}
				results = append(results, res)
				if ctx.Err() != nil {
					return results
				}
			}
		}
	}
	return results
}

// measured returns RecallAt plus the gate's K, so the gate never reads an unmeasured recall.
func (s Sweep) measured() []int {
	ks := slices.Clone(s.RecallAt)
	if s.Gate.AtK > 0 && !slices.Contains(ks, s.Gate.AtK) {
		ks = append(ks, s.Gate.AtK)
	}
	return ks
}

func (s Sweep) runOne(ctx context.Context, searcher Searcher, p Params, queries [][]float32, truth GroundTruth) ComboResult {
	res := ComboResult{Params: p, Gated: s.Gate.Applies(p)}
	if len(truth) < len(queries) {
		res.Err = fmt.Errorf("ground truth has %d rows for %d queries", len(truth), len(queries))
		return res
	}

	step := 1
	if p.Mode == ModeBatch {
		step = s.BatchSize
		if step <= 0 {
			step = len(queries)
		}
	}

	acc := NewAccumulator(s.measured())
	var elapsed time.Duration
	for start := 0; start < len(queries); start += step {
		end := min(start+step, len(queries))
		began := time.Now()
		ids, err := searcher.Search(ctx, p, queries[start:end], s.K)
		elapsed += time.Since(began)
		if err != nil {
			res.Err = fmt.Errorf("queries %d-%d: %w", start, end-1, err)
			break
		}
		if len(ids) != end-start {
			res.Err = fmt.Errorf("queries %d-%d: got %d result lists", start, end-1, len(ids))
			break
		}
		for i, row := range ids {
			acc.Add(row, truth[start+i])
		}
	}

	res.Queries = acc.Count()
	res.Recall = acc.Recall()
	if res.Queries > 0 {
		res.AvgLatency = elapsed / time.Duration(res.Queries)
	}
	if res.Err == nil {
		res.Err = s.Gate.Check(p, res.Recall)
	}
	return res
}
