package harness

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hyperjump/vearchprobe/internal/bench"
	"github.com/hyperjump/vearchprobe/internal/client"
	"github.com/hyperjump/vearchprobe/internal/config"
	"github.com/hyperjump/vearchprobe/internal/fixture"
	"github.com/hyperjump/vearchprobe/internal/models"
	"github.com/hyperjump/vearchprobe/internal/verify"
	"go.uber.org/zap"
)

// BenchData is the benchmark dataset: base vectors to index, queries, and for each query the
// base indices of its true nearest neighbours.
type BenchData struct {
	Base    [][]float32
	Queries [][]float32
	Truth   bench.GroundTruth
}

// LoadBenchData reads the fvecs/ivecs files named by cfg.
func LoadBenchData(ctx context.Context, cfg config.BenchmarkConfig) (BenchData, error) {
	var (
		data BenchData
		err  error
	)
	if cfg.BasePath == "" || cfg.QueryPath == "" || cfg.GroundTruthPath == "" {
		return data, errors.New("benchmark.base_path, query_path and ground_truth_path are required")
	}
	if data.Base, err = fixture.ReadFvecs(ctx, cfg.BasePath, cfg.MaxBase); err != nil {
		return data, fmt.Errorf("base vectors: %w", err)
	}
	if data.Queries, err = fixture.ReadFvecs(ctx, cfg.QueryPath, cfg.MaxQueries); err != nil {
		return data, fmt.Errorf("query vectors: %w", err)
	}
	if data.Truth, err = fixture.ReadIvecs(ctx, cfg.GroundTruthPath, cfg.MaxQueries); err != nil {
		return data, fmt.Errorf("ground truth: %w", err)
	}
	return data, data.Validate()
}

// Validate checks the dataset is non-empty and consistent.
func (d BenchData) Validate() error {
	if len(d.Base) == 0 || len(d.Queries) == 0 {
		return errors.New("benchmark needs base and query vectors")
	}
	dim := len(d.Base[0])
	for i, q := range d.Queries {
		if len(q) != dim {
			return fmt.Errorf("query %d has dimension %d, base has %d", i, len(q), dim)
		}
	}
	if len(d.Truth) < len(d.Queries) {
		return fmt.Errorf("ground truth has %d rows for %d queries", len(d.Truth), len(d.Queries))
	}
	return nil
}

// RunBenchmark builds an IVFFLAT space for every store type and centroid count, loads the base
// vectors, waits for the index and sweeps recall. Each space is torn down before the next is built.
func (r *Runner) RunBenchmark(ctx context.Context, data BenchData) *Report {
	rep := r.newReport()
	defer func() { rep.Finished = r.clock() }()

	if err := data.Validate(); err != nil {
		rep.Cases = append(rep.Cases, CaseResult{Name: "ivfflat/dataset", Status: StatusError, Error: err.Error()})
		return rep
	}

	cfg := r.cfg.Benchmark
	for _, st := range cfg.StoreTypes {
		for _, nc := range cfg.NCentroids {
			if ctx.Err() != nil {
				return rep
			}
			part := &Report{}
			r.benchmarkSpace(ctx, data, st, nc, part)
			rep.merge(part)
		}
	}
	return rep
}

func (r *Runner) benchmarkSpace(ctx context.Context, data BenchData, storeType string, ncentroids int, rep *Report) {
	cfg := r.cfg.Benchmark
	db := r.name(r.cfg.Suite.DBName)
	name := r.name(fmt.Sprintf("%s_ivfflat_%s_%d", r.cfg.Suite.SpaceName, strings.ToLower(storeType), ncentroids))
	tag := func(op string) string { return fmt.Sprintf("ivfflat[%s,ncentroids=%d]/%s", storeType, ncentroids, op) }
	sp := r.client.Space(db, name)
	seq := NewSequence(db)
	total := len(data.Base)

	logger := r.logger.With(zap.String("space", name), zap.String("store_type", storeType), zap.Int("ncentroids", ncentroids))
	logger.Info("benchmark space starting", zap.Int("base", total), zap.Int("queries", len(data.Queries)))

	cases := []Case{
		{
			Name: tag("create_db"),
			Run: func(ctx context.Context, p *Probe) error {
				p.Seq.RequestDatabase()
				resp, err := p.Client.CreateDatabase(ctx, db)
				if err != nil {
					return err
				}
				if p.Check(resp, masterSuccess...) {
					return p.Seq.Advance(DatabaseCreated)
				}
				if rejected(resp) {
					p.Seq.ForgetDatabase()
				}
				return nil
			},
		},
		{
			Name:     tag("create_space"),
			Requires: NeedDatabase,
			Run: func(ctx context.Context, p *Probe) error {
				p.Seq.SetSpace(name)
				resp, err := p.Client.CreateSpace(ctx, db, IVFFlatSpace(name, len(data.Base[0]), ncentroids, storeType))
				if err != nil {
					return err
				}
				if p.Check(resp, masterSuccess...) {
					return p.Seq.Advance(SpaceCreated)
				}
				if rejected(resp) {
					p.Seq.ForgetSpace(name)
				}
				return nil
			},
		},
		{
			Name:     tag("bulk_insert"),
			Requires: NeedSpace,
			Run: func(ctx context.Context, p *Probe) error {
				return r.loadBase(ctx, p, sp, data.Base, cfg.BatchSize)
			},
		},
		{
			Name:     tag("wait_index"),
			Requires: NeedDocuments,
			Run: func(ctx context.Context, p *Probe) error {
				return r.waitIndexed(ctx, p, sp, int64(total))
			},
		},
		{
			Name:     tag("recall_sweep"),
			Requires: NeedDocuments,
			Run: func(ctx context.Context, p *Probe) error {
				sweep := bench.Sweep{
					NProbes:           cfg.NProbes,
					ParallelOnQueries: cfg.ParallelOnQueries,
					K:                 cfg.K,
					RecallAt:          cfg.RecallAt,
					BatchSize:         cfg.BatchSize,
					Gate:              bench.Gate{MinRecall: cfg.MinRecall, MinNprobe: cfg.GateMinNProbe, AtK: cfg.GateAtK},
					Logger:            p.Logger,
				}
				searcher := &bench.SpaceSearcher{Space: sp, Field: benchFieldVector, Fields: []string{benchFieldInt}}
				combos := sweep.Run(ctx, searcher, data.Queries, data.Truth)
				rep.Sweeps = append(rep.Sweeps, SweepResult{
					Space:      name,
					StoreType:  storeType,
					NCentroids: ncentroids,
					Documents:  total,
					Combos:     combos,
				})
				for _, c := range combos {
					if c.Err != nil {
						p.failures = append(p.failures, comboFailure(p.name, c))
					}
				}
				return p.Seq.Advance(Queried)
			},
		},
		{
			Name:     tag("delete_space"),
			Requires: NeedSpace,
			Run: func(ctx context.Context, p *Probe) error {
				resp, err := p.Client.DeleteSpace(ctx, db, name)
				if err != nil {
					return err
				}
				if p.Check(resp, masterSuccess...) {
					return p.Seq.Advance(SpaceDeleted)
				}
				return nil
			},
		},
		{
			Name:     tag("delete_db"),
			Requires: NeedDatabase,
			Run: func(ctx context.Context, p *Probe) error {
				resp, err := p.Client.DeleteDatabase(ctx, db)
				if err != nil {
					return err
				}
				if p.Check(resp, masterSuccess...) {
					return p.Seq.Advance(DatabaseDeleted)
				}
				return nil
			},
		},
	}
	r.execute(ctx, seq, cases, rep)
}

// loadBase bulk inserts base vectors in batches. Document ids are the base indices, matching
// the ground truth.
func (r *Runner) loadBase(ctx context.Context, p *Probe, sp *client.Space, base [][]float32, batchSize int) error {
	if batchSize <= 0 {
		batchSize = len(base)
	}
	for start := 0; start < len(base); start += batchSize {
		end := min(start+batchSize, len(base))
		recs := make([]models.Record, 0, end-start)
		for i := start; i < end; i++ {
			recs = append(recs, models.Record{
				ID:          strconv.Itoa(i),
				NumericID:   true,
				VectorField: benchFieldVector,
				Vector:      base[i],
				Scalars:     map[string]models.Scalar{benchFieldInt: models.Int(int64(i))},
			})
		}
		resp, err := sp.BulkInsert(ctx, recs)
		if err != nil {
			return err
		}
		if !p.Check(resp, verify.Status(200), verify.Field(".errors").Equals(false)) {
			return nil
		}
		var reply models.BulkReply
		if err := resp.Decode(&reply); err != nil {
			p.Expect(err)
			return nil
		}
		if !p.Expect(verify.Equal(fmt.Sprintf("%s[%d:%d]", p.name, start, end), "indexed items", len(recs), reply.Succeeded())) {
			return nil
		}
		p.Logger.Debug("batch inserted", zap.Int("start", start), zap.Int("end", end))
	}
	return p.Seq.Populate()
}

// waitIndexed polls the space until its partitions report at least want indexed documents.
func (r *Runner) waitIndexed(ctx context.Context, p *Probe, sp *client.Space, want int64) error {
	var indexed int64
	wctx, cancel := context.WithTimeout(ctx, r.cfg.Benchmark.IndexWaitTimeout)
	defer cancel()
	err := client.Poll(wctx, r.cfg.Benchmark.PollInterval, func(ctx context.Context) (bool, error) {
		info, _, err := sp.Info(ctx)
		if err != nil {
			return false, err
		}
		indexed = info.Indexed()
		p.Logger.Debug("index progress", zap.Int64("indexed", indexed), zap.Int64("want", want))
		return indexed >= want, nil
	})
	if err != nil && wctx.Err() != nil && ctx.Err() == nil {
		p.Expect(&verify.AssertionFailure{
			Op:          p.name,
			Expectation: fmt.Sprintf("index_num >= %d within %s", want, r.cfg.Benchmark.IndexWaitTimeout),
			Detail:      fmt.Sprintf("got %d", indexed),
		})
		return nil
	}
	return err
}

func comboFailure(op string, c bench.ComboResult) *verify.AssertionFailure {
	var low *bench.RecallBelowThreshold
	if errors.As(c.Err, &low) {
		return &verify.AssertionFailure{
			Op:          op,
			Expectation: fmt.Sprintf("recall@%d >= %.2f with %s", low.K, low.Min, low.Params),
			Detail:      fmt.Sprintf("got %.4f", low.Recall),
		}
	}
	return &verify.AssertionFailure{
		Op:          op,
		Expectation: "sweep combination " + c.Params.String() + " completes",
		Detail:      c.Err.Error(),
	}
}
