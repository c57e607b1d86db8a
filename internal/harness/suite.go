package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/vearchprobe/internal/client"
	"github.com/hyperjump/vearchprobe/internal/models"
	"github.com/hyperjump/vearchprobe/internal/verify"
	"go.uber.org/zap"
)

var (
	masterSuccess = []verify.Expectation{
		verify.Status(200),
		verify.Field(".code").Equals(models.CodeSuccess),
		verify.Field(".msg").Equals(models.MsgSuccess),
	}
	shardsClean = verify.Field("._shards.failed").Equals(0)
)

func expect(base []verify.Expectation, more ...verify.Expectation) []verify.Expectation {
	out := make([]verify.Expectation, 0, len(base)+len(more))
	return append(append(out, base...), more...)
}

// RunSuite runs the functional suite over records: cluster checks, then for every configured
// store type a space lifecycle with single and bulk writes, searches and deletes.
func (r *Runner) RunSuite(ctx context.Context, records []models.Record) *Report {
	rep := r.newReport()
	defer func() { rep.Finished = r.clock() }()

	if len(records) == 0 {
		rep.Cases = append(rep.Cases, CaseResult{Name: "fixture", Status: StatusError, Error: "fixture has no records"})
		return rep
	}
	for i, rec := range records {
		if rec.Dimension() != r.cfg.Suite.VectorDimension {
			rep.Cases = append(rep.Cases, CaseResult{
				Name:   "fixture",
				Status: StatusError,
				Error: fmt.Sprintf("record %d (%s) has dimension %d, suite expects %d",
					i, rec.ID, rec.Dimension(), r.cfg.Suite.VectorDimension),
			})
			return rep
		}
	}

	db := r.name(r.cfg.Suite.DBName)
	seq := NewSequence(db)
	r.logger.Info("functional suite starting",
		zap.String("db", db), zap.Int("records", len(records)), zap.Strings("store_types", r.cfg.Suite.StoreTypes))

	cases := r.clusterCases(db)
	for _, st := range r.cfg.Suite.StoreTypes {
		space := r.name(spaceNameFor(r.cfg.Suite.SpaceName, st, len(r.cfg.Suite.StoreTypes)))
		cases = append(cases, r.spaceCases(db, space, st, records)...)
	}
	cases = append(cases, Case{
		Name:     "delete_db",
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
	})

	r.execute(ctx, seq, cases, rep)
	return rep
}

func (r *Runner) clusterCases(db string) []Case {
	return []Case{
		{
			Name: "cluster_stats",
			Run: func(ctx context.Context, p *Probe) error {
				resp, err := p.Client.ClusterStats(ctx)
				if err != nil {
					return err
				}
				p.Check(resp, verify.Status(200), verify.Field(".[0].status").Equals(200))
				return nil
			},
		},
		{
			Name: "cluster_health",
			Run: func(ctx context.Context, p *Probe) error {
				resp, err := p.Client.ClusterHealth(ctx)
				if err != nil {
					return err
				}
				p.Check(resp, verify.Status(200))
				return nil
			},
		},
		{
			Name: "list_server",
			Run: func(ctx context.Context, p *Probe) error {
				resp, err := p.Client.ListServers(ctx)
				if err != nil {
					return err
				}
				p.Check(resp, expect(masterSuccess, verify.Field(".data.count").AtLeast(1))...)
				return nil
			},
		},
		{
			Name: "list_db",
			Run: func(ctx context.Context, p *Probe) error {
				resp, err := p.Client.ListDatabases(ctx)
				if err != nil {
					return err
				}
				p.Check(resp, masterSuccess...)
				return nil
			},
		},
		{
			Name: "create_db",
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
			Name:     "get_db",
			Requires: NeedDatabase,
			Run: func(ctx context.Context, p *Probe) error {
				resp, err := p.Client.GetDatabase(ctx, db)
				if err != nil {
					return err
				}
				p.Check(resp, expect(masterSuccess, verify.Field(".data.name").Equals(db))...)
				return nil
			},
		},
		{
			Name:     "list_space",
			Requires: NeedDatabase,
			Run: func(ctx context.Context, p *Probe) error {
				resp, err := p.Client.ListSpaces(ctx, db)
				if err != nil {
					return err
				}
				p.Check(resp, masterSuccess...)
				return nil
			},
		},
	}
}

// spaceCases is the per-store-type lifecycle. Documents inserted without an id stay in the space
// until it is deleted; bulk writes are checked against the document count they leave behind.
func (r *Runner) spaceCases(db, name, storeType string, records []models.Record) []Case {
	sp := r.client.Space(db, name)
	tag := func(op string) string { return fmt.Sprintf("%s[%s]", op, storeType) }
	searchSize := r.cfg.Suite.SearchSize
	var baseline int64

	return []Case{
		{
			Name:     tag("create_space"),
			Requires: NeedDatabase,
			Run: func(ctx context.Context, p *Probe) error {
				if p.Seq.SpaceLive() {
					return fmt.Errorf("space %s is still live", p.Seq.Space())
				}
				p.Seq.SetSpace(name)
				resp, err := p.Client.CreateSpace(ctx, db, SuiteSpace(name, r.cfg.Suite.VectorDimension, storeType))
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
			Name:     tag("get_space"),
			Requires: NeedSpace,
			Run: func(ctx context.Context, p *Probe) error {
				resp, err := p.Client.GetSpace(ctx, db, name)
				if err != nil {
					return err
				}
				p.Check(resp, expect(masterSuccess,
					verify.Field(".data.name").Equals(name),
					verify.Field(".data.properties.vector.dimension").Equals(r.cfg.Suite.VectorDimension),
				)...)
				return nil
			},
		},
		{
			Name:     tag("insert_with_id"),
			Requires: NeedSpace,
			Run: func(ctx context.Context, p *Probe) error {
				for _, rec := range records {
					resp, err := sp.Insert(ctx, rec.ID, rec)
					if err != nil {
						return err
					}
					if !p.Check(resp, verify.Status(200), verify.Field(".status").Equals(201), shardsClean) {
						continue
					}
					var reply models.DocReply
					if err := resp.Decode(&reply); err != nil {
						p.Expect(err)
						continue
					}
					p.Expect(verify.Equal(p.name, "_id", rec.ID, reply.ID))
				}
				if p.Failed() {
					return nil
				}
				return p.Seq.Populate()
			},
		},
		{
			Name:     tag("get_by_id"),
			Requires: NeedDocuments,
			Run: func(ctx context.Context, p *Probe) error {
				for _, rec := range records {
					resp, err := sp.Get(ctx, rec.ID)
					if err != nil {
						return err
					}
					p.Check(resp, verify.Status(200),
						verify.Field(".found").Equals(true),
						verify.Field("._id").Equals(rec.ID),
						verify.Field("._source."+fieldInt).Present(),
					)
				}
				return p.Seq.Advance(Queried)
			},
		},
		{
			Name:     tag("insert_without_id"),
			Requires: NeedSpace,
			Run: func(ctx context.Context, p *Probe) error {
				for _, rec := range records {
					resp, err := sp.Insert(ctx, "", rec)
					if err != nil {
						return err
					}
					p.Check(resp, verify.Status(200), verify.Field("._shards.successful").Equals(1), verify.Field("._id").Present())
				}
				return p.Seq.Populate()
			},
		},
		{
			Name:     tag("search_by_feature"),
			Requires: NeedDocuments,
			Run: func(ctx context.Context, p *Probe) error {
				for _, rec := range records {
					resp, err := sp.Search(ctx, featureQuery(rec, searchSize))
					if err != nil {
						return err
					}
					p.Check(resp, verify.Status(200), shardsClean, verify.Field(".hits.total").AtLeast(1))
				}
				return p.Seq.Advance(Queried)
			},
		},
		{
			Name:     tag("search_with_tag_filter"),
			Requires: NeedDocuments,
			Run: func(ctx context.Context, p *Probe) error {
				for _, rec := range records {
					q := featureQuery(rec, searchSize)
					if tags := rec.Tags[fieldStringTags]; len(tags) > 0 {
						q.Filters = append(q.Filters, models.TermFilter{Field: fieldStringTags, Values: tags, Operator: models.OperatorOr})
					}
					resp, err := sp.Search(ctx, q)
					if err != nil {
						return err
					}
					p.Check(resp, verify.Status(200), shardsClean, verify.Field(".hits.total").AtLeast(1))
				}
				return p.Seq.Advance(Queried)
			},
		},
		{
			Name:     tag("search_with_range"),
			Requires: NeedDocuments,
			Run: func(ctx context.Context, p *Probe) error {
				for _, rec := range records {
					q := featureQuery(rec, searchSize)
					if v, ok := rec.Scalars[fieldInt].Number(); ok {
						q.Filters = append(q.Filters, models.Between(fieldInt, v, v))
					}
					resp, err := sp.Search(ctx, q)
					if err != nil {
						return err
					}
					p.Check(resp, verify.Status(200), shardsClean, verify.Field(".hits.total").AtLeast(1))
				}
				return p.Seq.Advance(Queried)
			},
		},
		{
			Name:     tag("search_by_term"),
			Requires: NeedDocuments,
			Run: func(ctx context.Context, p *Probe) error {
				rec := records[0]
				s, ok := rec.Scalars[fieldString]
				if !ok {
					return fmt.Errorf("record %s has no %q field", rec.ID, fieldString)
				}
				q := models.Query{
					Filters: []models.Filter{models.Terms(fieldString, s.Text())},
					Size:    searchSize,
				}
				resp, err := sp.Search(ctx, q)
				if err != nil {
					return err
				}
				p.Check(resp, verify.Status(200), shardsClean, verify.Field(".hits.total").AtLeast(1))
				return p.Seq.Advance(Queried)
			},
		},
		{
			Name:     tag("delete_by_id"),
			Requires: NeedDocuments,
			Run: func(ctx context.Context, p *Probe) error {
				for _, rec := range records {
					resp, err := sp.Delete(ctx, rec.ID)
					if err != nil {
						return err
					}
					p.Check(resp, verify.Status(200), shardsClean, verify.Field(".status").Equals(200))
				}
				return p.Seq.Advance(Mutated)
			},
		},
		{
			Name:     tag("bulk_insert"),
			Requires: NeedSpace,
			Run: func(ctx context.Context, p *Probe) error {
				n, err := r.docCount(ctx, sp, -1)
				if err != nil {
					return err
				}
				baseline = n
				resp, err := sp.BulkInsert(ctx, records)
				if err != nil {
					return err
				}
				if !p.Check(resp, verify.Status(200), verify.Field(".errors").Equals(false), verify.Field(".items").Len(len(records))) {
					return nil
				}
				var reply models.BulkReply
				if err := resp.Decode(&reply); err != nil {
					p.Expect(err)
					return nil
				}
				p.Expect(verify.Equal(p.name, "indexed items", len(records), reply.Succeeded()))
				want := baseline + int64(len(records))
				got, err := r.docCount(ctx, sp, want)
				if err != nil {
					return err
				}
				p.Expect(verify.Equal(p.name, "doc_num", want, got))
				return p.Seq.Populate()
			},
		},
		{
			Name:     tag("bulk_delete"),
			Requires: NeedDocuments,
			Run: func(ctx context.Context, p *Probe) error {
				ids := make([]string, len(records))
				for i, rec := range records {
					ids[i] = rec.ID
				}
				resp, err := sp.BulkDelete(ctx, ids)
				if err != nil {
					return err
				}
				p.Check(resp, verify.Status(200), verify.Field(".errors").Equals(false))
				got, err := r.docCount(ctx, sp, baseline)
				if err != nil {
					return err
				}
				p.Expect(verify.Equal(p.name, "doc_num after bulk delete", baseline, got))
				return p.Seq.Advance(Mutated)
			},
		},
		{
			Name:     tag("delete_by_query"),
			Requires: NeedDocuments,
			Run: func(ctx context.Context, p *Probe) error {
				rec := records[0]
				q := featureQuery(rec, 1)
				if v, ok := rec.Scalars[fieldInt].Number(); ok {
					q.Filters = append(q.Filters, models.Between(fieldInt, v, v))
				}
				resp, err := sp.DeleteByQuery(ctx, q)
				if err != nil {
					return err
				}
				p.Check(resp, verify.Status(200), verify.Field(".deleted").Present())
				return p.Seq.Advance(Mutated)
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
	}
}

func featureQuery(rec models.Record, size int) models.Query {
	return models.Query{
		Sum: []models.VectorSumClause{{
			Field:   fieldVector,
			Feature: rec.Vector,
			Format:  "normalization",
		}},
		Size: size,
	}
}

// docCount reads the space's document count. When want is non-negative it polls until the count
// reaches want or the target timeout passes, and returns the last count seen.
func (r *Runner) docCount(ctx context.Context, sp *client.Space, want int64) (int64, error) {
	var last int64
	read := func(ctx context.Context) (bool, error) {
		info, resp, err := sp.Info(ctx)
		if err != nil {
			return false, err
		}
		if info == nil {
			return false, fmt.Errorf("space info returned status %d", resp.Status)
		}
		last = info.DocNum
		return want < 0 || last == want, nil
	}
	if want < 0 {
		_, err := read(ctx)
		return last, err
	}

	pctx, cancel := context.WithTimeout(ctx, r.cfg.Target.Timeout)
	defer cancel()
	err := client.Poll(pctx, r.pollInterval(), read)
	if err != nil && pctx.Err() != nil && ctx.Err() == nil {
		// count never settled; the caller compares and records the mismatch
		return last, nil
	}
	return last, err
}

func (r *Runner) pollInterval() time.Duration {
	if iv := r.cfg.Benchmark.PollInterval; iv > 0 && iv < time.Second {
		return iv
	}
	return 200 * time.Millisecond
}
