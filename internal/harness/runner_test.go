package harness

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/vearchprobe/internal/client"
	"github.com/hyperjump/vearchprobe/internal/config"
	"github.com/hyperjump/vearchprobe/internal/models"
	"github.com/hyperjump/vearchprobe/internal/stub"
	"github.com/hyperjump/vearchprobe/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testDim = 4

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Suite.VectorDimension = testDim
	cfg.Target.Timeout = 2 * time.Second
	cfg.Benchmark.PollInterval = 10 * time.Millisecond
	cfg.Benchmark.IndexWaitTimeout = 2 * time.Second
	return cfg
}

func suiteRecords(n int) []models.Record {
	recs := make([]models.Record, n)
	for i := range recs {
		vec := make([]float32, testDim)
		for j := range vec {
			vec[j] = float32(i+1) + float32(j)*0.25
		}
		recs[i] = models.Record{
			ID:          fmt.Sprintf("doc-%d", i),
			VectorField: fieldVector,
			Vector:      vec,
			Scalars: map[string]models.Scalar{
				fieldString: models.String(fmt.Sprintf("s%d", i)),
				fieldInt:    models.Int(int64(i)),
				fieldFloat:  models.Float(float64(i) + 0.5),
			},
			Tags: map[string][]models.Scalar{
				fieldStringTags: {models.String("a"), models.String(fmt.Sprintf("t%d", i))},
				fieldIntTags:    {models.Int(int64(i))},
				fieldFloatTags:  {models.Float(0.5)},
			},
		}
	}
	return recs
}

// stubCluster serves the stub, optionally wrapping both handlers.
func stubCluster(t *testing.T, dataDir string, wrap func(http.Handler) http.Handler) *client.Client {
	t.Helper()
	if wrap == nil {
		wrap = func(h http.Handler) http.Handler { return h }
	}
	srv := stub.NewServer(stub.NewCluster(dataDir, zap.NewNop()), zap.NewNop())
	master := httptest.NewServer(wrap(srv.MasterHandler()))
	router := httptest.NewServer(wrap(srv.RouterHandler()))
	t.Cleanup(func() {
		master.Close()
		router.Close()
		_ = srv.Stop(context.Background())
	})
	c, err := client.New(client.Options{RouterURL: master.URL, DataURL: router.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func databases(t *testing.T, c *client.Client) []models.DBInfo {
	t.Helper()
	resp, err := c.ListDatabases(context.Background())
	require.NoError(t, err)
	var reply models.MasterReply
	require.NoError(t, resp.Decode(&reply))
	var dbs []models.DBInfo
	require.NoError(t, reply.DecodeData(&dbs))
	return dbs
}

func caseNames(rep *Report) []string {
	names := make([]string, len(rep.Cases))
	for i, c := range rep.Cases {
		names[i] = c.Name
	}
	return names
}

func TestRunSuite_passesAgainstStub(t *testing.T) {
	c := stubCluster(t, t.TempDir(), nil)
	r := NewRunner(testConfig(), c, zap.NewNop())

	rep := r.RunSuite(context.Background(), suiteRecords(5))

	for _, fc := range rep.Failed() {
		t.Errorf("case %s: %s %s %v", fc.Name, fc.Status, fc.Error+fc.Reason, fc.Failures)
	}
	assert.Equal(t, 0, rep.ExitCode())
	assert.Contains(t, caseNames(rep), "insert_with_id[Mmap]")
	assert.Contains(t, caseNames(rep), "bulk_delete[RocksDB]")
	assert.Equal(t, "delete_db", rep.Cases[len(rep.Cases)-1].Name)
	assert.Empty(t, rep.TeardownErrors)
	assert.Empty(t, databases(t, c))
	assert.False(t, rep.Finished.Before(rep.Started))
}

func TestRunSuite_uniqueNames(t *testing.T) {
	c := stubCluster(t, "", nil)
	cfg := testConfig()
	cfg.Target.UniqueNames = true
	cfg.Suite.StoreTypes = []string{models.StoreMemoryOnly}
	r := NewRunner(cfg, c, zap.NewNop())

	assert.Equal(t, "ts_db_"+utils.ShortID(r.RunID(), 8), r.name("ts_db"))
	rep := r.RunSuite(context.Background(), suiteRecords(2))
	assert.Equal(t, 0, rep.ExitCode())
	assert.Equal(t, r.RunID(), rep.RunID)
}

func TestRunSuite_dimensionMismatch(t *testing.T) {
	c := stubCluster(t, "", nil)
	cfg := testConfig()
	cfg.Suite.VectorDimension = 8
	rep := NewRunner(cfg, c, zap.NewNop()).RunSuite(context.Background(), suiteRecords(2))

	require.Len(t, rep.Cases, 1)
	assert.Equal(t, StatusError, rep.Cases[0].Status)
	assert.Equal(t, 1, rep.ExitCode())
	assert.Empty(t, databases(t, c), "nothing is created for a bad fixture")
}

func TestRunSuite_assertionFailureDoesNotStopRun(t *testing.T) {
	// every _search fails with a 500
	wrap := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/_search") {
				http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	c := stubCluster(t, "", wrap)
	cfg := testConfig()
	cfg.Suite.StoreTypes = []string{models.StoreMemoryOnly}
	rep := NewRunner(cfg, c, zap.NewNop()).RunSuite(context.Background(), suiteRecords(3))

	assert.Equal(t, 1, rep.ExitCode())
	byName := map[string]CaseResult{}
	for _, cr := range rep.Cases {
		byName[cr.Name] = cr
	}
	search := byName["search_by_feature[MemoryOnly]"]
	assert.Equal(t, StatusFail, search.Status)
	require.NotEmpty(t, search.Failures)
	assert.Equal(t, "search_by_feature[MemoryOnly]", search.Failures[0].Op)
	assert.Equal(t, "status 200", search.Failures[0].Expectation)

	assert.Equal(t, StatusPass, byName["bulk_delete[MemoryOnly]"].Status, "later cases still run")
	assert.Equal(t, StatusPass, byName["delete_db"].Status)
	assert.Empty(t, databases(t, c))
}

func TestRunSuite_teardownAfterLostCreateReply(t *testing.T) {
	wrap := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/space/") {
				next.ServeHTTP(httptest.NewRecorder(), r)
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte("<html>bad gateway</html>"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	c := stubCluster(t, "", wrap)
	cfg := testConfig()
	cfg.Suite.StoreTypes = []string{models.StoreMemoryOnly}
	rep := NewRunner(cfg, c, zap.NewNop()).RunSuite(context.Background(), suiteRecords(2))

	assert.Equal(t, 1, rep.ExitCode())
	byName := map[string]CaseResult{}
	for _, cr := range rep.Cases {
		byName[cr.Name] = cr
	}
	assert.Equal(t, StatusFail, byName["create_space[MemoryOnly]"].Status)
	assert.Equal(t, StatusSkipped, byName["get_space[MemoryOnly]"].Status)
	assert.Empty(t, rep.TeardownErrors)
	assert.Empty(t, databases(t, c), "the space created behind the lost reply is removed with its database")
}

func TestRunSuite_keepsRefusedDatabase(t *testing.T) {
	c := stubCluster(t, "", nil)
	cfg := testConfig()
	_, err := c.CreateDatabase(context.Background(), cfg.Suite.DBName)
	require.NoError(t, err)

	rep := NewRunner(cfg, c, zap.NewNop()).RunSuite(context.Background(), suiteRecords(2))

	assert.Equal(t, 1, rep.ExitCode())
	assert.Empty(t, rep.TeardownErrors)
	require.Len(t, databases(t, c), 1, "a database the run did not create is left alone")
}

func TestRunSuite_teardownAfterFailedDelete(t *testing.T) {
	var refused atomic.Bool
	wrap := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/space/") && refused.CompareAndSwap(false, true) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(550)
				_, _ = w.Write([]byte(`{"code":550,"msg":"injected"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	c := stubCluster(t, "", wrap)
	cfg := testConfig()
	cfg.Suite.StoreTypes = []string{models.StoreMemoryOnly}
	rep := NewRunner(cfg, c, zap.NewNop()).RunSuite(context.Background(), suiteRecords(2))

	assert.Equal(t, 1, rep.ExitCode())
	failed := rep.Failed()
	require.NotEmpty(t, failed)
	assert.Equal(t, "delete_space[MemoryOnly]", failed[0].Name)
	assert.Empty(t, rep.TeardownErrors)
	assert.Empty(t, databases(t, c), "teardown removes the space and database the run left behind")
}

func TestRunSuite_transportErrorAbortsCases(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()
	c, err := client.New(client.Options{RouterURL: url, DataURL: url, Timeout: time.Second})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Suite.StoreTypes = []string{models.StoreMemoryOnly}
	rep := NewRunner(cfg, c, zap.NewNop()).RunSuite(context.Background(), suiteRecords(1))

	counts := rep.Counts()
	assert.Equal(t, 1, rep.ExitCode())
	assert.Zero(t, counts[StatusPass])
	assert.Equal(t, StatusError, rep.Cases[0].Status)
	assert.Contains(t, rep.Cases[0].Error, "clusterStats")
	for _, cr := range rep.Cases {
		if cr.Name == "get_db" {
			assert.Equal(t, StatusSkipped, cr.Status)
			assert.Contains(t, cr.Reason, "a database")
		}
	}
	// create_db never got a reply, so teardown still tries to drop the database
	require.Len(t, rep.TeardownErrors, 1)
	assert.Contains(t, rep.TeardownErrors[0], "delete db ts_db")
}

func TestRunSuite_cancelledContext(t *testing.T) {
	c := stubCluster(t, "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := NewRunner(testConfig(), c, zap.NewNop()).RunSuite(ctx, suiteRecords(1))

	for _, cr := range rep.Cases {
		assert.Equal(t, StatusSkipped, cr.Status, cr.Name)
	}
	assert.Equal(t, 1, rep.ExitCode())
}

// benchData builds random base and query vectors with exact L2 ground truth.
// When farthest is set the truth lists the farthest neighbours instead.
func benchData(nb, nq, dim, k int, farthest bool) BenchData {
	rng := rand.New(rand.NewSource(7))
	gen := func(n int) [][]float32 {
		out := make([][]float32, n)
		for i := range out {
			out[i] = make([]float32, dim)
			for j := range out[i] {
				out[i][j] = rng.Float32()
			}
		}
		return out
	}
	data := BenchData{Base: gen(nb), Queries: gen(nq)}
	for _, q := range data.Queries {
		idx := make([]uint32, nb)
		for i := range idx {
			idx[i] = uint32(i)
		}
		sort.Slice(idx, func(a, b int) bool {
			da, db := utils.SquaredL2(q, data.Base[idx[a]]), utils.SquaredL2(q, data.Base[idx[b]])
			if farthest {
				return da > db
			}
			return da < db
		})
		data.Truth = append(data.Truth, idx[:k])
	}
	return data
}

func benchConfig() *config.Config {
	cfg := testConfig()
	cfg.Benchmark.StoreTypes = []string{models.StoreMemoryOnly}
	cfg.Benchmark.NCentroids = []int{2}
	cfg.Benchmark.BatchSize = 20
	cfg.Benchmark.K = 10
	cfg.Benchmark.RecallAt = []int{1, 10}
	cfg.Benchmark.GateAtK = 10
	return cfg
}

func TestRunBenchmark_exactSearchPassesGate(t *testing.T) {
	c := stubCluster(t, "", nil)
	rep := NewRunner(benchConfig(), c, zap.NewNop()).RunBenchmark(context.Background(), benchData(50, 5, 8, 10, false))

	for _, fc := range rep.Failed() {
		t.Errorf("case %s: %s %s %v", fc.Name, fc.Status, fc.Error, fc.Failures)
	}
	require.Len(t, rep.Sweeps, 1)
	sw := rep.Sweeps[0]
	assert.Equal(t, 2, sw.NCentroids)
	assert.Equal(t, 50, sw.Documents)
	assert.Len(t, sw.Combos, 3*2*2)
	for _, combo := range sw.Combos {
		assert.NoError(t, combo.Err)
		assert.InDelta(t, 1.0, combo.Recall[10], 1e-9, combo.Params.String())
		assert.Equal(t, 5, combo.Queries)
	}
	assert.Equal(t, 0, rep.ExitCode())
	assert.Empty(t, databases(t, c))
}

func TestRunBenchmark_recallBelowThreshold(t *testing.T) {
	c := stubCluster(t, "", nil)
	rep := NewRunner(benchConfig(), c, zap.NewNop()).RunBenchmark(context.Background(), benchData(50, 5, 8, 10, true))

	assert.Equal(t, 1, rep.ExitCode())
	var sweep *CaseResult
	for i := range rep.Cases {
		if strings.HasSuffix(rep.Cases[i].Name, "/recall_sweep") {
			sweep = &rep.Cases[i]
		}
	}
	require.NotNil(t, sweep)
	assert.Equal(t, StatusFail, sweep.Status)
	// nprobe 10 and 20, two parallel settings, two modes
	assert.Len(t, sweep.Failures, 8)
	assert.Contains(t, sweep.Failures[0].Expectation, "recall@10 >= 0.80")
	assert.Empty(t, databases(t, c), "space and database are removed after a failed gate")
}

func TestBenchData_validate(t *testing.T) {
	data := benchData(10, 2, 4, 3, false)
	assert.NoError(t, data.Validate())

	short := data
	short.Truth = short.Truth[:1]
	assert.Error(t, short.Validate())

	bad := benchData(10, 2, 4, 3, false)
	bad.Queries[1] = bad.Queries[1][:2]
	assert.Error(t, bad.Validate())

	assert.Error(t, BenchData{}.Validate())
}
