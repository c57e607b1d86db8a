package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/vearchprobe/internal/client"
	"github.com/hyperjump/vearchprobe/internal/config"
	"github.com/hyperjump/vearchprobe/internal/fixture"
	"github.com/hyperjump/vearchprobe/internal/harness"
	"github.com/hyperjump/vearchprobe/internal/models"
	"github.com/hyperjump/vearchprobe/internal/report"
	"github.com/hyperjump/vearchprobe/internal/stub"
	"go.uber.org/zap"
)

const (
	e2eDimensions = 16
	e2eDocuments  = 40
)

func startCluster(t *testing.T, dataDir string) *client.Client {
	t.Helper()
	srv := stub.NewServer(stub.NewCluster(dataDir, zap.NewNop()), zap.NewNop())
	master := httptest.NewServer(srv.MasterHandler())
	router := httptest.NewServer(srv.RouterHandler())
	t.Cleanup(func() {
		master.Close()
		router.Close()
		_ = srv.Stop(context.Background())
	})
	c, err := client.New(client.Options{
		RouterURL:         master.URL,
		DataURL:           router.URL,
		Timeout:           10 * time.Second,
		RequestsPerSecond: 5000,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func e2eConfig() *config.Config {
	cfg := config.Default()
	cfg.Suite.VectorDimension = e2eDimensions
	cfg.Suite.SearchSize = 20
	cfg.Target.Timeout = 5 * time.Second
	cfg.Benchmark.StoreTypes = []string{models.StoreMemoryOnly, models.StoreRocksDB}
	cfg.Benchmark.NCentroids = []int{4}
	cfg.Benchmark.BatchSize = 50
	cfg.Benchmark.K = 10
	cfg.Benchmark.RecallAt = []int{1, 10}
	cfg.Benchmark.GateAtK = 10
	cfg.Benchmark.PollInterval = 10 * time.Millisecond
	cfg.Benchmark.IndexWaitTimeout = 5 * time.Second
	return cfg
}

func TestE2E_SuitePassesForEveryFixtureEncoding(t *testing.T) {
	docs := BuildFixture(e2eDocuments, e2eDimensions)
	for _, ext := range SupportedFixtureExtensions {
		t.Run(ext, func(t *testing.T) {
			dir := t.TempDir()
			data, err := EncodeFixture(docs, ext)
			if err != nil {
				t.Fatal(err)
			}
			path := filepath.Join(dir, "fixture"+ext)
			if err := os.WriteFile(path, data, 0600); err != nil {
				t.Fatal(err)
			}

			cfg := e2eConfig()
			cfg.Fixture.Path = path
			cfg.Fixture.MaxRecords = 25
			loader := &fixture.Loader{Path: path, MaxRecords: cfg.Fixture.MaxRecords}
			records, err := loader.Load(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if len(records) != 25 {
				t.Fatalf("loaded %d records, want 25", len(records))
			}

			c := startCluster(t, filepath.Join(dir, "stub"))
			rep := harness.NewRunner(cfg, c, zap.NewNop()).RunSuite(context.Background(), records)
			if rep.ExitCode() != 0 {
				var buf bytes.Buffer
				_ = report.Write(&buf, rep, report.FormatText)
				t.Fatalf("suite failed:\n%s", buf.String())
			}
			counts := rep.Counts()
			if counts[harness.StatusPass] != len(rep.Cases) {
				t.Errorf("counts: %v", counts)
			}
		})
	}
}

func TestE2E_BenchmarkRecallFromFiles(t *testing.T) {
	dir := t.TempDir()
	ds := BuildDataset(400, 20, e2eDimensions, 10, 42)
	files := map[string][]byte{
		"base.fvecs":  EncodeFvecs(ds.Base),
		"query.fvecs": EncodeFvecs(ds.Queries),
		"gt.ivecs":    EncodeIvecs(ds.Truth),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
			t.Fatal(err)
		}
	}

	cfg := e2eConfig()
	cfg.Benchmark.BasePath = filepath.Join(dir, "base.fvecs")
	cfg.Benchmark.QueryPath = filepath.Join(dir, "query.fvecs")
	cfg.Benchmark.GroundTruthPath = filepath.Join(dir, "gt.ivecs")
	ctx := context.Background()
	data, err := harness.LoadBenchData(ctx, cfg.Benchmark)
	if err != nil {
		t.Fatal(err)
	}

	c := startCluster(t, filepath.Join(dir, "stub"))
	rep := harness.NewRunner(cfg, c, zap.NewNop()).RunBenchmark(ctx, data)
	if rep.ExitCode() != 0 {
		var buf bytes.Buffer
		_ = report.Write(&buf, rep, report.FormatText)
		t.Fatalf("benchmark failed:\n%s", buf.String())
	}
	if len(rep.Sweeps) != 2 {
		t.Fatalf("sweeps: got %d, want one per store type", len(rep.Sweeps))
	}
	for _, sw := range rep.Sweeps {
		for _, combo := range sw.Combos {
			if combo.Recall[10] < 0.999 {
				t.Errorf("%s %s: recall@10 = %v against exact search", sw.StoreType, combo.Params, combo.Recall[10])
			}
		}
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, rep, report.FormatJSON); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("json report: %v", err)
	}
}
