package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Target.RouterURL == "" {
		cfg.Target.RouterURL = "http://127.0.0.1:8817"
	}
	if cfg.Target.DataURL == "" {
		cfg.Target.DataURL = "http://127.0.0.1:9001"
	}
	if cfg.Target.Timeout == 0 {
		cfg.Target.Timeout = 30 * time.Second
	}
	if cfg.Fixture.Path == "" {
		cfg.Fixture.Path = "/home/vearch/test/data/test_data.json"
	}
	if cfg.Fixture.MaxRecords == 0 {
		cfg.Fixture.MaxRecords = 100
	}
	if cfg.Fixture.IDField == "" {
		cfg.Fixture.IDField = "_id"
	}
	if cfg.Fixture.VectorField == "" {
		cfg.Fixture.VectorField = "vector"
	}
	if cfg.Suite.DBName == "" {
		cfg.Suite.DBName = "ts_db"
	}
	if cfg.Suite.SpaceName == "" {
		cfg.Suite.SpaceName = "ts_space"
	}
	if cfg.Suite.VectorDimension == 0 {
		cfg.Suite.VectorDimension = 128
	}
	if cfg.Suite.StoreTypes == nil {
		cfg.Suite.StoreTypes = []string{"Mmap", "RocksDB"}
	}
	if cfg.Suite.SearchSize == 0 {
		cfg.Suite.SearchSize = 100
	}
	applyBenchmarkDefaults(&cfg.Benchmark)
	if cfg.Stub.RouterAddr == "" {
		cfg.Stub.RouterAddr = "127.0.0.1:8817"
	}
	if cfg.Stub.DataAddr == "" {
		cfg.Stub.DataAddr = "127.0.0.1:9001"
	}
}

func applyBenchmarkDefaults(b *BenchmarkConfig) {
	if b.StoreTypes == nil {
		b.StoreTypes = []string{"RocksDB"}
	}
	if b.NCentroids == nil {
		b.NCentroids = []int{256, 128}
	}
	if b.BatchSize == 0 {
		b.BatchSize = 100
	}
	if b.K == 0 {
		b.K = 100
	}
	if b.RecallAt == nil {
		b.RecallAt = []int{1, 10, 100}
		if b.K < 100 {
			b.RecallAt = []int{1, b.K}
		}
	}
	if b.NProbes == nil {
		b.NProbes = []int{1, 10, 20}
	}
	if b.ParallelOnQueries == nil {
		b.ParallelOnQueries = []int{0, 1}
	}
	if b.MinRecall == 0 {
		b.MinRecall = 0.8
	}
	if b.GateMinNProbe == 0 {
		b.GateMinNProbe = 1
	}
	if b.GateAtK == 0 {
		b.GateAtK = b.K
	}
	if b.IndexWaitTimeout == 0 {
		b.IndexWaitTimeout = 10 * time.Minute
	}
	if b.PollInterval == 0 {
		b.PollInterval = 2 * time.Second
	}
}
