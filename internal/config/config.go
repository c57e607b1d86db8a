// Package config provides configuration loading and structs for a vearchprobe run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for one harness run.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Target    TargetConfig    `yaml:"target"`
	Fixture   FixtureConfig   `yaml:"fixture"`
	Suite     SuiteConfig     `yaml:"suite"`
	Benchmark BenchmarkConfig `yaml:"benchmark"`
	Stub      StubConfig      `yaml:"stub"`
}

// TargetConfig describes the vearch cluster under test.
// RouterURL serves database/space administration, DataURL serves document operations.
type TargetConfig struct {
	RouterURL         string        `yaml:"router_url"`
	DataURL           string        `yaml:"data_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	UniqueNames       bool          `yaml:"unique_names"`
}

// FixtureConfig describes where test documents come from.
type FixtureConfig struct {
	Path        string   `yaml:"path"`
	MaxRecords  int      `yaml:"max_records"`
	IDField     string   `yaml:"id_field"`
	VectorField string   `yaml:"vector_field"`
	S3          S3Config `yaml:"s3"`
}

// S3Config holds credentials for s3:// fixture paths.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// SuiteConfig holds names and schema settings for the functional suite.
type SuiteConfig struct {
	DBName          string   `yaml:"db_name"`
	SpaceName       string   `yaml:"space_name"`
	VectorDimension int      `yaml:"vector_dimension"`
	StoreTypes      []string `yaml:"store_types"`
	SearchSize      int      `yaml:"search_size"`
}

// BenchmarkConfig holds the IVFFLAT recall sweep settings.
type BenchmarkConfig struct {
	BasePath          string        `yaml:"base_path"`
	QueryPath         string        `yaml:"query_path"`
	GroundTruthPath   string        `yaml:"ground_truth_path"`
	MaxBase           int           `yaml:"max_base"`
	MaxQueries        int           `yaml:"max_queries"`
	StoreTypes        []string      `yaml:"store_types"`
	NCentroids        []int         `yaml:"ncentroids"`
	BatchSize         int           `yaml:"batch_size"`
	K                 int           `yaml:"k"`
	RecallAt          []int         `yaml:"recall_at"`
	NProbes           []int         `yaml:"nprobes"`
	ParallelOnQueries []int         `yaml:"parallel_on_queries"`
	MinRecall         float64       `yaml:"min_recall"`
	GateMinNProbe     int           `yaml:"gate_min_nprobe"`
	GateAtK           int           `yaml:"gate_at_k"`
	IndexWaitTimeout  time.Duration `yaml:"index_wait_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

// StubConfig holds listen addresses for the in-process stub cluster.
type StubConfig struct {
	RouterAddr string `yaml:"router_addr"`
	DataAddr   string `yaml:"data_addr"`
	DataDir    string `yaml:"data_dir"`
}

// Load reads and parses the config file at path, applies defaults and expands paths.
// Returns an error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Fixture.Path = expandPath(cfg.Fixture.Path, configDir)
	cfg.Benchmark.BasePath = expandPath(cfg.Benchmark.BasePath, configDir)
	cfg.Benchmark.QueryPath = expandPath(cfg.Benchmark.QueryPath, configDir)
	cfg.Benchmark.GroundTruthPath = expandPath(cfg.Benchmark.GroundTruthPath, configDir)
	cfg.Stub.DataDir = expandPath(cfg.Stub.DataDir, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied and no file behind it.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks the settings a run cannot proceed without.
func (c *Config) Validate() error {
	if c.Target.RouterURL == "" {
		return fmt.Errorf("target.router_url is required")
	}
	if c.Target.DataURL == "" {
		return fmt.Errorf("target.data_url is required")
	}
	if c.Suite.DBName == "" || c.Suite.SpaceName == "" {
		return fmt.Errorf("suite.db_name and suite.space_name are required")
	}
	if c.Suite.VectorDimension <= 0 {
		return fmt.Errorf("suite.vector_dimension must be positive, got %d", c.Suite.VectorDimension)
	}
	if c.Benchmark.MinRecall < 0 || c.Benchmark.MinRecall > 1 {
		return fmt.Errorf("benchmark.min_recall must be within [0,1], got %v", c.Benchmark.MinRecall)
	}
	for _, k := range c.Benchmark.RecallAt {
		if k <= 0 || k > c.Benchmark.K {
			return fmt.Errorf("benchmark.recall_at value %d outside (0, k=%d]", k, c.Benchmark.K)
		}
	}
	if !slices.Contains(c.Benchmark.RecallAt, c.Benchmark.GateAtK) {
		return fmt.Errorf("benchmark.gate_at_k %d must be one of recall_at %v", c.Benchmark.GateAtK, c.Benchmark.RecallAt)
	}
	return nil
}

// expandPath converts a path to absolute. Relative paths are relative to configDir and "~/" paths
// to the home directory. Remote (s3://) paths are unchanged.
func expandPath(path string, configDir string) string {
	if path == "" || strings.Contains(path, "://") || filepath.IsAbs(path) {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
		return path
	}
	if abs, err := filepath.Abs(filepath.Join(configDir, path)); err == nil {
		return abs
	}
	return filepath.Join(configDir, path)
}
