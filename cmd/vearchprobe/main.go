// Package main is the vearchprobe CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hyperjump/vearchprobe/internal/client"
	"github.com/hyperjump/vearchprobe/internal/config"
	"github.com/hyperjump/vearchprobe/internal/fixture"
	"github.com/hyperjump/vearchprobe/internal/harness"
	"github.com/hyperjump/vearchprobe/internal/report"
	"github.com/hyperjump/vearchprobe/internal/stub"
	"github.com/hyperjump/vearchprobe/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/vearchprobe/config.yaml"

// Exit codes: 0 all passed, 1 a case or gate failed, 2 the run could not start.
const (
	exitOK     = 0
	exitFailed = 1
	exitSetup  = 2
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func setupError(format string, args ...any) error {
	return &exitError{code: exitSetup, err: fmt.Errorf(format, args...)}
}

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	debug      bool
	routerURL  string
	dataURL    string
	dbName     string
	spaceName  string
	fixture    string
	dimension  int
	output     string
}

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory takes precedence; when neither exists, built-in defaults are used.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// resolve loads the config and applies flag overrides on top of it.
func (o *globalOptions) resolve(cmd *cobra.Command) (*config.Config, string, error) {
	cfg, path, err := loadConfig(o.configPath)
	if err != nil {
		return nil, "", setupError("failed to load config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("debug") {
		cfg.Debug = o.debug
	}
	if flags.Changed("router-url") {
		cfg.Target.RouterURL = o.routerURL
	}
	if flags.Changed("data-url") {
		cfg.Target.DataURL = o.dataURL
	}
	if flags.Changed("db") {
		cfg.Suite.DBName = o.dbName
	}
	if flags.Changed("space") {
		cfg.Suite.SpaceName = o.spaceName
	}
	if flags.Changed("fixture") {
		cfg.Fixture.Path = o.fixture
	}
	if flags.Changed("dimension") {
		cfg.Suite.VectorDimension = o.dimension
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", setupError("invalid config: %w", err)
	}
	return cfg, path, nil
}

func newClient(cfg *config.Config, logger *zap.Logger) (*client.Client, error) {
	c, err := client.New(client.Options{
		RouterURL:         cfg.Target.RouterURL,
		DataURL:           cfg.Target.DataURL,
		Timeout:           cfg.Target.Timeout,
		RequestsPerSecond: cfg.Target.RequestsPerSecond,
		Logger:            logger,
	})
	if err != nil {
		return nil, setupError("invalid target: %w", err)
	}
	return c, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "vearchprobe",
		Short: "Black-box test harness for vearch clusters",
		Long: `vearchprobe drives a vearch cluster over its REST API: it creates a database and spaces,
writes fixture documents, searches, deletes and verifies every response, then removes what it created.
The bench command measures IVFFLAT recall across nprobe and parallel_on_queries settings.

Exit status is 0 when every case passed, 1 when a case or recall gate failed, 2 when the run could not start.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", defaultConfigPath, "config file path")
	pf.BoolVar(&opts.debug, "debug", false, "enable debug logging (every request and response status)")
	pf.StringVar(&opts.routerURL, "router-url", "", "master endpoint for database and space administration")
	pf.StringVar(&opts.dataURL, "data-url", "", "router endpoint for document operations")
	pf.StringVar(&opts.dbName, "db", "", "database name")
	pf.StringVar(&opts.spaceName, "space", "", "space name")
	pf.StringVar(&opts.fixture, "fixture", "", "fixture file (local path or s3://bucket/key, optionally .gz/.zst/.lz4)")
	pf.IntVar(&opts.dimension, "dimension", 0, "vector dimension of the fixture")
	pf.StringVarP(&opts.output, "output", "o", "text", "report format: text or json")

	root.AddCommand(newRunCmd(opts), newBenchCmd(opts), newStubCmd(opts), newVersionCmd())
	return root
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the functional suite against the cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := report.ParseFormat(opts.output)
			if err != nil {
				return setupError("%w", err)
			}
			cfg, path, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			logger, err := utils.NewLogger(cfg.Debug)
			if err != nil {
				return setupError("failed to create logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			logger.Info("config loaded", zap.String("config_path", path), zap.Bool("debug", cfg.Debug))

			c, err := newClient(cfg, logger)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			loader := &fixture.Loader{
				Path:        cfg.Fixture.Path,
				MaxRecords:  cfg.Fixture.MaxRecords,
				IDField:     cfg.Fixture.IDField,
				VectorField: cfg.Fixture.VectorField,
				S3: fixture.S3Options{
					Endpoint:  cfg.Fixture.S3.Endpoint,
					AccessKey: cfg.Fixture.S3.AccessKey,
					SecretKey: cfg.Fixture.S3.SecretKey,
					Region:    cfg.Fixture.S3.Region,
					UseSSL:    cfg.Fixture.S3.UseSSL,
				},
			}
			records, err := loader.Load(ctx)
			if err != nil {
				return setupError("failed to load fixture: %w", err)
			}
			logger.Info("fixture loaded", zap.String("path", cfg.Fixture.Path), zap.Int("records", len(records)))

			rep := harness.NewRunner(cfg, c, logger).RunSuite(ctx, records)
			return finish(cmd.OutOrStdout(), rep, format)
		},
	}
}

func newBenchCmd(opts *globalOptions) *cobra.Command {
	var base, queries, truth string
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure IVFFLAT recall over the nprobe and parallel_on_queries sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := report.ParseFormat(opts.output)
			if err != nil {
				return setupError("%w", err)
			}
			cfg, path, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			if base != "" {
				cfg.Benchmark.BasePath = base
			}
			if queries != "" {
				cfg.Benchmark.QueryPath = queries
			}
			if truth != "" {
				cfg.Benchmark.GroundTruthPath = truth
			}
			logger, err := utils.NewLogger(cfg.Debug)
			if err != nil {
				return setupError("failed to create logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			logger.Info("config loaded", zap.String("config_path", path), zap.Bool("debug", cfg.Debug))

			c, err := newClient(cfg, logger)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			data, err := harness.LoadBenchData(ctx, cfg.Benchmark)
			if err != nil {
				return setupError("failed to load benchmark data: %w", err)
			}
			logger.Info("benchmark data loaded",
				zap.Int("base", len(data.Base)), zap.Int("queries", len(data.Queries)), zap.Int("dimension", len(data.Base[0])))

			rep := harness.NewRunner(cfg, c, logger).RunBenchmark(ctx, data)
			return finish(cmd.OutOrStdout(), rep, format)
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "base vectors (.fvecs)")
	cmd.Flags().StringVar(&queries, "queries", "", "query vectors (.fvecs)")
	cmd.Flags().StringVar(&truth, "groundtruth", "", "ground truth neighbour ids (.ivecs)")
	return cmd
}

// finish writes the report and maps its outcome to the exit code.
func finish(w io.Writer, rep *harness.Report, format report.Format) error {
	if err := report.Write(w, rep, format); err != nil {
		return &exitError{code: exitFailed, err: fmt.Errorf("failed to write report: %w", err)}
	}
	if code := rep.ExitCode(); code != exitOK {
		failed := rep.Failed()
		if len(failed) > 0 {
			return &exitError{code: code, err: fmt.Errorf("%d case(s) did not pass, first: %s", len(failed), failed[0].Name)}
		}
		return &exitError{code: code, err: errors.New("run did not pass")}
	}
	return nil
}

func newStubCmd(opts *globalOptions) *cobra.Command {
	var routerAddr, dataAddr, dataDir string
	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Serve an in-process vearch-compatible cluster backed by exact search",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("router-addr") {
				cfg.Stub.RouterAddr = routerAddr
			}
			if flags.Changed("data-addr") {
				cfg.Stub.DataAddr = dataAddr
			}
			if flags.Changed("data-dir") {
				cfg.Stub.DataDir = dataDir
			}
			logger, err := utils.NewLogger(cfg.Debug)
			if err != nil {
				return setupError("failed to create logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			logger.Info("config loaded", zap.String("config_path", path), zap.Bool("debug", cfg.Debug))

			srv := stub.NewServer(stub.NewCluster(cfg.Stub.DataDir, logger), logger)
			errc := make(chan error, 1)
			go func() { errc <- srv.Start(cfg.Stub.RouterAddr, cfg.Stub.DataAddr) }()

			ctx, cancel := signalContext()
			defer cancel()
			select {
			case err := <-errc:
				if err != nil {
					return setupError("stub failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("Shutting down...")
			sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer scancel()
			return srv.Stop(sctx)
		},
	}
	cmd.Flags().StringVar(&routerAddr, "router-addr", "", "listen address of the administration API (default from config)")
	cmd.Flags().StringVar(&dataAddr, "data-addr", "", "listen address of the document API (default from config)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for SQLite-backed RocksDB spaces (empty keeps everything in memory)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vearchprobe version %s\n", version)
		},
	}
}

// execute runs the CLI with args and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// flag and argument errors from cobra
	return exitSetup
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
