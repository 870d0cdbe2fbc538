// Command csvload loads CSV files into relational tables named after the
// files, with columns taken from the header.
//
//	csvload serve            HTTP upload intake + worker pool
//	csvload ingest FILE...   load files now and exit
//	csvload detect FILE...   show what would be created, without a database
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"csvload/internal/config"
	"csvload/internal/logging"
	"csvload/internal/storage"

	// register all backends with the storage factory.
	_ "csvload/internal/storage/all"
)

// appDeps are the side-effecting seams runMain needs. Tests swap them.
type appDeps struct {
	openStore   func(ctx context.Context, cfg storage.Config) (storage.Store, error)
	initMetrics func(ctx context.Context, cfg config.Config) (func(), error)
}

func defaultDeps() appDeps {
	return appDeps{
		openStore:   storage.New,
		initMetrics: initMetrics,
	}
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultDeps()))
}

// exitError carries a specific process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageErr(err error) error { return &exitError{code: 2, err: err} }

// runMain executes the CLI and returns the process exit code:
// 0 success, 1 runtime failure, 2 usage error.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	root := newRootCmd(deps)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "csvload: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "csvload: %v\n", err)
	return 1
}

// app is the state shared by the subcommands once flags are parsed.
type app struct {
	deps    appDeps
	v       *viper.Viper
	envFile string
	cfg     config.Config
	logger  *slog.Logger
}

func newRootCmd(deps appDeps) *cobra.Command {
	a := &app{deps: deps, v: config.NewViper()}

	root := &cobra.Command{
		Use:           "csvload",
		Short:         "Load CSV files into database tables derived from their names and headers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.v, a.envFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.Setup(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			return nil
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageErr(err) })

	pf := root.PersistentFlags()
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file to read settings from (ignored if missing)")
	pf.String("database-url", "", "database DSN (env DATABASE_URL)")
	pf.String("storage-kind", "", "postgres|sqlite|mssql|mysql; inferred from the DSN when empty")
	pf.String("staging-dir", "", "directory bare file names resolve against (default ./temp)")
	pf.String("processed-dir", "", "sibling directory name successful files move into (default processed)")
	pf.Int("workers", 0, "number of ingestion workers (default 3)")
	pf.Int("batch-size", 0, "rows per insert batch (default 1000)")
	pf.String("source-encoding", "", "auto|utf-8|latin1|windows-1252 (default auto)")
	pf.String("log-level", "", "debug|info|warn|error (default info)")
	pf.String("log-format", "", "text|json (default text)")
	pf.String("metrics-backend", "", "none|datadog|pushgateway (default none)")
	pf.String("pushgateway-url", "", "Pushgateway base URL")
	bindFlags(a.v, pf, map[string]string{
		"database-url":    config.KeyDatabaseURL,
		"storage-kind":    config.KeyStorageKind,
		"staging-dir":     config.KeyStagingDir,
		"processed-dir":   config.KeyProcessedDir,
		"workers":         config.KeyWorkers,
		"batch-size":      config.KeyBatchSize,
		"source-encoding": config.KeySourceEncoding,
		"log-level":       config.KeyLogLevel,
		"log-format":      config.KeyLogFormat,
		"metrics-backend": config.KeyMetricsBackend,
		"pushgateway-url": config.KeyPushgatewayURL,
	})

	root.AddCommand(
		newServeCmd(a),
		newIngestCmd(a),
		newDetectCmd(a),
	)
	return root
}

// usageArgs reports a failed positional argument check as a usage error.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageErr(fmt.Errorf("%s: %w", cmd.CommandPath(), err))
		}
		return nil
	}
}

// validate checks the loaded config; problems are usage errors.
func (a *app) validate(requireDB bool) error {
	if err := a.cfg.Validate(requireDB); err != nil {
		return usageErr(fmt.Errorf("invalid configuration: %w", err))
	}
	return nil
}

// openStore opens the configured database.
func (a *app) openStore(ctx context.Context) (storage.Store, error) {
	st, err := a.deps.openStore(ctx, storage.Config{Kind: a.cfg.StorageKind, DSN: a.cfg.DatabaseURL})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}
