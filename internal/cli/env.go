package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/vgraph/internal/config"
	"github.com/roach88/vgraph/internal/dictionary"
	"github.com/roach88/vgraph/internal/graph"
	"github.com/roach88/vgraph/internal/logging"
	"github.com/roach88/vgraph/internal/store"
	"github.com/roach88/vgraph/internal/txlog"
)

// env is the set of objects a command works with, built once from the
// configuration and the global flags.
type env struct {
	cfg    config.Config
	out    *OutputFormatter
	logger *slog.Logger
	dict   *dictionary.Dictionary
	store  *store.Store
	driver *graph.Driver
}

// loadConfig reads the configuration and applies flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Database != "" {
		cfg.Store.Path = opts.Database
	}
	if opts.Dictionary != "" {
		cfg.Dictionary.Dir = opts.Dictionary
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// newFormatter builds the output formatter of cmd.
func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// newLogger writes to stderr so JSON output on stdout stays clean.
func newLogger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	return logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
}

// openEnv loads the dictionary and opens an existing database. With create
// set a missing database file is created. Failures are reported through
// the formatter.
func openEnv(cmd *cobra.Command, opts *RootOptions, create bool) (*env, error) {
	out := newFormatter(cmd, opts)
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, out.Fail("failed to load config", err)
	}
	e := &env{
		cfg:    cfg,
		out:    out,
		logger: newLogger(cmd, cfg),
	}

	dict, err := dictionary.LoadDir(cfg.Dictionary.Dir)
	if err != nil {
		return nil, out.Fail("failed to load dictionary", err)
	}
	e.dict = dict

	if !create {
		if _, err := os.Stat(cfg.Store.Path); os.IsNotExist(err) {
			return nil, out.Fail("database not found",
				fmt.Errorf("%s (run 'vgraph init' first)", cfg.Store.Path))
		}
	}

	st, err := store.Open(cfg.Store.Path, store.WithDriver(cfg.Store.Driver))
	if err != nil {
		return nil, out.Fail("failed to open database", err)
	}
	if err := st.EnsureTypeTables(cmd.Context(), dict); err != nil {
		st.Close()
		return nil, out.Fail("failed to create type tables", err)
	}
	e.store = st
	e.driver = graph.New(st, dict, txlog.New(st), graph.WithLogger(e.logger))

	out.VerboseLog("Database: %s (%s)", cfg.Store.Path, st.Driver())
	out.VerboseLog("Dictionary: %s (%d node types, %d edge types)",
		cfg.Dictionary.Dir, len(dict.NodeLabels()), len(dict.EdgeNames()))
	return e, nil
}

// Close releases the database.
func (e *env) Close() {
	if e.store == nil {
		return
	}
	if err := e.store.Close(); err != nil {
		e.logger.Warn("close database", "error", err)
	}
}
