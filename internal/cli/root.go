package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"payinsights/internal/config"
	applog "payinsights/internal/log"
	"payinsights/internal/manifest"
)

// options are the persistent flags; a set flag overrides configuration.
type options struct {
	backend   string
	dataset   string
	delimiter string
	tables    string
	manifest  string
	db        string
	verbose   bool
}

// NewRootCmd builds the payinsights command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "payinsights",
		Short: "Apple Pay authorization-rate reports",
		Long: `payinsights computes authorization rates and decline-reason breakdowns
over a transaction extract and renders the views of a report manifest.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.backend, "backend", "", "Dataset backend: csv, sqlite or sheets")
	flags.StringVar(&opts.dataset, "dataset", "", "Path of the CSV transaction extract")
	flags.StringVar(&opts.delimiter, "delimiter", "", "CSV field delimiter")
	flags.StringVar(&opts.tables, "tables", "", "Directory of pre-aggregated side tables")
	flags.StringVar(&opts.manifest, "manifest", "", "Report manifest file (built-in views when empty)")
	flags.StringVar(&opts.db, "db", "", "SQLite database path")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newViewsCmd(opts),
		newReportCmd(opts),
		newQueryCmd(opts),
		newImportCmd(opts),
		newRequestCmd(opts),
	)
	return root
}

// Execute runs the root command
func Execute(version string) error {
	if err := NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// loadConfig reads configuration and applies flag overrides.
func (o *options) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.DataBackend = o.backend
	}
	if flags.Changed("dataset") {
		cfg.DatasetPath = o.dataset
	}
	if flags.Changed("delimiter") {
		cfg.DatasetDelimiter = o.delimiter
	}
	if flags.Changed("tables") {
		cfg.TablesDir = o.tables
	}
	if flags.Changed("manifest") {
		cfg.ManifestPath = o.manifest
	}
	if flags.Changed("db") {
		cfg.SQLiteDBPath = o.db
	}
	if o.verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// env is what a command needs once configuration is resolved.
type env struct {
	cfg      *config.Config
	logger   *applog.Logger
	manifest *manifest.Manifest
	out      io.Writer
}

func (o *options) setup(cmd *cobra.Command) (*env, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := applog.New(applog.Config{
		Level:     applog.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: applog.ComponentCLI,
		Output:    cmd.ErrOrStderr(),
	})
	m, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, manifest: m, out: cmd.OutOrStdout()}, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
