package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"payinsights/internal/amqp"
	"payinsights/internal/dataset"
	applog "payinsights/internal/log"
	"payinsights/internal/manifest"
	"payinsights/internal/metrics"
	"payinsights/internal/storage"
)

func newViewsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "views",
		Short: "List the views of the report manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSECTIONS\tTITLE")
			for _, v := range e.manifest.Views {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", v.Name, len(v.Sections), v.Title)
			}
			return tw.Flush()
		},
	}
}

func newReportCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "report <view>",
		Short: "Render a view of the report manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			view, err := e.manifest.View(args[0])
			if err != nil {
				return fmt.Errorf("%w (available: %s)", err, strings.Join(e.manifest.Names(), ", "))
			}

			ctx := commandContext(cmd)
			agg, tables, err := e.load(cmd)
			if err != nil {
				return err
			}
			report, err := manifest.NewRenderer(e.cfg.RenderConcurrency).Render(ctx, agg, tables, view)
			if err != nil {
				return err
			}
			e.logger.Debug("Report rendered",
				applog.FieldView, report.View,
				"sections", len(report.Sections),
				"failed_sections", report.Failed())

			if asJSON {
				return writeJSON(e.out, report)
			}
			return printReport(e.out, report)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func newQueryCmd(opts *options) *cobra.Command {
	var (
		section manifest.Section
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "query <kind>",
		Short: "Run a single query",
		Long: "Run a single query against the dataset.\n\nKinds: " +
			strings.Join(manifest.Kinds(), ", ") +
			"\nFilters: all, first_attempt, retry, recurring",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			section.ID = args[0]
			section.Title = args[0]
			section.Kind = manifest.Kind(args[0])
			if !cmd.Flags().Changed("top") &&
				(section.Kind == manifest.KindTopDeclines || section.Kind == manifest.KindRecurringDeclines) {
				section.Top = manifest.DefaultTop
			}
			if err := section.Validate(); err != nil {
				return err
			}

			agg, tables, err := e.load(cmd)
			if err != nil {
				return err
			}
			data, source, err := manifest.Evaluate(agg, tables, section)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(e.out, data)
			}
			e.logger.Debug("Query evaluated", applog.FieldOperation, applog.OpQuery, applog.FieldSource, source)
			return printData(e.out, data)
		},
	}
	cmd.Flags().StringVar(&section.Dim, "dim", "", "Dimension to group by")
	cmd.Flags().IntVar(&section.Top, "top", 0, "Number of decline reasons to keep")
	cmd.Flags().StringVar(&section.Filter, "filter", "", "Attempt filter for decline queries")
	cmd.Flags().StringVar(&section.Table, "table", "", "Side table name for the table kind")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func newImportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <csv>",
		Short: "Load a CSV extract into the SQLite database",
		Long: "Replace the transactions stored in the SQLite database with the records " +
			"of a CSV extract. The sqlite backend then serves them.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			ds, err := dataset.LoadFile(args[0], dataset.Options{Comma: e.cfg.Delimiter()})
			if err != nil {
				return err
			}

			repo, err := storage.NewSQLiteRepository(e.cfg.SQLiteDBPath)
			if err != nil {
				return err
			}
			defer repo.Close()

			imp, err := repo.ReplaceTransactions(commandContext(cmd), ds, args[0])
			if err != nil {
				return err
			}
			e.logger.Info("Dataset imported",
				applog.FieldOperation, applog.OpImport,
				applog.FieldRecords, imp.Records,
				applog.FieldSource, imp.Source)
			fmt.Fprintf(e.out, "Imported %d records into %s (import #%d)\n", imp.Records, e.cfg.SQLiteDBPath, imp.ID)
			return nil
		},
	}
}

func newRequestCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "request <view>",
		Short: "Ask the report worker to render a view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			if e.cfg.AMQPURL == "" {
				return errors.New("AMQP_URL is not configured")
			}
			if _, err := e.manifest.View(args[0]); err != nil {
				return err
			}

			client, err := amqp.NewClient(e.cfg.AMQPURL, e.cfg.AMQPExchange, e.cfg.AMQPRequestQueue, e.cfg.AMQPResultKey, e.logger)
			if err != nil {
				return err
			}
			defer client.Close()

			req := amqp.NewReportRequest(args[0])
			if err := client.PublishRequest(commandContext(cmd), req); err != nil {
				return err
			}
			fmt.Fprintln(e.out, req.RequestID)
			return nil
		},
	}
}

// load opens the configured source and reads the dataset and side tables.
func (e *env) load(cmd *cobra.Command) (*metrics.Aggregator, map[string]dataset.Table, error) {
	ctx := commandContext(cmd)
	src, err := OpenSource(ctx, e.cfg, e.logger)
	if err != nil {
		return nil, nil, err
	}
	if src.Cleanup != nil {
		defer src.Cleanup()
	}

	ds, err := src.Backend.LoadDataset(ctx)
	if err != nil {
		return nil, nil, err
	}
	tables, err := src.Backend.Tables(ctx)
	if err != nil {
		return nil, nil, err
	}
	e.logger.Debug("Dataset loaded", applog.FieldRecords, ds.Len(), "tables", len(tables))
	return metrics.New(ds), tables, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
