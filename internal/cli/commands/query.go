package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/leapstack-labs/ehimanual/internal/cli/output"
	"github.com/leapstack-labs/ehimanual/internal/runtime"
	"github.com/leapstack-labs/ehimanual/pkg/core"
	"github.com/spf13/cobra"
)

// QueryOptions holds options for the query command.
type QueryOptions struct {
	Format     string
	Input      string
	Limit      int
	DatasetURL string
}

// cataloger is implemented by dataset adapters that can describe their tables.
type cataloger interface {
	ListTables(ctx context.Context) ([]string, error)
	GetTableMetadata(ctx context.Context, table string) (*core.TableMetadata, error)
}

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Query the reference dataset",
		Long: `Run SQL against the reference dataset exactly as a reader's widget would.

Results are capped at the reader row cap unless --limit says otherwise;
--limit 0 returns every row. The dataset can be a local snapshot or the URL
of a published site's snapshot.

When invoked without arguments on a terminal, enters interactive REPL mode.`,
		Example: `  # Execute SQL directly
  ehimanual query "SELECT * FROM PATIENT"

  # List available tables
  ehimanual query tables

  # Show columns of a table
  ehimanual query schema PATIENT

  # Query the snapshot of a deployed manual
  ehimanual query --dataset-url https://example.org/assets/data/ehi.sqlite "SELECT 1"

  # Output as JSON with every row
  ehimanual query "SELECT * FROM PATIENT" --format json --limit 0

  # Interactive mode
  ehimanual query`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args, opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Format, "format", "f", "table", "Output format: table, json, csv, md")
	cmd.PersistentFlags().StringVar(&opts.DatasetURL, "dataset-url", "", "Snapshot URL or path (default: dataset.path)")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Read SQL from file")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", -1, "Maximum rows, 0 for all (default: runtime.row_cap)")

	cmd.AddCommand(newQueryTablesCommand(opts))
	cmd.AddCommand(newQuerySchemaCommand(opts))

	return cmd
}

// session is an open connection to the dataset for one command.
type session struct {
	rt  *runtime.Runtime
	url string
}

func (s *session) Close() error {
	return s.rt.Handle().Close()
}

// catalog waits for the dataset and returns its table catalog.
func (s *session) catalog(ctx context.Context) (cataloger, error) {
	ds, err := s.rt.Handle().Await(ctx)
	if err != nil {
		return nil, err
	}
	cat, ok := ds.(cataloger)
	if !ok {
		return nil, errors.New("dataset engine does not expose a catalog")
	}
	return cat, nil
}

func openSession(cmdCtx *CommandContext, opts *QueryOptions) *session {
	cfg := cmdCtx.Cfg
	src := runtime.Source{
		URL:      cfg.Dataset.Path,
		CacheDir: cfg.Runtime.CacheDir,
		Engine:   cfg.Dataset.Engine,
		Params:   cfg.Dataset.Params,
	}
	if opts.DatasetURL != "" {
		src.URL = opts.DatasetURL
		src.Engine = ""
	}
	h := runtime.NewHandle(runtime.SnapshotLoader(src, cmdCtx.Logger), cmdCtx.Logger)
	return &session{rt: runtime.New(h, cfg.Runtime.RowCap), url: src.URL}
}

func (o *QueryOptions) limit(rt *runtime.Runtime) int {
	if o.Limit < 0 {
		return rt.RowCap()
	}
	return o.Limit
}

func runQuery(cmd *cobra.Command, args []string, opts *QueryOptions) error {
	cmdCtx := NewCommandContext(cmd)

	var text string
	switch {
	case len(args) > 0:
		text = strings.Join(args, " ")
	case opts.Input != "":
		content, err := os.ReadFile(opts.Input)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		text = string(content)
	case !output.IsTerminal(os.Stdin):
		content, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(content)
	}

	sess := openSession(cmdCtx, opts)
	defer func() { _ = sess.Close() }()

	if strings.TrimSpace(text) == "" {
		if len(args) > 0 || opts.Input != "" {
			return errors.New("query is empty")
		}
		return runQueryREPL(cmd, cmdCtx, sess, opts)
	}

	res := sess.rt.Execute(cmd.Context(), text, opts.limit(sess.rt))
	if err := renderResult(cmd.OutOrStdout(), res, opts.Format); err != nil {
		return err
	}
	if res.Failed() {
		return fmt.Errorf("query failed: %s", res.ErrorMessage())
	}
	return nil
}

// newQueryTablesCommand creates the tables subcommand.
func newQueryTablesCommand(opts *QueryOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables in the dataset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess := openSession(NewCommandContext(cmd), opts)
			defer func() { _ = sess.Close() }()

			cat, err := sess.catalog(cmd.Context())
			if err != nil {
				return err
			}
			return listTables(cmd.Context(), cmd.OutOrStdout(), cat, opts.Format)
		},
	}
}

// newQuerySchemaCommand creates the schema subcommand.
func newQuerySchemaCommand(opts *QueryOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <table>",
		Short: "Show the columns of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess := openSession(NewCommandContext(cmd), opts)
			defer func() { _ = sess.Close() }()

			cat, err := sess.catalog(cmd.Context())
			if err != nil {
				return err
			}
			return showSchema(cmd.Context(), cmd.OutOrStdout(), cat, args[0], opts.Format)
		},
	}
}
