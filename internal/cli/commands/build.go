package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/ehimanual/internal/cli/output"
	"github.com/leapstack-labs/ehimanual/internal/site"
	"github.com/spf13/cobra"
)

// BuildOptions holds options for the build command.
type BuildOptions struct {
	NoCache  bool
	Workers  int
	RowCap   int
	Drafts   bool
	NoMinify bool
}

// NewBuildCommand creates the build command.
func NewBuildCommand() *cobra.Command {
	opts := &BuildOptions{}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the static manual",
		Long: `Build the manual into the output directory.

Every embedded query is executed against the reference dataset and its result
is baked into the page, so the site is readable without running anything.
The dataset snapshot is published next to the pages for reader sessions.

Queries that fail are reported but do not fail the build. A chapter whose
widgets cannot be matched to its queries does.`,
		Example: `  # Build into ./dist
  ehimanual build

  # Rebuild every query, ignoring the bake cache
  ehimanual build --no-cache

  # Build for deployment under a sub path
  ehimanual build --base-path /ehi-manual/`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBuild(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.NoCache, "no-cache", false, "Execute every query, ignoring cached results")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "Chapters processed in parallel (default: build.workers)")
	cmd.Flags().IntVar(&opts.RowCap, "row-cap", 0, "Rows baked per query, 0 for all (default: build.row_cap)")
	cmd.Flags().BoolVar(&opts.Drafts, "drafts", false, "Include chapters marked draft")
	cmd.Flags().BoolVar(&opts.NoMinify, "no-minify", false, "Write assets unminified")

	return cmd
}

func (o *BuildOptions) apply(cmd *cobra.Command, opts *site.Options) {
	if o.NoCache {
		opts.UseCache = false
	}
	if cmd.Flags().Changed("workers") {
		opts.Workers = o.Workers
	}
	if cmd.Flags().Changed("row-cap") {
		opts.RowCap = o.RowCap
	}
	if o.Drafts {
		opts.IncludeDrafts = true
	}
	if o.NoMinify {
		opts.Minify = false
	}
}

func runBuild(cmd *cobra.Command, opts *BuildOptions) error {
	cmdCtx := NewCommandContext(cmd)

	siteOpts := siteOptions(cmdCtx.Cfg)
	opts.apply(cmd, &siteOpts)

	b, cleanup, err := newBuilder(cmdCtx, siteOpts)
	if err != nil {
		return err
	}
	defer cleanup()

	rep, err := b.Build(cmd.Context())
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	return renderReport(cmdCtx.Renderer, rep, "Built")
}

// reportJSON is the machine-readable form of a build or check report.
type reportJSON struct {
	BuildID   string             `json:"buildId,omitempty"`
	OutputDir string             `json:"outputDir,omitempty"`
	Digest    string             `json:"datasetDigest"`
	Documents int                `json:"documents"`
	Changed   int                `json:"changed"`
	Blocks    int                `json:"queries"`
	CacheHits int                `json:"cacheHits"`
	Failures  []site.FailedQuery `json:"failures"`
	ElapsedMS int64              `json:"elapsedMs"`
}

func renderReport(r *output.Renderer, rep *site.Report, verb string) error {
	if r.EffectiveMode() == output.ModeJSON {
		failures := rep.Failures
		if failures == nil {
			failures = []site.FailedQuery{}
		}
		enc := json.NewEncoder(r.Writer())
		enc.SetIndent("", "  ")
		return enc.Encode(reportJSON{
			BuildID:   rep.BuildID,
			OutputDir: rep.OutputDir,
			Digest:    rep.Dataset.Digest,
			Documents: rep.Documents,
			Changed:   rep.Changed,
			Blocks:    rep.Blocks,
			CacheHits: rep.CacheHits,
			Failures:  failures,
			ElapsedMS: rep.Elapsed.Milliseconds(),
		})
	}

	styles := r.Styles()
	summary := fmt.Sprintf("%s %d chapters, %d queries in %s", verb, rep.Documents, rep.Blocks, rep.Elapsed.Round(time.Millisecond))
	r.Success(summary)
	if rep.OutputDir != "" {
		r.Println(styles.Muted.Render("  output:  " + rep.OutputDir))
	}
	r.Println(styles.Muted.Render(fmt.Sprintf("  dataset: %s (%d bytes)", shortDigest(rep.Dataset.Digest), rep.Dataset.Size)))
	if rep.CacheHits > 0 || rep.Changed > 0 {
		r.Println(styles.Muted.Render(fmt.Sprintf("  cache:   %d hits, %d chapters changed", rep.CacheHits, rep.Changed)))
	}

	if len(rep.Failures) == 0 {
		return nil
	}
	r.Println("")
	r.Header(2, fmt.Sprintf("%d failing queries", len(rep.Failures)))
	renderFailures(r, rep.Failures)
	return nil
}

func renderFailures(r *output.Renderer, failures []site.FailedQuery) {
	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Location", "Widget", "Description", "Error"})
	for _, f := range failures {
		t.AppendRow(table.Row{
			fmt.Sprintf("%s:%d", f.File, f.Line),
			f.Block.String(),
			truncate(f.Description, 40),
			truncate(f.Error, 60),
		})
	}
	if r.EffectiveMode() == output.ModeMarkdown {
		t.RenderMarkdown()
		return
	}
	t.Render()
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
