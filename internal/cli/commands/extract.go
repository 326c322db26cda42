package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/ehimanual/internal/cli/output"
	"github.com/leapstack-labs/ehimanual/internal/extract"
	"github.com/leapstack-labs/ehimanual/internal/loader"
	"github.com/spf13/cobra"
)

// extractedBlock is one annotation as listed by the extract command.
type extractedBlock struct {
	ID          string `json:"id"`
	File        string `json:"file"`
	Line        int    `json:"line"`
	Description string `json:"description,omitempty"`
	Query       string `json:"query"`
}

// NewExtractCommand creates the extract command.
func NewExtractCommand() *cobra.Command {
	var (
		drafts   bool
		noInfer  bool
		showText bool
	)

	cmd := &cobra.Command{
		Use:   "extract [chapter...]",
		Short: "List the embedded queries of the manual",
		Long: `List every <example-query> annotation with its widget id, source location
and description. Chapters can be narrowed by id.

Malformed annotations are skipped and logged as warnings.`,
		Example: `  ehimanual extract
  ehimanual extract 02-01-patient-demographics --sql
  ehimanual extract --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContext(cmd)
			cfg := cmdCtx.Cfg

			docs, err := loader.NewScanner(cfg.ChaptersDir, cfg.IncludeDrafts || drafts, cmdCtx.Logger).Scan()
			if err != nil {
				return err
			}

			want := make(map[string]bool, len(args))
			for _, a := range args {
				want[a] = true
			}

			opts := []extract.Option{extract.WithLogger(cmdCtx.Logger)}
			if noInfer {
				opts = append(opts, extract.WithoutInference())
			}

			blocks := []extractedBlock{}
			for _, doc := range docs {
				if len(want) > 0 && !want[doc.ID] {
					continue
				}
				delete(want, doc.ID)
				for _, b := range extract.All(doc.ID, doc.Content, opts...) {
					blocks = append(blocks, extractedBlock{
						ID:          b.ID.String(),
						File:        doc.Path,
						Line:        doc.FileLine(b.Line),
						Description: b.Description,
						Query:       b.Query,
					})
				}
			}
			for id := range want {
				return fmt.Errorf("chapter %q not found", id)
			}

			return renderBlocks(cmdCtx.Renderer, blocks, showText)
		},
	}

	cmd.Flags().BoolVar(&drafts, "drafts", false, "Include chapters marked draft")
	cmd.Flags().BoolVar(&noInfer, "no-infer", false, "Do not infer missing descriptions from surrounding prose")
	cmd.Flags().BoolVar(&showText, "sql", false, "Include the query text")
	return cmd
}

func renderBlocks(r *output.Renderer, blocks []extractedBlock, showText bool) error {
	if r.EffectiveMode() == output.ModeJSON {
		return renderJSON(r.Writer(), blocks)
	}
	if len(blocks) == 0 {
		r.Warning("no embedded queries found")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.SetStyle(table.StyleLight)
	header := table.Row{"Widget", "Location", "Description"}
	if showText {
		header = append(header, "Query")
	}
	t.AppendHeader(header)
	for _, b := range blocks {
		row := table.Row{b.ID, fmt.Sprintf("%s:%d", b.File, b.Line), truncate(b.Description, 50)}
		if showText {
			row = append(row, b.Query)
		}
		t.AppendRow(row)
	}

	if r.EffectiveMode() == output.ModeMarkdown {
		t.RenderMarkdown()
	} else {
		t.Render()
	}
	r.Println(r.Styles().Muted.Render(fmt.Sprintf("%d queries", len(blocks))))
	return nil
}
