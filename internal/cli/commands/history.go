package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/ehimanual/internal/cli/output"
	"github.com/leapstack-labs/ehimanual/internal/state"
	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent builds",
		Long:  `List recorded site builds, newest first, from the build-state database.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContext(cmd)

			store, cleanup, err := openStore(cmdCtx.Cfg, cmdCtx.Logger)
			if err != nil {
				return err
			}
			defer cleanup()

			builds, err := store.ListBuilds(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return renderHistory(cmdCtx.Renderer, builds)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of builds to show")
	return cmd
}

func renderHistory(r *output.Renderer, builds []*state.Build) error {
	if r.EffectiveMode() == output.ModeJSON {
		if builds == nil {
			builds = []*state.Build{}
		}
		return renderJSON(r.Writer(), builds)
	}
	if len(builds) == 0 {
		r.Println("No builds recorded yet. Run 'ehimanual build' first.")
		return nil
	}

	styles := r.Styles()
	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Build", "Status", "Started", "Duration", "Chapters", "Queries", "Cached", "Failed", "Dataset"})
	for _, b := range builds {
		status := string(b.Status)
		switch b.Status {
		case state.BuildSucceeded:
			status = styles.Success.Render(status)
		case state.BuildFailed:
			status = styles.Error.Render(status)
		}
		duration := "-"
		if b.CompletedAt != nil {
			duration = b.CompletedAt.Sub(b.StartedAt).Round(time.Millisecond).String()
		}
		t.AppendRow(table.Row{
			shortDigest(b.ID),
			status,
			b.StartedAt.Local().Format(time.DateTime),
			duration,
			b.Documents,
			b.Blocks,
			b.CacheHits,
			b.FailedQueries,
			shortDigest(b.DatasetDigest),
		})
	}

	if r.EffectiveMode() == output.ModeMarkdown {
		t.RenderMarkdown()
	} else {
		t.Render()
	}

	if last := builds[0]; last.Status == state.BuildFailed && last.Error != "" {
		r.Println("")
		r.Error(fmt.Sprintf("last build failed: %s", last.Error))
	}
	return nil
}
