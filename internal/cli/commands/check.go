package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCheckCommand creates the check command.
func NewCheckCommand() *cobra.Command {
	var drafts bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run every embedded query without building",
		Long: `Execute every embedded query against the reference dataset and report the
ones that fail. Nothing is written and the bake cache is not consulted.

Exits non-zero when any query fails, which makes it suitable for CI.`,
		Example: `  ehimanual check
  ehimanual check --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContext(cmd)

			opts := siteOptions(cmdCtx.Cfg)
			opts.IncludeDrafts = opts.IncludeDrafts || drafts

			b, cleanup, err := newBuilder(cmdCtx, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			rep, err := b.Check(cmd.Context())
			if err != nil {
				return fmt.Errorf("check failed: %w", err)
			}
			if err := renderReport(cmdCtx.Renderer, rep, "Checked"); err != nil {
				return err
			}
			if n := len(rep.Failures); n > 0 {
				return fmt.Errorf("%d of %d queries failed", n, rep.Blocks)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&drafts, "drafts", false, "Include chapters marked draft")
	return cmd
}
