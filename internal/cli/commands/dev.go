package commands

import (
	"fmt"

	"github.com/leapstack-labs/ehimanual/internal/site"
	"github.com/spf13/cobra"
)

// NewDevCommand creates the dev command.
func NewDevCommand() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Serve the static manual and rebuild on change",
		Long: `Build the manual, serve the output directory and rebuild whenever a chapter
or the dataset snapshot changes. Open pages reload after each rebuild.

Widgets run in the browser exactly as on the deployed site.`,
		Example: `  ehimanual dev
  ehimanual dev --port 3000 --drafts`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContext(cmd)

			opts := siteOptions(cmdCtx.Cfg)
			opts.ReloadURL = site.DevReloadPath
			if drafts, _ := cmd.Flags().GetBool("drafts"); drafts {
				opts.IncludeDrafts = true
			}
			if !cmd.Flags().Changed("port") {
				port = cmdCtx.Cfg.Serve.Port
			}

			b, cleanup, err := newBuilder(cmdCtx, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			cmdCtx.Renderer.Success(fmt.Sprintf("Dev server at http://localhost:%d%s", port, b.Options().BasePath))
			return site.NewDevServer(b, port, cmdCtx.Logger).Serve(cmd.Context())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default: serve.port)")
	cmd.Flags().Bool("drafts", false, "Include chapters marked draft")
	return cmd
}
