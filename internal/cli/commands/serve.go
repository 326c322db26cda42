package commands

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/ehimanual/internal/runtime"
	"github.com/leapstack-labs/ehimanual/internal/ui"
	"github.com/spf13/cobra"
)

// Live endpoints the built pages are pointed at when served by the reader server.
const (
	queryEndpoint = "/api/query"
	reloadURL     = "/reload"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Port  int
	Watch bool
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Build the manual and serve it with server-side widgets",
		Long: `Build the manual and serve it with a live query backend.

Widgets run reader queries on the server instead of loading the snapshot
into the browser. Each reader gets an isolated session; editing a query
never affects another reader. With --watch, chapter edits rebuild the site
and reload open pages.`,
		Example: `  ehimanual serve
  ehimanual serve --port 3000 --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Port, "port", "p", 0, "Port to listen on (default: serve.port)")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Rebuild and reload on chapter changes")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	ctx := cmd.Context()
	cmdCtx := NewCommandContext(cmd)
	cfg := cmdCtx.Cfg

	port := cfg.Serve.Port
	if cmd.Flags().Changed("port") {
		port = opts.Port
	}
	watch := cfg.Serve.Watch || opts.Watch

	siteOpts := siteOptions(cfg)
	siteOpts.BasePath = "/"
	siteOpts.QueryEndpoint = queryEndpoint
	siteOpts.Placeholder = ui.LivePlaceholder
	siteOpts.DatastarURL = cfg.Serve.DatastarURL
	if watch {
		siteOpts.ReloadURL = reloadURL
	}

	b, cleanup, err := newBuilder(cmdCtx, siteOpts)
	if err != nil {
		return err
	}
	defer cleanup()

	rep, err := b.Build(ctx)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	if n := len(rep.Failures); n > 0 {
		cmdCtx.Renderer.Warning(fmt.Sprintf("%d queries failed at build time (see 'ehimanual check')", n))
	}

	effective := b.Options()
	src := runtime.Source{
		URL:      cfg.Dataset.Path,
		CacheDir: cfg.Runtime.CacheDir,
		Engine:   cfg.Dataset.Engine,
		Digest:   rep.Dataset.Digest,
		Params:   cfg.Dataset.Params,
	}
	h := runtime.NewHandle(runtime.SnapshotLoader(src, cmdCtx.Logger), cmdCtx.Logger)
	defer func() { _ = h.Close() }()

	server, err := ui.NewServer(ui.Config{
		Runtime: runtime.New(h, effective.RuntimeRowCap),
		SiteDir: effective.OutputDir,
		Dataset: ui.DatasetInfo{
			Engine: cfg.Dataset.Engine,
			Digest: rep.Dataset.Digest,
			URL:    effective.BasePath + effective.PublishAs,
			Size:   rep.Dataset.Size,
		},
		Port:      port,
		Watch:     watch,
		WatchDirs: []string{effective.ChaptersDir},
		Rebuild: func(ctx context.Context) (string, error) {
			rep, err := b.Build(ctx)
			if err != nil {
				return "", err
			}
			return rep.BuildID, nil
		},
		SessionSecret:      cfg.Serve.SessionSecret,
		MaxSessions:        cfg.Serve.MaxSessions,
		SessionIdleTimeout: cfg.Serve.SessionIdle,
		Logger:             cmdCtx.Logger,
	})
	if err != nil {
		return err
	}

	cmdCtx.Renderer.Success(fmt.Sprintf("Serving %d widgets at http://localhost:%d/", server.Widgets(), port))
	return server.Serve(ctx)
}
