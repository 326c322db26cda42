package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/ehimanual/internal/cli/config"
	"github.com/leapstack-labs/ehimanual/internal/cli/output"
	"github.com/leapstack-labs/ehimanual/internal/site"
	"github.com/leapstack-labs/ehimanual/internal/state"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext collects the configuration, logger and renderer for cmd.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
	}
}

// getConfig returns the loaded configuration, or the defaults when the
// command runs without the root command.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	return config.Default()
}

// siteOptions maps configuration onto builder options.
func siteOptions(cfg *config.Config) site.Options {
	return site.Options{
		Title:         cfg.Title,
		ChaptersDir:   cfg.ChaptersDir,
		OutputDir:     cfg.OutputDir,
		BasePath:      cfg.BasePath,
		IncludeDrafts: cfg.IncludeDrafts,
		DatasetPath:   cfg.Dataset.Path,
		DatasetEngine: cfg.Dataset.Engine,
		DatasetParams: cfg.Dataset.Params,
		PublishAs:     cfg.Dataset.PublishAs,
		RowCap:        cfg.Build.RowCap,
		Workers:       cfg.Build.Workers,
		Minify:        cfg.Build.Minify,
		UseCache:      cfg.Build.Cache,
		RuntimeRowCap: cfg.Runtime.RowCap,
		SQLJSURL:      cfg.Runtime.SQLJSURL,
		MermaidURL:    cfg.Runtime.MermaidURL,
	}
}

// openStore opens the build-state database, creating its directory.
// The returned cleanup function must be called.
func openStore(cfg *config.Config, logger *slog.Logger) (*state.Store, func(), error) {
	if dir := filepath.Dir(cfg.StatePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	store := state.NewStore(logger)
	if err := store.Open(cfg.StatePath); err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

// newBuilder creates a site builder with the state store attached.
func newBuilder(cmdCtx *CommandContext, opts site.Options) (*site.Builder, func(), error) {
	if err := cmdCtx.Cfg.ValidateDirectories(); err != nil {
		return nil, nil, err
	}
	store, cleanup, err := openStore(cmdCtx.Cfg, cmdCtx.Logger)
	if err != nil {
		return nil, nil, err
	}
	return site.NewBuilder(opts, store, cmdCtx.Logger), cleanup, nil
}
