// Package site builds the static manual: it bakes every embedded query
// against the reference dataset, replaces the annotations with widget
// placeholders, renders the chapters and writes the supporting data files.
package site

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/leapstack-labs/ehimanual/internal/dataset"
	"github.com/leapstack-labs/ehimanual/internal/loader"
	"github.com/leapstack-labs/ehimanual/internal/query"
	"github.com/leapstack-labs/ehimanual/internal/state"
	"github.com/leapstack-labs/ehimanual/internal/transform"
	"github.com/leapstack-labs/ehimanual/pkg/core"
	"github.com/yuin/goldmark"
	"golang.org/x/sync/errgroup"
)

// DefaultPublishAs is where the snapshot is published inside the site.
const DefaultPublishAs = "assets/data/ehi.sqlite"

// browserEngine is the only engine sql.js can open.
const browserEngine = "sqlite"

// BrowserEngineError reports a snapshot that widgets would have to open in
// the browser although sql.js cannot read its engine.
type BrowserEngineError struct {
	Engine string
	Path   string
}

func (e *BrowserEngineError) Error() string {
	return fmt.Sprintf("dataset %s uses engine %q, which sql.js cannot open in the browser; publish a sqlite snapshot or use 'ehimanual serve'",
		e.Path, e.Engine)
}

// Options configures a Builder.
type Options struct {
	Title         string
	ChaptersDir   string
	OutputDir     string
	BasePath      string
	IncludeDrafts bool

	DatasetPath   string
	DatasetEngine string
	DatasetParams map[string]any
	PublishAs     string // site-relative path of the published snapshot

	RowCap   int // bake cap, 0 for none
	Workers  int
	Minify   bool
	UseCache bool

	RuntimeRowCap int    // reader cap advertised to widget.js
	SQLJSURL      string // sql.js distribution base URL
	QueryEndpoint string // live query API, empty for sql.js in the browser
	ReloadURL     string // live reload event stream, empty to disable
	MermaidURL    string // mermaid ES module, empty to skip diagrams

	// Placeholder renders each widget. Nil renders the sql.js widget
	// placeholder; a server supplies its own live markup together with the
	// script in DatastarURL.
	Placeholder transform.Placeholder
	DatastarURL string
}

func (o Options) withDefaults() Options {
	if o.Title == "" {
		o.Title = "Epic EHI Export - The Missing Manual"
	}
	if o.PublishAs == "" {
		o.PublishAs = DefaultPublishAs
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.RuntimeRowCap <= 0 {
		o.RuntimeRowCap = query.DefaultRowCap
	}
	if o.Placeholder == nil {
		o.Placeholder = transform.DefaultPlaceholder
	}
	o.BasePath = normalizeBase(o.BasePath)
	return o
}

func normalizeBase(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "/"
	}
	return "/" + p + "/"
}

// FailedQuery is a block whose baked result is an error.
type FailedQuery struct {
	Block       core.BlockID `json:"widget"`
	File        string       `json:"file"`
	Line        int          `json:"line"`
	Description string       `json:"description,omitempty"`
	Query       string       `json:"query"`
	Error       string       `json:"error"`
}

// Report summarizes a build or check.
type Report struct {
	BuildID   string
	OutputDir string
	Dataset   *dataset.Snapshot
	Documents int
	Changed   int // documents whose source changed since the last build
	Blocks    int
	CacheHits int
	Failures  []FailedQuery
	Elapsed   time.Duration
}

// Builder generates the site.
type Builder struct {
	opts   Options
	store  *state.Store
	md     goldmark.Markdown
	logger *slog.Logger
}

// NewBuilder creates a builder. store may be nil, which disables the bake
// cache and build history.
func NewBuilder(opts Options, store *state.Store, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{
		opts:   opts.withDefaults(),
		store:  store,
		md:     newMarkdown(),
		logger: logger,
	}
}

// Options returns the effective options.
func (b *Builder) Options() Options {
	return b.opts
}

// page is one processed chapter.
type page struct {
	doc      *core.Document
	body     string
	payloads []core.WidgetPayload
	text     string
	bake     bakeStats
}

// Build publishes the snapshot, processes every chapter and writes the site.
// A chapter whose placeholders cannot be reconciled with its blocks fails
// the build; failing queries are only reported.
func (b *Builder) Build(ctx context.Context) (*Report, error) {
	start := time.Now()
	o := b.opts

	if o.QueryEndpoint == "" {
		engine := o.DatasetEngine
		if engine == "" {
			engine = dataset.EngineFor(o.DatasetPath)
		}
		if !strings.EqualFold(engine, browserEngine) {
			return nil, &BrowserEngineError{Engine: engine, Path: o.DatasetPath}
		}
	}

	if err := os.MkdirAll(o.OutputDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	snap, err := dataset.Publish(o.DatasetPath, filepath.Join(o.OutputDir, filepath.FromSlash(o.PublishAs)))
	if err != nil {
		return nil, err
	}
	b.logger.Info("published dataset", "path", snap.Path, "size", snap.Size, "digest", snap.Digest[:12])

	rep := &Report{OutputDir: o.OutputDir, Dataset: snap}

	var rec *state.Build
	if b.store != nil {
		if rec, err = b.store.CreateBuild(ctx, snap.Digest); err != nil {
			return nil, err
		}
		rep.BuildID = rec.ID
	}

	err = b.build(ctx, snap, rep)
	rep.Elapsed = time.Since(start)

	if rec != nil {
		rec.Documents = rep.Documents
		rec.Blocks = rep.Blocks
		rec.CacheHits = rep.CacheHits
		rec.FailedQueries = len(rep.Failures)
		if cerr := b.store.CompleteBuild(context.WithoutCancel(ctx), rec, err); cerr != nil {
			b.logger.Warn("failed to record build", "error", cerr)
		}
	}
	if err != nil {
		return rep, err
	}

	b.logger.Info("site built",
		"output", o.OutputDir,
		"chapters", rep.Documents,
		"queries", rep.Blocks,
		"cached", rep.CacheHits,
		"failed", len(rep.Failures),
		"elapsed", rep.Elapsed.Round(time.Millisecond))
	return rep, nil
}

func (b *Builder) build(ctx context.Context, snap *dataset.Snapshot, rep *Report) error {
	ds, err := dataset.Open(ctx, b.opts.DatasetEngine, snap.Path, b.opts.DatasetParams, b.logger)
	if err != nil {
		return err
	}
	defer func() { _ = ds.Close() }()

	docs, err := loader.NewScanner(b.opts.ChaptersDir, b.opts.IncludeDrafts, b.logger).Scan()
	if err != nil {
		return err
	}

	pages, err := b.process(ctx, ds, docs, snap.Digest, true)
	if err != nil {
		return err
	}
	b.tally(ctx, pages, rep)

	if err := b.write(pages, snap); err != nil {
		return err
	}
	return b.prune(ctx, pages)
}

// Check executes every block of every chapter against the dataset without
// writing anything or touching the bake cache.
func (b *Builder) Check(ctx context.Context) (*Report, error) {
	start := time.Now()

	snap, err := dataset.Inspect(b.opts.DatasetPath)
	if err != nil {
		return nil, err
	}
	ds, err := dataset.Open(ctx, b.opts.DatasetEngine, snap.Path, b.opts.DatasetParams, b.logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ds.Close() }()

	docs, err := loader.NewScanner(b.opts.ChaptersDir, b.opts.IncludeDrafts, b.logger).Scan()
	if err != nil {
		return nil, err
	}

	pages, err := b.process(ctx, ds, docs, snap.Digest, false)
	if err != nil {
		return nil, err
	}

	rep := &Report{Dataset: snap}
	b.tally(ctx, pages, rep)
	rep.Elapsed = time.Since(start)
	return rep, nil
}

// process bakes the chapters in parallel. With render set each chapter is
// also transformed and converted to HTML.
func (b *Builder) process(ctx context.Context, q query.Queryer, docs []*core.Document, digest string, render bool) ([]*page, error) {
	pages := make([]*page, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)
	for i, doc := range docs {
		g.Go(func() error {
			results, stats, err := b.bake(gctx, q, doc, digest, render && b.opts.UseCache)
			if err != nil {
				return fmt.Errorf("chapter %s: %w", doc.ID, err)
			}
			p := &page{doc: doc, bake: stats}
			if render {
				if err := b.render(p, results); err != nil {
					return fmt.Errorf("chapter %s: %w", doc.ID, err)
				}
			}
			pages[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

func (b *Builder) render(p *page, results transform.Results) error {
	out, err := transform.Transform(p.doc.ID, p.doc.Content, results, b.opts.Placeholder)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := b.md.Convert([]byte(out.Source), &buf); err != nil {
		return fmt.Errorf("failed to render markdown: %w", err)
	}
	body := buf.String()

	if err := transform.CheckParity(body, out.Payloads); err != nil {
		return fmt.Errorf("placeholder parity: %w", err)
	}

	p.body = body
	p.payloads = out.Payloads
	p.text = PlainText(body)
	return nil
}

// tally folds page statistics into rep. Pages are already in document
// order, so failures are reported in reading order.
func (b *Builder) tally(ctx context.Context, pages []*page, rep *Report) {
	rep.Documents = len(pages)
	for _, p := range pages {
		rep.Blocks += p.bake.blocks
		rep.CacheHits += p.bake.hits
		rep.Failures = append(rep.Failures, p.bake.failures...)

		if b.store == nil {
			continue
		}
		prev, err := b.store.DocumentHash(ctx, p.doc.ID)
		if err != nil {
			b.logger.Debug("failed to read document hash", "doc", p.doc.ID, "error", err)
			continue
		}
		if prev != p.doc.Hash {
			rep.Changed++
		}
	}
}

// prune drops cache entries for removed chapters and blocks.
func (b *Builder) prune(ctx context.Context, pages []*page) error {
	if b.store == nil {
		return nil
	}
	ids := make([]string, 0, len(pages))
	for _, p := range pages {
		ids = append(ids, p.doc.ID)
		if err := b.store.SaveDocument(ctx, p.doc.ID, p.doc.Hash, p.bake.blocks); err != nil {
			return err
		}
		if _, err := b.store.PruneBakes(ctx, p.doc.ID, p.bake.blocks); err != nil {
			return err
		}
	}
	return b.store.PruneDocuments(ctx, ids)
}
