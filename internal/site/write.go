package site

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/ehimanual/internal/dataset"
	"github.com/leapstack-labs/ehimanual/pkg/core"
)

// write emits every output file of the site.
func (b *Builder) write(pages []*page, snap *dataset.Snapshot) error {
	out := b.opts.OutputDir
	nav := generateNav(pages)
	stats := pageStats(pages, nav)
	site := b.siteData()

	chapterTmpl, err := parsePage("chapter.html")
	if err != nil {
		return err
	}
	for i, p := range pages {
		data := pageData{
			Site:    site,
			Title:   p.doc.Title,
			Current: p.doc.ID,
			Nav:     nav,
			Stats:   stats,
			Body:    template.HTML(p.body), //nolint:gosec // G203: rendered from project chapters

			Diagrams: strings.Contains(p.body, `<pre class="mermaid">`),
		}
		if i > 0 {
			prev := navItem(pages[i-1].doc, pages[i-1].bake.blocks)
			data.Prev = &prev
		}
		if i+1 < len(pages) {
			next := navItem(pages[i+1].doc, pages[i+1].bake.blocks)
			data.Next = &next
		}
		if err := writePage(filepath.Join(out, filepath.FromSlash(p.doc.URL()), "index.html"), chapterTmpl, data); err != nil {
			return err
		}
	}

	for name, data := range map[string]pageData{
		"index.html":      {Site: site, Nav: nav, Stats: stats},
		"playground.html": {Site: site, Title: "SQL Playground", Current: "playground", Nav: nav, Stats: stats},
	} {
		tmpl, err := parsePage(name)
		if err != nil {
			return err
		}
		dst := filepath.Join(out, "index.html")
		if name == "playground.html" {
			dst = filepath.Join(out, "playground", "index.html")
		}
		if err := writePage(dst, tmpl, data); err != nil {
			return err
		}
	}

	dataDir := filepath.Join(out, "data")
	if err := WriteJSON(filepath.Join(dataDir, "queries.json"), collectPayloads(pages)); err != nil {
		return err
	}
	if err := WriteJSON(filepath.Join(dataDir, "search-index.json"), searchIndex(pages)); err != nil {
		return err
	}
	if err := WriteJSON(filepath.Join(dataDir, "manifest.json"), GenerateManifest(b.opts.Title, snap.Digest, nav, stats)); err != nil {
		return err
	}

	assets, err := Assets(b.opts.Minify)
	if err != nil {
		return fmt.Errorf("failed to build assets: %w", err)
	}
	for _, a := range assets {
		if err := writeFile(filepath.Join(out, "assets", filepath.FromSlash(a.Name)), a.Content); err != nil {
			return err
		}
	}
	return nil
}

// collectPayloads returns every widget payload of the site in reading order.
func collectPayloads(pages []*page) []core.WidgetPayload {
	all := make([]core.WidgetPayload, 0)
	for _, p := range pages {
		all = append(all, p.payloads...)
	}
	return all
}

func writePage(dst string, tmpl *template.Template, data pageData) error {
	var buf bytes.Buffer
	if err := renderPage(&buf, tmpl, data); err != nil {
		return fmt.Errorf("%s: %w", dst, err)
	}
	return writeFile(dst, buf.Bytes())
}

// WriteJSON writes v as indented JSON. Map keys are sorted by encoding/json,
// so equal values always produce equal bytes.
func WriteJSON(dst string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(dst), err)
	}
	return writeFile(dst, append(data, '\n'))
}

func writeFile(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil { //nolint:gosec // G306: published site files are world-readable
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return nil
}
