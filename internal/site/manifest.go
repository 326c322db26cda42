package site

import (
	"time"

	"github.com/leapstack-labs/ehimanual/internal/loader"
	"github.com/leapstack-labs/ehimanual/pkg/core"
)

// Manifest is the navigation data published as data/manifest.json.
type Manifest struct {
	Title         string     `json:"title"`
	GeneratedAt   time.Time  `json:"generated_at"`
	DatasetDigest string     `json:"dataset_digest"`
	NavTree       []NavGroup `json:"nav_tree"`
	Stats         Stats      `json:"stats"`
}

// NavGroup is one part of the manual.
type NavGroup struct {
	Part  int       `json:"part"`
	Name  string    `json:"name"`
	Items []NavItem `json:"items"`
}

// NavItem is one chapter in the navigation.
type NavItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Order       string `json:"order,omitempty"`
	Description string `json:"description,omitempty"`
	Queries     int    `json:"queries"`
}

// Stats contains counts for the overview page.
type Stats struct {
	Chapters      int `json:"chapters"`
	Parts         int `json:"parts"`
	Queries       int `json:"queries"`
	FailedQueries int `json:"failed_queries"`
}

// SearchEntry is one document of data/search-index.json.
type SearchEntry struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
	Chapter string `json:"chapter"`
}

func navItem(d *core.Document, queries int) NavItem {
	return NavItem{
		ID:          d.ID,
		Title:       d.Title,
		URL:         d.URL(),
		Order:       d.Order(),
		Description: d.Description,
		Queries:     queries,
	}
}

// generateNav groups pages by part, in reading order.
func generateNav(pages []*page) []NavGroup {
	docs := make([]*core.Document, len(pages))
	queries := make(map[string]int, len(pages))
	for i, p := range pages {
		docs[i] = p.doc
		queries[p.doc.ID] = p.bake.blocks
	}

	parts := loader.GroupParts(docs)
	nav := make([]NavGroup, 0, len(parts))
	for _, part := range parts {
		g := NavGroup{Part: part.Number, Name: part.Name, Items: make([]NavItem, 0, len(part.Documents))}
		for _, d := range part.Documents {
			g.Items = append(g.Items, navItem(d, queries[d.ID]))
		}
		nav = append(nav, g)
	}
	return nav
}

// GenerateManifest creates the manifest for a set of processed pages.
func GenerateManifest(title, digest string, nav []NavGroup, stats Stats) *Manifest {
	return &Manifest{
		Title:         title,
		GeneratedAt:   time.Now().UTC(),
		DatasetDigest: digest,
		NavTree:       nav,
		Stats:         stats,
	}
}

func pageStats(pages []*page, nav []NavGroup) Stats {
	s := Stats{Chapters: len(pages), Parts: len(nav)}
	for _, p := range pages {
		s.Queries += p.bake.blocks
		s.FailedQueries += len(p.bake.failures)
	}
	return s
}

// searchIndex builds the plain-text search documents.
func searchIndex(pages []*page) []SearchEntry {
	out := make([]SearchEntry, 0, len(pages))
	for _, p := range pages {
		out = append(out, SearchEntry{
			ID:      p.doc.ID,
			Title:   p.doc.Title,
			URL:     p.doc.URL(),
			Content: p.text,
			Chapter: loader.ExtractChapterLabel(p.doc.Content),
		})
	}
	return out
}
