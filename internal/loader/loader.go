package loader

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/ehimanual/pkg/core"
)

// Scanner discovers chapter files in a directory.
type Scanner struct {
	dir           string
	includeDrafts bool
	logger        *slog.Logger
}

// NewScanner creates a scanner for dir.
func NewScanner(dir string, includeDrafts bool, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scanner{dir: dir, includeDrafts: includeDrafts, logger: logger}
}

// Scan loads every *.md file directly under the directory, sorted by part,
// chapter, weight and id. Drafts are skipped unless included.
func (s *Scanner) Scan() ([]*core.Document, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read chapters directory: %w", err)
	}

	var docs []*core.Document
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".md") {
			continue
		}
		doc, err := Load(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if doc.Draft && !s.includeDrafts {
			s.logger.Debug("skipping draft chapter", "doc", doc.ID)
			continue
		}
		docs = append(docs, doc)
	}

	SortDocuments(docs)
	s.logger.Debug("discovered chapters", "dir", s.dir, "count", len(docs))
	return docs, nil
}

// Load reads one chapter file.
func Load(path string) (*core.Document, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the chapters dir
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return Parse(abs, string(raw))
}

// Parse builds a document from its path and raw content.
func Parse(path, raw string) (*core.Document, error) {
	fm, err := ExtractFrontmatter(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	part, chapter, name := ParseFileName(stem)
	sum := sha256.Sum256([]byte(raw))

	doc := &core.Document{
		ID:          stem,
		Path:        path,
		Slug:        stem,
		Title:       fm.Config.Title,
		Description: fm.Config.Description,
		Part:        part,
		Chapter:     chapter,
		Weight:      fm.Config.Weight,
		Draft:       fm.Config.Draft,
		Content:     fm.Body,
		BodyLine:    fm.BodyLine,
		Hash:        hex.EncodeToString(sum[:]),
	}
	if doc.Title == "" {
		doc.Title = ExtractTitle(fm.Body)
	}
	if doc.Title == "" {
		doc.Title = TitleFromSlug(name)
	}
	if doc.Description == "" {
		doc.Description = ExtractDescription(fm.Body)
	}
	return doc, nil
}

// SortDocuments orders documents by part, chapter, weight and id.
// Unnumbered documents sort last.
func SortDocuments(docs []*core.Document) {
	key := func(d *core.Document) int {
		if d.Part < 0 {
			return int(^uint(0) >> 1)
		}
		return d.Part
	}
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		switch {
		case key(a) != key(b):
			return key(a) < key(b)
		case a.Chapter != b.Chapter:
			return a.Chapter < b.Chapter
		case a.Weight != b.Weight:
			return a.Weight < b.Weight
		default:
			return a.ID < b.ID
		}
	})
}

// GroupParts groups sorted documents by part number, keeping order.
func GroupParts(docs []*core.Document) []core.Part {
	var parts []core.Part
	for _, d := range docs {
		if n := len(parts); n > 0 && parts[n-1].Number == d.Part {
			parts[n-1].Documents = append(parts[n-1].Documents, d)
			continue
		}
		parts = append(parts, core.Part{
			Number:    d.Part,
			Name:      PartName(d.Part),
			Documents: []*core.Document{d},
		})
	}
	return parts
}
