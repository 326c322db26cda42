package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/ehimanual/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeChapter(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0600))
}

func TestScanner_Scan(t *testing.T) {
	dir := t.TempDir()
	writeChapter(t, dir, "01-02-encounters.md", "# Chapter 1.2: Encounters\n\n*Purpose: Explain encounter tables.*\n")
	writeChapter(t, dir, "00-01-read-me-first.md", "# Read Me First\n\nWelcome to the manual.\n")
	writeChapter(t, dir, "01-01-tables.md", "---\ntitle: Table Families\n---\n# Ignored\n\nBody.\n")
	writeChapter(t, dir, "appendix.md", "Glossary text.\n")
	writeChapter(t, dir, "02-01-draft.md", "---\ndraft: true\n---\n# Draft\n")
	writeChapter(t, dir, "notes.txt", "not a chapter")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "images"), 0750))

	docs, err := NewScanner(dir, false, testutil.NewTestLogger(t)).Scan()
	require.NoError(t, err)

	var ids []string
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"00-01-read-me-first", "01-01-tables", "01-02-encounters", "appendix"}, ids)

	assert.Equal(t, "Read Me First", docs[0].Title)
	assert.Equal(t, "Welcome to the manual.", docs[0].Description)
	assert.Equal(t, "00.01", docs[0].Order())
	assert.Equal(t, "Table Families", docs[1].Title)
	assert.Equal(t, 3, docs[1].BodyLine)
	assert.Equal(t, "Encounters", docs[2].Title)
	assert.Equal(t, "Explain encounter tables.", docs[2].Description)
	assert.Equal(t, "Appendix", docs[3].Title)
	assert.Equal(t, "", docs[3].Order())
	assert.Len(t, docs[0].Hash, 64)

	withDrafts, err := NewScanner(dir, true, nil).Scan()
	require.NoError(t, err)
	assert.Len(t, withDrafts, 5)
}

func TestScanner_MissingDir(t *testing.T) {
	_, err := NewScanner(filepath.Join(t.TempDir(), "nope"), false, nil).Scan()
	assert.Error(t, err)
}

func TestParse_BadFrontmatter(t *testing.T) {
	_, err := Parse("/x/00-01-a.md", "---\nunknown_field: 1\n---\n# A\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid frontmatter")
}

func TestGroupParts(t *testing.T) {
	docs := []string{
		"00-01-a.md", "00-02-b.md", "03-01-c.md", "misc.md",
	}
	dir := t.TempDir()
	for _, name := range docs {
		writeChapter(t, dir, name, "# T\n")
	}
	scanned, err := NewScanner(dir, false, nil).Scan()
	require.NoError(t, err)

	parts := GroupParts(scanned)
	require.Len(t, parts, 3)
	assert.Equal(t, "Getting Started", parts[0].Name)
	assert.Len(t, parts[0].Documents, 2)
	assert.Equal(t, "Clinical Data Model", parts[1].Name)
	assert.Equal(t, -1, parts[2].Number)
	assert.Equal(t, "Additional Topics", parts[2].Name)
}
