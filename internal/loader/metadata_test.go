package loader

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFileName(t *testing.T) {
	tests := []struct {
		stem    string
		part    int
		chapter int
		name    string
	}{
		{"00-01-read-me-first", 0, 1, "read-me-first"},
		{"04-12-claims", 4, 12, "claims"},
		{"glossary", -1, 0, "glossary"},
		{"1-x", -1, 0, "1-x"},
	}

	for _, tt := range tests {
		t.Run(tt.stem, func(t *testing.T) {
			part, chapter, name := ParseFileName(tt.stem)
			assert.Equal(t, tt.part, part)
			assert.Equal(t, tt.chapter, chapter)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "chapter prefix", body: "# Chapter 2.1: Patient Demographics\n", want: "Patient Demographics"},
		{name: "part prefix", body: "# Part 3: Clinical\n", want: "Clinical"},
		{name: "plain", body: "intro\n\n# Overview #\n", want: "Overview"},
		{name: "h2 ignored", body: "## Not a title\n", want: ""},
		{name: "none", body: "text only", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTitle(tt.body))
		})
	}

	assert.Equal(t, "2.1", ExtractChapterLabel("# Chapter 2.1: Patient Demographics\n"))
	assert.Equal(t, "", ExtractChapterLabel("# Overview\n"))
}

func TestExtractDescription(t *testing.T) {
	long := strings.Repeat("word ", 60)

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "purpose line", body: "# T\n\n*Purpose: Map the billing tables.*\n\nOther.", want: "Map the billing tables."},
		{name: "underscore purpose", body: "_Purpose: Orient readers._\n", want: "Orient readers."},
		{name: "first paragraph", body: "# T\n\n> quote\n\nThe [export](x.html) has **many** tables.\nSecond line.\n", want: "The export has many tables. Second line."},
		{name: "skips code and html", body: "```sql\nSELECT 1\n```\n\n<example-query>\nSELECT 1\n</example-query>\n\nProse here.", want: "Prose here."},
		{name: "empty", body: "# Only a heading\n", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractDescription(tt.body))
		})
	}

	t.Run("truncated at word boundary", func(t *testing.T) {
		got := ExtractDescription(long)
		assert.True(t, strings.HasSuffix(got, "..."))
		assert.LessOrEqual(t, len(got), 153)
		assert.False(t, strings.Contains(got, "wor..."))
	})
}

func TestTitleFromSlug(t *testing.T) {
	assert.Equal(t, "Patient Demographics", TitleFromSlug("patient-demographics"))
}

func TestExtractFrontmatter(t *testing.T) {
	res, err := ExtractFrontmatter("---\ntitle: X\nweight: 2\n---\nBody\n")
	assert.NoError(t, err)
	assert.True(t, res.HasYAML)
	assert.Equal(t, "X", res.Config.Title)
	assert.Equal(t, 2, res.Config.Weight)
	assert.Equal(t, "Body\n", res.Body)
	assert.Equal(t, 4, res.BodyLine)

	res, err = ExtractFrontmatter("No frontmatter\n---\n")
	assert.NoError(t, err)
	assert.False(t, res.HasYAML)
	assert.Equal(t, "No frontmatter\n---\n", res.Body)
}
