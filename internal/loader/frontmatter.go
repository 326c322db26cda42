// Package loader discovers manual chapters on disk and derives their
// metadata: numbering, title, description and part grouping.
package loader

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frontmatter is the optional YAML header of a chapter.
// Unknown fields cause parse errors.
type Frontmatter struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Weight      int    `yaml:"weight"`
	Draft       bool   `yaml:"draft"`
}

// FrontmatterResult holds the result of frontmatter extraction.
type FrontmatterResult struct {
	Config   *Frontmatter
	Body     string // content after the frontmatter block
	BodyLine int    // lines consumed by the frontmatter block
	HasYAML  bool
}

// frontmatterPattern matches a leading ---\n ... \n--- block.
var frontmatterPattern = regexp.MustCompile(`(?s)\A---[ \t]*\r?\n(.*?)\r?\n---[ \t]*(?:\r?\n|\z)`)

// ExtractFrontmatter splits YAML frontmatter from markdown content.
func ExtractFrontmatter(content string) (*FrontmatterResult, error) {
	result := &FrontmatterResult{
		Config: &Frontmatter{},
		Body:   content,
	}

	loc := frontmatterPattern.FindStringSubmatchIndex(content)
	if loc == nil {
		return result, nil
	}

	result.HasYAML = true
	result.Body = content[loc[1]:]
	result.BodyLine = strings.Count(content[:loc[1]], "\n")

	cfg, err := parseFrontmatterYAML(content[loc[2]:loc[3]])
	if err != nil {
		return nil, err
	}
	result.Config = cfg
	return result, nil
}

func parseFrontmatterYAML(src string) (*Frontmatter, error) {
	cfg := &Frontmatter{}
	if strings.TrimSpace(src) == "" {
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewBufferString(src))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("invalid frontmatter: %w", err)
	}
	return cfg, nil
}
