// Package extract locates embedded query annotations in chapter sources.
//
// The annotation syntax is
//
//	<example-query description="Patients by age">
//	SELECT ...
//	</example-query>
//
// Scanning is purely lexical: the body is treated as opaque text and never
// parsed as SQL. Malformed annotations are skipped with a warning.
package extract

import (
	"html"
	"iter"
	"log/slog"
	"regexp"
	"strings"

	"github.com/leapstack-labs/ehimanual/pkg/core"
)

const (
	// OpenTag starts an annotation. It is followed by whitespace or '>'.
	OpenTag = "<example-query"
	// CloseTag ends an annotation.
	CloseTag = "</example-query>"

	// descriptionWindow bounds how far back prose is searched for an
	// inferred description.
	descriptionWindow = 200
)

var attrRe = regexp.MustCompile(`([A-Za-z_:][-A-Za-z0-9_:.]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)

// Option configures a scan.
type Option func(*scanner)

// WithLogger sets the logger that receives malformed-block warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithoutInference disables description inference from surrounding prose.
func WithoutInference() Option {
	return func(s *scanner) { s.infer = false }
}

// Blocks returns the well-formed query blocks of src in document order,
// numbered from 0. Each range over the sequence rescans src.
func Blocks(docID, src string, opts ...Option) iter.Seq[core.QueryBlock] {
	return func(yield func(core.QueryBlock) bool) {
		s := newScanner(docID, src, opts)
		for {
			b, ok := s.next()
			if !ok || !yield(b) {
				return
			}
		}
	}
}

// All collects Blocks into a slice.
func All(docID, src string, opts ...Option) []core.QueryBlock {
	var out []core.QueryBlock
	for b := range Blocks(docID, src, opts...) {
		out = append(out, b)
	}
	return out
}

type scanner struct {
	doc    string
	src    string
	pos    int
	index  int
	infer  bool
	logger *slog.Logger
}

func newScanner(docID, src string, opts []Option) *scanner {
	s := &scanner{
		doc:    docID,
		src:    src,
		infer:  true,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *scanner) next() (core.QueryBlock, bool) {
	for {
		start := s.findOpen(s.pos)
		if start < 0 {
			return core.QueryBlock{}, false
		}

		gt := s.endOfOpenTag(start + len(OpenTag))
		if gt < 0 {
			s.warn(start, "unterminated opening tag")
			s.pos = start + len(OpenTag)
			continue
		}
		bodyStart := gt + 1

		closeAt := strings.Index(s.src[bodyStart:], CloseTag)
		if closeAt < 0 {
			s.warn(start, "missing closing tag")
			s.pos = bodyStart
			continue
		}
		closeAt += bodyStart

		if nested := s.findOpen(bodyStart); nested >= 0 && nested < closeAt {
			s.warn(start, "opening tag before closing tag")
			s.pos = nested
			continue
		}

		end := closeAt + len(CloseTag)
		s.pos = end

		body := strings.TrimSpace(s.src[bodyStart:closeAt])
		if body == "" {
			s.warn(start, "empty query body")
			continue
		}

		b := core.QueryBlock{
			ID:          core.BlockID{Doc: s.doc, Index: s.index},
			Query:       body,
			Description: attribute(s.src[start+len(OpenTag):gt], "description"),
			Span:        core.Span{Start: start, End: end},
			Line:        strings.Count(s.src[:start], "\n") + 1,
		}
		if b.Description == "" && s.infer {
			b.Description = InferDescription(s.src, start)
		}
		s.index++
		return b, true
	}
}

// findOpen returns the offset of the next open tag at or after from, or -1.
// "<example-query-foo" and similar are not open tags.
func (s *scanner) findOpen(from int) int {
	for from < len(s.src) {
		i := strings.Index(s.src[from:], OpenTag)
		if i < 0 {
			return -1
		}
		at := from + i
		after := at + len(OpenTag)
		if after < len(s.src) {
			switch s.src[after] {
			case '>', ' ', '\t', '\n', '\r':
				return at
			}
		}
		from = after
	}
	return -1
}

// endOfOpenTag returns the offset of the '>' closing the open tag, honoring
// quoted attribute values, or -1.
func (s *scanner) endOfOpenTag(from int) int {
	var quote byte
	for i := from; i < len(s.src); i++ {
		c := s.src[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '>':
			return i
		case c == '<':
			return -1
		}
	}
	return -1
}

func (s *scanner) warn(offset int, reason string) {
	s.logger.Warn("skipping malformed query block",
		"doc", s.doc,
		"line", strings.Count(s.src[:offset], "\n")+1,
		"reason", reason)
}

func attribute(tag, name string) string {
	for _, m := range attrRe.FindAllStringSubmatch(tag, -1) {
		if !strings.EqualFold(m[1], name) {
			continue
		}
		v := m[2]
		if v == "" {
			v = m[3]
		}
		return strings.TrimSpace(html.UnescapeString(v))
	}
	return ""
}

// InferDescription returns the last non-empty line of prose within the 200
// bytes before offset, or "" when that line is a heading or a code fence.
func InferDescription(src string, offset int) string {
	from := max(0, offset-descriptionWindow)
	lines := strings.Split(src[from:offset], "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(strings.ToValidUTF8(lines[i], ""))
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "```") {
			return ""
		}
		return line
	}
	return ""
}
