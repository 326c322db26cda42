package site

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

var (
	kindMermaid = ast.NewNodeKind("Mermaid")

	mermaidOpen  = []byte("<mermaid>")
	mermaidClose = []byte("</mermaid>")
)

// mermaidBlock is a diagram source, from a ```mermaid fence or a
// <mermaid> tag. It renders as <pre class="mermaid"> for the client to draw.
type mermaidBlock struct {
	ast.BaseBlock
	closed bool
}

func (n *mermaidBlock) Kind() ast.NodeKind { return kindMermaid }

func (n *mermaidBlock) IsRaw() bool { return true }

func (n *mermaidBlock) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, nil, nil)
}

// mermaid registers the diagram parser, fence rewrite and renderer.
type mermaid struct{}

func (mermaid) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		// ahead of the HTML block parser (900)
		parser.WithBlockParsers(util.Prioritized(mermaidTagParser{}, 850)),
		parser.WithASTTransformers(util.Prioritized(mermaidFences{}, 100)),
	)
	m.Renderer().AddOptions(
		renderer.WithNodeRenderers(util.Prioritized(mermaidRenderer{}, 100)),
	)
}

// mermaidTagParser reads <mermaid>...</mermaid> blocks. The body is kept
// verbatim, blank lines included.
type mermaidTagParser struct{}

func (mermaidTagParser) Trigger() []byte { return []byte{'<'} }

func (mermaidTagParser) Open(_ ast.Node, reader text.Reader, pc parser.Context) (ast.Node, parser.State) {
	line, segment := reader.PeekLine()
	pos := pc.BlockOffset()
	if pos < 0 || !bytes.HasPrefix(line[pos:], mermaidOpen) {
		return nil, parser.NoChildren
	}

	node := &mermaidBlock{}
	start := pos + len(mermaidOpen)
	rest := line[start:]
	if end := bytes.Index(rest, mermaidClose); end >= 0 {
		rest = rest[:end]
		node.closed = true
	}
	if !util.IsBlank(rest) {
		node.Lines().Append(text.NewSegment(segment.Start+start, segment.Start+start+len(rest)))
	}
	advanceLine(reader, line, segment)
	return node, parser.NoChildren
}

func (mermaidTagParser) Continue(node ast.Node, reader text.Reader, _ parser.Context) parser.State {
	n := node.(*mermaidBlock)
	if n.closed {
		return parser.Close
	}
	line, segment := reader.PeekLine()
	if line == nil {
		return parser.Close
	}
	if i := bytes.Index(line, mermaidClose); i >= 0 {
		if !util.IsBlank(line[:i]) {
			n.Lines().Append(text.NewSegment(segment.Start, segment.Start+i))
		}
		n.closed = true
	} else {
		n.Lines().Append(segment)
	}
	advanceLine(reader, line, segment)
	return parser.Continue | parser.NoChildren
}

func (mermaidTagParser) Close(ast.Node, text.Reader, parser.Context) {}

func (mermaidTagParser) CanInterruptParagraph() bool { return true }

func (mermaidTagParser) CanAcceptIndentedLine() bool { return false }

func advanceLine(reader text.Reader, line []byte, segment text.Segment) {
	n := segment.Len()
	if len(line) > 0 && line[len(line)-1] == '\n' {
		n--
	}
	reader.Advance(n)
}

// mermaidFences turns ```mermaid code fences into diagram blocks.
type mermaidFences struct{}

func (mermaidFences) Transform(doc *ast.Document, reader text.Reader, _ parser.Context) {
	source := reader.Source()
	var fences []*ast.FencedCodeBlock
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if fence, ok := n.(*ast.FencedCodeBlock); ok && entering {
			if string(fence.Language(source)) == "mermaid" {
				fences = append(fences, fence)
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	for _, fence := range fences {
		block := &mermaidBlock{closed: true}
		block.SetLines(fence.Lines())
		fence.Parent().ReplaceChild(fence.Parent(), fence, block)
	}
}

type mermaidRenderer struct{}

func (mermaidRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(kindMermaid, renderMermaid)
}

func renderMermaid(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString(`<pre class="mermaid">`)
	lines := n.Lines()
	for i := range lines.Len() {
		seg := lines.At(i)
		_, _ = w.Write(util.EscapeHTML(seg.Value(source)))
	}
	_, _ = w.WriteString("</pre>\n")
	return ast.WalkSkipChildren, nil
}
