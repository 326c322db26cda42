package site

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"slices"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/net/html"
)

//go:embed templates/*.html
var templateFiles embed.FS

// newMarkdown returns the chapter renderer. Raw HTML must pass through so
// the widget placeholders survive; mermaid diagrams become <pre> blocks.
func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.GFM, mermaid{}),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
	)
}

// siteData is shared by every page template.
type siteData struct {
	Title         string
	Base          string
	DatasetURL    string
	SQLJSURL      string
	RowCap        int
	QueryEndpoint string
	ReloadURL     string
	MermaidURL    string
	DatastarURL   string
}

type pageData struct {
	Site    siteData
	Title   string
	Current string
	Nav     []NavGroup
	Stats   Stats

	Body       template.HTML
	Diagrams   bool
	Prev, Next *NavItem
}

func (b *Builder) siteData() siteData {
	return siteData{
		Title:         b.opts.Title,
		Base:          b.opts.BasePath,
		DatasetURL:    b.opts.BasePath + strings.TrimPrefix(b.opts.PublishAs, "/"),
		SQLJSURL:      b.opts.SQLJSURL,
		RowCap:        b.opts.RuntimeRowCap,
		QueryEndpoint: b.opts.QueryEndpoint,
		ReloadURL:     b.opts.ReloadURL,
		MermaidURL:    b.opts.MermaidURL,
		DatastarURL:   b.opts.DatastarURL,
	}
}

func parsePage(name string) (*template.Template, error) {
	tmpl, err := template.ParseFS(templateFiles, "templates/layout.html", "templates/"+name)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	return tmpl, nil
}

func renderPage(w io.Writer, tmpl *template.Template, data pageData) error {
	if err := tmpl.ExecuteTemplate(w, "layout", data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

// PlainText extracts the readable text of rendered chapter HTML, with
// whitespace collapsed. Script and style contents and widget markup are
// dropped.
func PlainText(rendered string) string {
	z := html.NewTokenizer(strings.NewReader(rendered))
	var (
		b      strings.Builder
		skip   int
		widget int // div depth inside a widget
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			name, hasAttr := z.TagName()
			switch {
			case isRawText(name):
				skip++
			case string(name) != "div":
			case widget > 0:
				widget++
			case hasAttr && isWidget(z):
				widget = 1
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if isRawText(name) && skip > 0 {
				skip--
			}
			if string(name) == "div" && widget > 0 {
				widget--
			}
			b.WriteByte(' ')
		case html.TextToken:
			if skip == 0 && widget == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isWidget(z *html.Tokenizer) bool {
	for {
		key, val, more := z.TagAttr()
		if string(key) == "class" && slices.Contains(strings.Fields(string(val)), "sql-widget") {
			return true
		}
		if !more {
			return false
		}
	}
}

func isRawText(tag []byte) bool {
	s := string(tag)
	return s == "script" || s == "style"
}
