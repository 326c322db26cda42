// Package transform replaces embedded query annotations in a chapter source
// with widget placeholders carrying the baked result.
package transform

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/leapstack-labs/ehimanual/internal/extract"
	"github.com/leapstack-labs/ehimanual/pkg/core"
)

// Lookup resolves a block to its baked result.
type Lookup interface {
	Result(id core.BlockID) (core.QueryResult, bool)
}

// Results is a map-backed Lookup.
type Results map[core.BlockID]core.QueryResult

// Result implements Lookup.
func (r Results) Result(id core.BlockID) (core.QueryResult, bool) {
	res, ok := r[id]
	return res, ok
}

// Placeholder renders the markup that stands in for one annotation.
type Placeholder func(p core.WidgetPayload) (string, error)

// IntegrityError reports a block with no baked result. It means the
// extraction and bake steps disagree and the document must not be emitted.
type IntegrityError struct {
	Block core.BlockID
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("no baked result for query block %s", e.Block)
}

// Output is a transformed document.
type Output struct {
	Source   string
	Payloads []core.WidgetPayload
}

// Transform replaces every well-formed annotation in src, in order, with
// render's output. Bytes outside annotation spans are copied unchanged.
func Transform(docID, src string, results Lookup, render Placeholder, opts ...extract.Option) (*Output, error) {
	if render == nil {
		render = DefaultPlaceholder
	}

	var (
		b        strings.Builder
		payloads []core.WidgetPayload
		last     int
	)
	b.Grow(len(src))

	for blk := range extract.Blocks(docID, src, opts...) {
		res, ok := results.Result(blk.ID)
		if !ok {
			return nil, &IntegrityError{Block: blk.ID}
		}

		p := core.WidgetPayload{
			ID:          blk.ID.String(),
			Query:       blk.Query,
			Description: blk.Description,
			Result:      res,
		}
		markup, err := render(p)
		if err != nil {
			return nil, fmt.Errorf("render widget %s: %w", p.ID, err)
		}

		b.WriteString(src[last:blk.Span.Start])
		b.WriteString(markup)
		last = blk.Span.End
		payloads = append(payloads, p)
	}
	b.WriteString(src[last:])

	return &Output{Source: b.String(), Payloads: payloads}, nil
}

// WidgetAttr marks a placeholder element; its value is the widget id.
const WidgetAttr = "data-widget-id"

var widgetAttrRe = regexp.MustCompile(WidgetAttr + `="([^"]*)"`)

// DefaultPlaceholder renders a single-line element carrying the payload as
// escaped JSON in a data attribute. It survives markdown rendering both as
// an HTML block and as inline raw HTML.
func DefaultPlaceholder(p core.WidgetPayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`<div class="sql-widget" id="widget-%s" %s="%s" data-payload="%s"></div>`,
		html.EscapeString(p.ID), WidgetAttr, html.EscapeString(p.ID), html.EscapeString(string(data))), nil
}

// WidgetIDs returns the widget ids of the placeholders in rendered output,
// in document order.
func WidgetIDs(rendered string) []string {
	var ids []string
	for _, m := range widgetAttrRe.FindAllStringSubmatch(rendered, -1) {
		ids = append(ids, html.UnescapeString(m[1]))
	}
	return ids
}

// CheckParity verifies that rendered output holds exactly one placeholder
// per payload, in the same order.
func CheckParity(rendered string, payloads []core.WidgetPayload) error {
	ids := WidgetIDs(rendered)
	if len(ids) != len(payloads) {
		return fmt.Errorf("page has %d widget placeholders, want %d", len(ids), len(payloads))
	}
	for i, p := range payloads {
		if ids[i] != p.ID {
			return fmt.Errorf("widget placeholder %d is %q, want %q", i, ids[i], p.ID)
		}
	}
	return nil
}
