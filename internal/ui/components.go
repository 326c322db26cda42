package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
	"github.com/leapstack-labs/ehimanual/internal/query"
	"github.com/leapstack-labs/ehimanual/internal/widget"
	"github.com/leapstack-labs/ehimanual/pkg/core"
	"github.com/starfederation/datastar-go/datastar"
)

// resultID is the element id of a widget's result region.
func resultID(widgetID string) string {
	return "widget-" + widgetID + "-result"
}

// signalKey is the datastar signal holding a widget's query text. Every
// widget on a page gets its own key.
func signalKey(widgetID string) string {
	var b strings.Builder
	b.WriteString("sql_")
	for _, r := range strings.ToLower(widgetID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// LiveWidget renders a widget driven by the server: the editor is bound to
// the widget's signal and the buttons post to the widget routes.
func LiveWidget(st widget.State) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		key := signalKey(st.ID)
		signals, err := json.Marshal(map[string]string{key: st.Query})
		if err != nil {
			return err
		}
		original, err := json.Marshal(st.Original)
		if err != nil {
			return err
		}

		var b strings.Builder
		fmt.Fprintf(&b, `<div class="sql-widget sql-widget-live" id="widget-%s" data-widget-id="%s" data-signals="%s">`,
			templ.EscapeString(st.ID), templ.EscapeString(st.ID), templ.EscapeString(string(signals)))
		if st.Description != "" {
			fmt.Fprintf(&b, `<div class="sql-description">%s</div>`, templ.EscapeString(st.Description))
		}
		fmt.Fprintf(&b, `<textarea class="sql-editor" spellcheck="false" data-bind="%s">%s</textarea>`,
			key, templ.EscapeString(st.Query))
		b.WriteString(`<div class="sql-actions">`)
		fmt.Fprintf(&b, `<button type="button" class="sql-run" data-on:click="%s">Run</button>`,
			templ.EscapeString(datastar.PostSSE("/widgets/%s/run", st.ID)))
		fmt.Fprintf(&b, `<button type="button" class="sql-reset" data-attr:disabled="%s" data-on:click="%s">Reset</button>`,
			templ.EscapeString("$"+key+" === "+string(original)),
			templ.EscapeString(datastar.PostSSE("/widgets/%s/reset", st.ID)))
		b.WriteString(`</div>`)

		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}
		if err := WidgetResult(st).Render(ctx, w); err != nil {
			return err
		}
		_, err = io.WriteString(w, `</div>`)
		return err
	})
}

// LivePlaceholder renders a payload as a live widget on one line, so the
// markdown renderer passes it through as a single HTML block.
func LivePlaceholder(p core.WidgetPayload) (string, error) {
	var b strings.Builder
	if err := LiveWidget(widget.NewController(p, nil).State()).Render(context.Background(), &b); err != nil {
		return "", err
	}
	return strings.ReplaceAll(b.String(), "\n", "&#10;"), nil
}

// WidgetResult renders the result region of one widget. The element id is
// stable so a patch replaces the region in place.
func WidgetResult(st widget.State) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var b strings.Builder
		fmt.Fprintf(&b, `<div id="%s" class="sql-widget-results" data-status="%s" data-can-reset="%t">`,
			templ.EscapeString(resultID(st.ID)), st.Status, st.CanReset())

		switch {
		case st.Status == widget.StatusRunning:
			b.WriteString(`<div class="sql-running">Running...</div>`)
		case st.Result.Failed():
			fmt.Fprintf(&b, `<div class="sql-error">%s</div>`, templ.EscapeString(st.Result.ErrorMessage()))
		case len(st.Result.Rows) == 0:
			b.WriteString(`<div class="sql-no-results">No results returned</div>`)
		default:
			writeTable(&b, st)
		}

		b.WriteString(`</div>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func writeTable(b *strings.Builder, st widget.State) {
	b.WriteString(`<div class="sql-table-wrap"><table class="sql-results-table"><thead><tr>`)
	for _, c := range st.Result.Columns {
		fmt.Fprintf(b, `<th>%s</th>`, templ.EscapeString(c))
	}
	b.WriteString(`</tr></thead><tbody>`)
	for _, row := range st.Result.Rows {
		b.WriteString(`<tr>`)
		for _, c := range st.Result.Columns {
			fmt.Fprintf(b, `<td>%s</td>`, templ.EscapeString(cell(row[c])))
		}
		b.WriteString(`</tr>`)
	}
	b.WriteString(`</tbody></table></div>`)

	n := len(st.Result.Rows)
	meta := fmt.Sprintf("%d row", n)
	if n != 1 {
		meta += "s"
	}
	if st.Result.ElapsedMS > 0 {
		meta += fmt.Sprintf(" in %.1f ms", st.Result.ElapsedMS)
	}
	fmt.Fprintf(b, `<div class="sql-meta">%s`, meta)
	if st.Result.HasMore && !st.ShowAll {
		fmt.Fprintf(b, ` <button type="button" class="sql-showall" data-on:click="%s">Show all</button>`,
			templ.EscapeString(datastar.PostSSE("/widgets/%s/showall", st.ID)))
	}
	b.WriteString(`</div>`)
}

func cell(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(query.Normalize(v))
}
