package commands

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/ehimanual/internal/query"
	"github.com/leapstack-labs/ehimanual/pkg/core"
)

// renderResult writes a query result in the requested format. A failed
// result is printed as its message, or as the result object for json.
func renderResult(w io.Writer, res core.QueryResult, format string) error {
	if format == "json" {
		return renderJSON(w, res)
	}
	if res.Failed() {
		_, _ = fmt.Fprintf(w, "Error: %s\n", res.ErrorMessage())
		return nil
	}

	switch format {
	case "csv":
		return renderCSV(w, res)
	case "md", "markdown":
		return renderTable(w, res, true)
	default:
		return renderTable(w, res, false)
	}
}

func renderTable(w io.Writer, res core.QueryResult, markdown bool) error {
	if len(res.Rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(res.Columns))
	for i, col := range res.Columns {
		header[i] = col
	}
	t.AppendHeader(header)

	for _, r := range res.Rows {
		row := make(table.Row, len(res.Columns))
		for i, col := range res.Columns {
			row[i] = formatValue(r[col])
		}
		t.AppendRow(row)
	}

	if markdown {
		t.RenderMarkdown()
	} else {
		t.Render()
	}
	_, _ = fmt.Fprintln(w, rowSummary(res))
	return nil
}

func rowSummary(res core.QueryResult) string {
	s := fmt.Sprintf("(%d rows", len(res.Rows))
	if res.HasMore {
		s += ", more available"
	}
	if res.ElapsedMS > 0 {
		s += fmt.Sprintf(", %.1f ms", res.ElapsedMS)
	}
	return s + ")"
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderCSV(w io.Writer, res core.QueryResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(res.Columns); err != nil {
		return err
	}
	record := make([]string, len(res.Columns))
	for _, r := range res.Rows {
		for i, col := range res.Columns {
			record[i] = formatValue(r[col])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatValue(v any) string {
	v = query.Normalize(v)
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}

func listTables(ctx context.Context, w io.Writer, cat cataloger, format string) error {
	names, err := cat.ListTables(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}

	res := core.QueryResult{Columns: []string{"name"}, Rows: make([]map[string]any, 0, len(names))}
	for _, name := range names {
		res.Rows = append(res.Rows, map[string]any{"name": name})
	}
	if format == "json" {
		return renderJSON(w, names)
	}
	return renderResult(w, res, format)
}

func showSchema(ctx context.Context, w io.Writer, cat cataloger, name, format string) error {
	meta, err := cat.GetTableMetadata(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to describe %s: %w", name, err)
	}
	if format == "json" {
		return renderJSON(w, meta)
	}

	res := core.QueryResult{Columns: []string{"column", "type", "nullable", "pk"}}
	for _, c := range meta.Columns {
		res.Rows = append(res.Rows, map[string]any{
			"column":   c.Name,
			"type":     c.Type,
			"nullable": yesNo(c.Nullable),
			"pk":       yesNo(c.PrimaryKey),
		})
	}
	if err := renderResult(w, res, format); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "%s: %d rows\n", meta.Name, meta.RowCount)
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}
