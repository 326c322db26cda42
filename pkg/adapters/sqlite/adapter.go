// Package sqlite provides the reference dataset engine: a single SQLite
// snapshot file opened through the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/leapstack-labs/ehimanual/pkg/adapter"

	_ "modernc.org/sqlite" // sqlite driver
)

// Adapter implements adapter.Adapter for SQLite snapshots.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new SQLite adapter instance.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger}}
}

// DSN builds the driver data source name for path.
// Read-only snapshots are opened as URI filenames with mode=ro.
func DSN(path string, readOnly bool) string {
	if path == "" || path == ":memory:" {
		return ":memory:"
	}
	if readOnly {
		u := url.URL{Scheme: "file", Path: path, OmitHost: true, RawQuery: "mode=ro"}
		return u.String()
	}
	return path
}

// Connect opens the snapshot file.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	db, err := sql.Open("sqlite", DSN(cfg.Path, cfg.ReadOnly))
	if err != nil {
		return fmt.Errorf("failed to open sqlite dataset: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite dataset: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	a.Logger.Debug("opened sqlite dataset", "path", cfg.Path, "read_only", cfg.ReadOnly)
	return nil
}

// QueryContext runs a statement. The driver parses TEXT cells of columns
// declared DATE, DATETIME or TIMESTAMP into time.Time, which loses the
// stored text. Such statements are re-issued with those columns passed
// through unary plus, which keeps the value and drops the declared type.
// If the rewritten statement fails the original rows are returned.
func (a *Adapter) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := a.BaseSQLAdapter.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return rows, nil //nolint:nilerr // the caller sees the error on iteration
	}
	text := verbatimQuery(query, types)
	if text == "" {
		return rows, nil
	}

	verbatim, err := a.BaseSQLAdapter.QueryContext(ctx, text, args...)
	if err != nil {
		a.Logger.Debug("keeping driver time conversion", "error", err)
		return rows, nil
	}
	_ = rows.Close()
	return verbatim, nil
}

// verbatimQuery wraps query so that time-typed columns lose their declared
// type. Columns are renamed positionally inside the CTE, so duplicate names
// survive. It returns "" when no column needs it.
func verbatimQuery(query string, types []*sql.ColumnType) string {
	inner := make([]string, len(types))
	outer := make([]string, len(types))
	wrap := false
	for i, ct := range types {
		inner[i] = "c" + strconv.Itoa(i)
		outer[i] = inner[i]
		if isTimeType(ct.DatabaseTypeName()) {
			outer[i] = "+" + inner[i]
			wrap = true
		}
		outer[i] += " AS " + quoteIdent(ct.Name())
	}
	if !wrap {
		return ""
	}
	body := strings.TrimRight(strings.TrimSpace(query), "; \t\r\n")
	return "WITH q(" + strings.Join(inner, ", ") + ") AS (\n" + body + "\n)\nSELECT " +
		strings.Join(outer, ", ") + " FROM q"
}

func isTimeType(decl string) bool {
	switch strings.ToUpper(decl) {
	case "DATE", "DATETIME", "TIMESTAMP":
		return true
	}
	return false
}

// ListTables returns user tables and views, sorted by name.
func (a *Adapter) ListTables(ctx context.Context) ([]string, error) {
	names, err := a.ScanStrings(ctx, `
		SELECT name FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return names, nil
}

// GetTableMetadata retrieves column metadata and the row count of a table.
func (a *Adapter) GetTableMetadata(ctx context.Context, table string) (*adapter.Metadata, error) {
	if a.DB == nil {
		return nil, adapter.ErrNotConnected
	}

	rows, err := a.DB.QueryContext(ctx,
		`SELECT cid, name, type, "notnull", pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []adapter.Column
	for rows.Next() {
		var col adapter.Column
		var notNull, pk int
		if err := rows.Scan(&col.Position, &col.Name, &col.Type, &notNull, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Nullable = notNull == 0
		col.PrimaryKey = pk > 0
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}

	return &adapter.Metadata{
		Name:     table,
		Columns:  columns,
		RowCount: a.CountRows(ctx, quoteIdent(table)),
	}, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

var _ adapter.Adapter = (*Adapter)(nil)
