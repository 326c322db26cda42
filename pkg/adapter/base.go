package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/ehimanual/pkg/core"
)

// ErrNotConnected is returned by adapters used before Connect.
var ErrNotConnected = errors.New("database connection not established")

// BaseSQLAdapter provides common database/sql functionality for adapters.
// Embed it in concrete engines to get Close and QueryContext.
type BaseSQLAdapter struct {
	DB     *sql.DB
	Cfg    core.AdapterConfig
	Logger *slog.Logger
}

// Close closes the database connection.
func (b *BaseSQLAdapter) Close() error {
	if b.DB == nil {
		return nil
	}
	if b.Logger != nil {
		b.Logger.Debug("closing dataset connection", "path", b.Cfg.Path)
	}
	err := b.DB.Close()
	b.DB = nil
	return err
}

// QueryContext runs a statement that returns rows. Callers close the rows.
func (b *BaseSQLAdapter) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if b.DB == nil {
		return nil, ErrNotConnected
	}
	//nolint:rowserrcheck // rows.Err() is checked by the caller after iteration
	return b.DB.QueryContext(ctx, query, args...)
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLAdapter) IsConnected() bool {
	return b.DB != nil
}

// ScanStrings runs query and collects its single string column.
func (b *BaseSQLAdapter) ScanStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	if b.DB == nil {
		return nil, ErrNotConnected
	}
	rows, err := b.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountRows returns the row count of a table, or 0 when the count fails.
func (b *BaseSQLAdapter) CountRows(ctx context.Context, quotedTable string) int64 {
	if b.DB == nil {
		return 0
	}
	var n int64
	//nolint:gosec // table names come from the engine catalog
	if err := b.DB.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quotedTable)).Scan(&n); err != nil {
		return 0
	}
	return n
}
