// Package query implements the execute contract shared by the build-time
// bake and the reader runtime: run one statement against a dataset and
// capture its columns, rows, cap overflow and error as a core.QueryResult.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/ehimanual/pkg/core"
)

// DefaultRowCap is the row cap applied to a reader's first run.
const DefaultRowCap = 100

// Queryer is satisfied by *sql.DB, *sql.Conn and every dataset adapter.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Options controls a single execution.
type Options struct {
	// Limit caps returned rows; 0 or less fetches everything.
	Limit int
	// Timed records elapsed wall-clock time in the result.
	Timed bool
}

// Execute runs text against q. It never returns a Go error: compile and
// execution failures are reported in QueryResult.Error.
//
// When Limit is reached the cursor is advanced once more to learn whether
// another row exists; that row is consumed but never scanned. When a
// statement produces no rows, one shape query recovers its column names.
func Execute(ctx context.Context, q Queryer, text string, opts Options) (res core.QueryResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = core.ErrorResult(fmt.Sprint(r))
		}
		if opts.Timed {
			res.ElapsedMS = float64(time.Since(start).Microseconds()) / 1000
		}
	}()

	return run(ctx, q, text, opts.Limit)
}

func run(ctx context.Context, q Queryer, text string, limit int) core.QueryResult {
	rows, err := q.QueryContext(ctx, text)
	if err != nil {
		return core.ErrorResult(err.Error())
	}
	defer func() { _ = rows.Close() }()

	var (
		columns []string
		values  []any
		ptrs    []any
		hasMore bool
	)
	out := []map[string]any{}

	for rows.Next() {
		if limit > 0 && len(out) == limit {
			hasMore = true
			break
		}
		if columns == nil {
			if columns, err = rows.Columns(); err != nil {
				return core.ErrorResult(err.Error())
			}
			values = make([]any, len(columns))
			ptrs = make([]any, len(columns))
			for i := range values {
				ptrs[i] = &values[i]
			}
		}
		if err := rows.Scan(ptrs...); err != nil {
			return core.ErrorResult(err.Error())
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = Normalize(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return core.ErrorResult(err.Error())
	}

	if columns == nil {
		columns = discoverColumns(ctx, q, text)
	}

	return core.QueryResult{Columns: columns, Rows: out, HasMore: hasMore}
}

// discoverColumns recovers the column names of a statement that returned no
// rows by running it as a zero-row subquery. Failures yield no columns.
func discoverColumns(ctx context.Context, q Queryer, text string) []string {
	rows, err := q.QueryContext(ctx, ShapeQuery(text))
	if err != nil {
		return []string{}
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil || cols == nil {
		return []string{}
	}
	return cols
}

// ShapeQuery wraps text in a query that returns its columns and no rows.
func ShapeQuery(text string) string {
	body := strings.TrimRight(strings.TrimSpace(text), "; \t\r\n")
	return "SELECT * FROM (\n" + body + "\n) LIMIT 0"
}

// Normalize maps a driver value onto the scalar set carried by a result:
// string, int64, float64, bool or nil.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil, string, int64, float64, bool:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return formatTime(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return fromUint(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return fromUint(x)
	case float32:
		return float64(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// fromUint keeps unsigned values exact: those past the int64 range become
// decimal strings.
func fromUint(u uint64) any {
	if u > math.MaxInt64 {
		return strconv.FormatUint(u, 10)
	}
	return int64(u)
}

// formatTime renders engine-typed date and timestamp values in SQLite's
// text form, in the value's own zone. SQLite snapshots never reach this:
// their adapter returns the stored text.
func formatTime(t time.Time) string {
	switch {
	case t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0:
		return t.Format(time.DateOnly)
	case t.Nanosecond() == 0:
		return t.Format(time.DateTime)
	default:
		return t.Format("2006-01-02 15:04:05.000")
	}
}
