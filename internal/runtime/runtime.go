package runtime

import (
	"context"
	"time"

	"github.com/leapstack-labs/ehimanual/internal/query"
	"github.com/leapstack-labs/ehimanual/pkg/core"
)

// Runtime executes reader queries against a shared Handle.
type Runtime struct {
	handle *Handle
	rowCap int
}

// New creates a runtime over h. rowCap is the cap for a reader's first run;
// 0 or less uses query.DefaultRowCap.
func New(h *Handle, rowCap int) *Runtime {
	if rowCap <= 0 {
		rowCap = query.DefaultRowCap
	}
	return &Runtime{handle: h, rowCap: rowCap}
}

// RowCap returns the cap applied to a capped run.
func (r *Runtime) RowCap() int {
	return r.rowCap
}

// Handle returns the underlying dataset handle.
func (r *Runtime) Handle() *Handle {
	return r.handle
}

// Execute runs text with at most limit rows; limit 0 or less is uncapped.
// A dataset load failure is reported as a result error like any other.
func (r *Runtime) Execute(ctx context.Context, text string, limit int) core.QueryResult {
	start := time.Now()

	ds, err := r.handle.Await(ctx)
	if err != nil {
		res := core.ErrorResult(err.Error())
		res.ElapsedMS = float64(time.Since(start).Microseconds()) / 1000
		return res
	}

	return query.Execute(ctx, ds, text, query.Options{Limit: limit, Timed: true})
}
