// Package widget holds the per-widget state machine that binds an editable
// query, its run/reset/show-all actions and its current result.
package widget

import (
	"context"
	"sync"

	"github.com/leapstack-labs/ehimanual/pkg/core"
)

// Status is the presentation status of a widget.
type Status string

// Widget statuses.
const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusErrored Status = "errored"
)

// Executor runs reader queries. *runtime.Runtime implements it.
type Executor interface {
	Execute(ctx context.Context, text string, limit int) core.QueryResult
	RowCap() int
}

// State is a point-in-time copy of a controller.
type State struct {
	ID          string           `json:"id"`
	Description string           `json:"description,omitempty"`
	Query       string           `json:"query"`
	Original    string           `json:"original"`
	Result      core.QueryResult `json:"result"`
	Status      Status           `json:"status"`
	ShowAll     bool             `json:"showAll"`
}

// CanReset reports whether the reset control is enabled.
func (s State) CanReset() bool {
	return s.Status != StatusRunning && s.Query != s.Original
}

// Controller drives one widget. Transitions happen only on explicit calls;
// at most one execution is in flight per controller.
type Controller struct {
	exec Executor

	mu          sync.Mutex
	id          string
	description string
	original    string
	baked       core.QueryResult
	query       string
	result      core.QueryResult
	status      Status
	showAll     bool
	inflight    bool
	generation  uint64
}

// NewController creates a controller in idle(baked result).
func NewController(p core.WidgetPayload, exec Executor) *Controller {
	return &Controller{
		exec:        exec,
		id:          p.ID,
		description: p.Description,
		original:    p.Query,
		baked:       p.Result,
		query:       p.Query,
		result:      p.Result,
		status:      StatusIdle,
	}
}

// ID returns the widget id.
func (c *Controller) ID() string {
	return c.id
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		ID:          c.id,
		Description: c.description,
		Query:       c.query,
		Original:    c.original,
		Result:      c.result,
		Status:      c.status,
		ShowAll:     c.showAll,
	}
}

// Edit replaces the current query text.
func (c *Controller) Edit(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.query = text
}

// Run executes the current text with the row cap. It returns false without
// doing anything when an execution is already in flight.
func (c *Controller) Run(ctx context.Context) bool {
	return c.execute(ctx, false)
}

// ShowAll re-runs the current text without a row cap.
func (c *Controller) ShowAll(ctx context.Context) bool {
	return c.execute(ctx, true)
}

// Reset restores the original text and baked result and returns to idle.
// The result of an execution still in flight is discarded.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.query = c.original
	c.result = c.baked
	c.status = StatusIdle
	c.showAll = false
}

func (c *Controller) execute(ctx context.Context, all bool) bool {
	c.mu.Lock()
	if c.inflight {
		c.mu.Unlock()
		return false
	}
	c.inflight = true
	c.status = StatusRunning
	gen := c.generation
	text := c.query
	c.mu.Unlock()

	limit := c.exec.RowCap()
	if all {
		limit = 0
	}
	res := c.exec.Execute(ctx, text, limit)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight = false
	if gen != c.generation {
		return true
	}
	c.result = res
	c.showAll = all
	if res.Failed() {
		c.status = StatusErrored
	} else {
		c.status = StatusIdle
	}
	return true
}
