package ui

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/leapstack-labs/ehimanual/internal/widget"
	"github.com/leapstack-labs/ehimanual/pkg/core"
	"github.com/starfederation/datastar-go/datastar"
)

const (
	sessionName = "ehimanual"
	readerKey   = "reader"
)

type ctxKey struct{}

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	SQL string `json:"sql"`
	// Limit caps the returned rows. Omitted uses the runtime cap; 0 or less
	// returns every row.
	Limit *int `json:"limit,omitempty"`
}

// TableInfo is one table of the dataset listing.
type TableInfo struct {
	Name     string   `json:"name"`
	Columns  []string `json:"columns,omitempty"`
	RowCount int64    `json:"rowCount"`
}

// DatasetsResponse is the body of GET /api/datasets.
type DatasetsResponse struct {
	Dataset DatasetInfo `json:"dataset"`
	State   string      `json:"state"`
	RowCap  int         `json:"rowCap"`
	Tables  []TableInfo `json:"tables"`
}

// widgetSignals are the datastar signals a widget action posts. A page
// posts the signals of every widget on it; the query text is read from the
// widget's own key, or from "sql" for a single-widget client.
type widgetSignals map[string]any

func (s widgetSignals) query(widgetID string) (string, bool) {
	for _, key := range []string{signalKey(widgetID), "sql"} {
		if q, ok := s[key].(string); ok {
			return q, true
		}
	}
	return "", false
}

type cataloger interface {
	ListTables(ctx context.Context) ([]string, error)
	GetTableMetadata(ctx context.Context, table string) (*core.TableMetadata, error)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleQuery executes one reader query. Query failures are results, not
// HTTP errors.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, core.ErrorResult("invalid request: "+err.Error()))
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeJSON(w, http.StatusBadRequest, core.ErrorResult("query is empty"))
		return
	}

	limit := s.runtime.RowCap()
	if req.Limit != nil {
		limit = *req.Limit
	}

	res := s.runtime.Execute(r.Context(), req.SQL, limit)
	if res.Failed() {
		s.logger.Debug("reader query failed", "error", res.ErrorMessage())
	}
	writeJSON(w, http.StatusOK, res)
}

// handleDatasets describes the served snapshot and its tables.
func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	resp := DatasetsResponse{
		Dataset: s.cfg.Dataset,
		RowCap:  s.runtime.RowCap(),
		Tables:  []TableInfo{},
	}

	ds, err := s.runtime.Handle().Await(r.Context())
	resp.State = s.runtime.Handle().State().String()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"dataset": resp.Dataset,
			"state":   resp.State,
			"error":   err.Error(),
		})
		return
	}

	cat, ok := ds.(cataloger)
	if !ok {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	names, err := cat.ListTables(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sort.Strings(names)
	for _, name := range names {
		info := TableInfo{Name: name}
		if meta, err := cat.GetTableMetadata(r.Context(), name); err == nil && meta != nil {
			info.RowCount = meta.RowCount
			for _, c := range meta.Columns {
				info.Columns = append(info.Columns, c.Name)
			}
		}
		resp.Tables = append(resp.Tables, info)
	}
	writeJSON(w, http.StatusOK, resp)
}

// readerSession ties widget controllers to a reader through a cookie
// session. The cookie is written before any handler starts streaming.
func (s *Server) readerSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A cookie that no longer decodes still yields a fresh session.
		session, _ := s.sessionStore.Get(r, sessionName)
		id, _ := session.Values[readerKey].(string)
		if id == "" {
			id = uuid.NewString()
			session.Values[readerKey] = id
			if err := session.Save(r, w); err != nil {
				s.logger.Warn("failed to save reader session", "error", err)
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func readerID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) controller(w http.ResponseWriter, r *http.Request) (*widget.Controller, bool) {
	c, err := s.registry.Controller(readerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return c, true
}

// handleWidgetState returns the reader's view of a widget. Reading does not
// allocate widget state for the reader.
func (s *Server) handleWidgetState(w http.ResponseWriter, r *http.Request) {
	st, err := s.registry.State(readerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleWidgetRun(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, (*widget.Controller).Run)
}

func (s *Server) handleWidgetShowAll(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, (*widget.Controller).ShowAll)
}

// execute applies the posted query text, patches the running state, runs
// action and patches the outcome.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, action func(*widget.Controller, context.Context) bool) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}

	// Read signals BEFORE creating SSE (SSE consumes the request body)
	var signals widgetSignals
	if err := datastar.ReadSignals(r, &signals); err != nil {
		http.Error(w, "failed to read signals: "+err.Error(), http.StatusBadRequest)
		return
	}
	if q, ok := signals.query(c.ID()); ok {
		c.Edit(q)
	}

	sse := datastar.NewSSE(w, r)

	running := c.State()
	running.Status = widget.StatusRunning
	if err := sse.PatchElementTempl(WidgetResult(running)); err != nil {
		return
	}

	if !action(c, r.Context()) {
		// Another request for this widget is in flight; its patch wins.
		return
	}
	if err := sse.PatchElementTempl(WidgetResult(c.State())); err != nil {
		_ = sse.ConsoleError(err)
	}
}

// handleWidgetReset restores the original text and baked result.
func (s *Server) handleWidgetReset(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	c.Reset()
	st := c.State()

	sse := datastar.NewSSE(w, r)
	if err := sse.MarshalAndPatchSignals(map[string]any{signalKey(st.ID): st.Original}); err != nil {
		return
	}
	if err := sse.PatchElementTempl(WidgetResult(st)); err != nil {
		_ = sse.ConsoleError(err)
	}
}

// handleForget discards every widget controller of the reader.
func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	s.registry.Forget(readerID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// handleReload holds an event stream open and asks the page to reload after
// every rebuild.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	events := s.notifier.Subscribe(ctx)
	sse := datastar.NewSSE(w, r)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			if err := sse.ExecuteScript("window.location.reload()"); err != nil {
				return
			}
		}
	}
}
