package ui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leapstack-labs/ehimanual/internal/query"
	"github.com/leapstack-labs/ehimanual/internal/runtime"
	"github.com/leapstack-labs/ehimanual/internal/site"
	"github.com/leapstack-labs/ehimanual/internal/testutil"
	"github.com/leapstack-labs/ehimanual/internal/widget"
	"github.com/leapstack-labs/ehimanual/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const patientsQuery = "SELECT PAT_ID FROM PATIENT ORDER BY PAT_ID"

func createSnapshot(t *testing.T) string {
	t.Helper()
	return testutil.CreateSnapshot(t, `
		CREATE TABLE PATIENT (PAT_ID TEXT, PAT_NAME TEXT);
		INSERT INTO PATIENT VALUES ('P1', 'Alice'), ('P2', 'Bob'), ('P3', '<Carol>');`)
}

func writePayloads(t *testing.T, siteDir string, payloads ...core.WidgetPayload) {
	t.Helper()
	data, err := json.Marshal(payloads)
	require.NoError(t, err)
	path := filepath.Join(siteDir, filepath.FromSlash(QueriesFile))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, data, 0600))
}

func bakedPayload() core.WidgetPayload {
	return core.WidgetPayload{
		ID:          "01-01-patients-0",
		Query:       patientsQuery,
		Description: "All patients",
		Result: core.QueryResult{
			Columns: []string{"PAT_ID"},
			Rows:    []map[string]any{{"PAT_ID": "P1"}, {"PAT_ID": "P2"}},
			HasMore: true,
		},
	}
}

func newTestServer(t *testing.T, rebuild func(context.Context) (string, error)) (*Server, string) {
	t.Helper()
	siteDir := t.TempDir()
	writePayloads(t, siteDir, bakedPayload())
	require.NoError(t, os.WriteFile(filepath.Join(siteDir, "index.html"), []byte("<h1>Manual</h1>"), 0600))

	snapshot := createSnapshot(t)
	h := runtime.NewHandle(runtime.SnapshotLoader(runtime.Source{URL: snapshot}, nil), nil)
	t.Cleanup(func() { _ = h.Close() })

	s, err := NewServer(Config{
		Runtime: runtime.New(h, 2),
		SiteDir: siteDir,
		Dataset: DatasetInfo{Engine: "sqlite", URL: snapshot},
		Rebuild: rebuild,
	})
	require.NoError(t, err)
	return s, siteDir
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

func post(t *testing.T, c *http.Client, url, body string) (int, string) {
	t.Helper()
	resp, err := c.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func get(t *testing.T, c *http.Client, url string) (int, string) {
	t.Helper()
	resp, err := c.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestNewServer_MissingPayloads(t *testing.T) {
	h := runtime.NewHandle(func(context.Context) (query.Queryer, error) { return nil, nil }, nil)
	_, err := NewServer(Config{Runtime: runtime.New(h, 0), SiteDir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read widget payloads")

	_, err = NewServer(Config{SiteDir: t.TempDir()})
	require.Error(t, err)
}

func TestQueryAPI(t *testing.T) {
	s, _ := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantRows   int
		wantMore   bool
		wantError  string
	}{
		{"runtime cap by default", `{"sql":"` + patientsQuery + `"}`, http.StatusOK, 2, true, ""},
		{"explicit limit", `{"sql":"` + patientsQuery + `","limit":1}`, http.StatusOK, 1, true, ""},
		{"zero limit is uncapped", `{"sql":"` + patientsQuery + `","limit":0}`, http.StatusOK, 3, false, ""},
		{"query error is a result", `{"sql":"SELECT * FROM NOPE"}`, http.StatusOK, 0, false, "no such table"},
		{"empty query", `{"sql":"   "}`, http.StatusBadRequest, 0, false, "query is empty"},
		{"malformed body", `{"sql":`, http.StatusBadRequest, 0, false, "invalid request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := post(t, srv.Client(), srv.URL+"/api/query", tt.body)
			assert.Equal(t, tt.wantStatus, status)

			res, err := core.DecodeResult([]byte(body))
			require.NoError(t, err)
			if tt.wantError != "" {
				require.True(t, res.Failed())
				assert.Contains(t, res.ErrorMessage(), tt.wantError)
				return
			}
			require.False(t, res.Failed(), res.ErrorMessage())
			assert.Equal(t, []string{"PAT_ID"}, res.Columns)
			assert.Len(t, res.Rows, tt.wantRows)
			assert.Equal(t, tt.wantMore, res.HasMore)
		})
	}
}

func TestDatasetsAPI(t *testing.T) {
	s, _ := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	status, body := get(t, srv.Client(), srv.URL+"/api/datasets")
	require.Equal(t, http.StatusOK, status, body)

	var resp DatasetsResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, "ready", resp.State)
	assert.Equal(t, 2, resp.RowCap)
	assert.Equal(t, "sqlite", resp.Dataset.Engine)
	require.Len(t, resp.Tables, 1)
	assert.Equal(t, "PATIENT", resp.Tables[0].Name)
	assert.Equal(t, []string{"PAT_ID", "PAT_NAME"}, resp.Tables[0].Columns)
	assert.Equal(t, int64(3), resp.Tables[0].RowCount)
}

func TestWidget_RunPatchesResult(t *testing.T) {
	s, _ := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	client := newClient(t)

	status, body := post(t, client, srv.URL+"/widgets/01-01-patients-0/run",
		`{"sql":"SELECT PAT_NAME FROM PATIENT WHERE PAT_ID = 'P3'"}`)
	require.Equal(t, http.StatusOK, status)

	assert.Contains(t, body, "datastar-patch-elements")
	assert.Contains(t, body, `id="widget-01-01-patients-0-result"`)
	assert.Contains(t, body, `data-status="running"`)
	assert.Contains(t, body, `data-status="idle"`)
	assert.Contains(t, body, "&lt;Carol&gt;", "cell values are escaped")
	assert.Less(t, strings.Index(body, `data-status="running"`), strings.Index(body, `data-status="idle"`))

	status, body = get(t, client, srv.URL+"/widgets/01-01-patients-0")
	require.Equal(t, http.StatusOK, status)
	var st widget.State
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, "SELECT PAT_NAME FROM PATIENT WHERE PAT_ID = 'P3'", st.Query)
	assert.Equal(t, patientsQuery, st.Original)
	assert.Equal(t, widget.StatusIdle, st.Status)
	assert.Equal(t, []map[string]any{{"PAT_NAME": "<Carol>"}}, st.Result.Rows)
}

func TestWidget_ShowAll(t *testing.T) {
	s, _ := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	client := newClient(t)

	_, body := post(t, client, srv.URL+"/widgets/01-01-patients-0/run", `{}`)
	assert.Contains(t, body, "Show all", "capped result offers show all")

	_, body = post(t, client, srv.URL+"/widgets/01-01-patients-0/showall", `{}`)
	assert.Contains(t, body, "P3")
	assert.Contains(t, body, "3 rows")
	assert.NotContains(t, body, "Show all")
}

func TestWidget_ErrorThenReset(t *testing.T) {
	s, _ := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	client := newClient(t)

	_, body := post(t, client, srv.URL+"/widgets/01-01-patients-0/run", `{"sql":"SELECT * FROM NOPE"}`)
	assert.Contains(t, body, `data-status="errored"`)
	assert.Contains(t, body, `class="sql-error"`)
	assert.Contains(t, body, `data-can-reset="true"`)

	status, body := post(t, client, srv.URL+"/widgets/01-01-patients-0/reset", `{}`)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "datastar-patch-signals")
	assert.Contains(t, body, patientsQuery)
	assert.Contains(t, body, `data-status="idle"`)
	assert.Contains(t, body, `data-can-reset="false"`)
	assert.Contains(t, body, "P2")
}

func TestWidget_SessionsAreIsolated(t *testing.T) {
	s, _ := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	alice, bob := newClient(t), newClient(t)
	post(t, alice, srv.URL+"/widgets/01-01-patients-0/run", `{"sql":"SELECT 1 AS n"}`)

	_, body := get(t, bob, srv.URL+"/widgets/01-01-patients-0")
	var st widget.State
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, patientsQuery, st.Query)
	assert.Equal(t, 1, s.registry.Sessions(), "reading a widget keeps no state")
}

func TestWidget_CookielessReadersDoNotAccumulate(t *testing.T) {
	s, _ := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	for range 200 {
		status, _ := get(t, srv.Client(), srv.URL+"/widgets/01-01-patients-0")
		require.Equal(t, http.StatusOK, status)
	}
	assert.Equal(t, 0, s.registry.Sessions())
}

func TestWidget_SessionLimit(t *testing.T) {
	s, siteDir := newTestServer(t, nil)
	limited, err := NewServer(Config{
		Runtime:     s.runtime,
		SiteDir:     siteDir,
		MaxSessions: 3,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(limited.Handler())
	defer srv.Close()

	for range 20 {
		status, _ := post(t, srv.Client(), srv.URL+"/widgets/01-01-patients-0/run", `{}`)
		require.Equal(t, http.StatusOK, status)
	}
	assert.Equal(t, 3, limited.registry.Sessions())
}

func TestWidget_ForgetDropsEdits(t *testing.T) {
	s, _ := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	client := newClient(t)

	post(t, client, srv.URL+"/widgets/01-01-patients-0/run", `{"sql":"SELECT 1 AS n"}`)
	require.Equal(t, 1, s.registry.Sessions())

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/widgets", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, s.registry.Sessions())

	_, body := get(t, client, srv.URL+"/widgets/01-01-patients-0")
	var st widget.State
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, patientsQuery, st.Query)
}

func TestWidget_Unknown(t *testing.T) {
	s, _ := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	status, _ := post(t, newClient(t), srv.URL+"/widgets/missing-0/run", `{}`)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_ServesSite(t *testing.T) {
	s, _ := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	status, body := get(t, srv.Client(), srv.URL+"/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "<h1>Manual</h1>")

	status, body = get(t, srv.Client(), srv.URL+"/"+QueriesFile)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, patientsQuery)
}

func TestServer_ReloadSwapsPayloadsAndNotifies(t *testing.T) {
	var siteDir string
	rebuild := func(context.Context) (string, error) {
		p := bakedPayload()
		extra := core.WidgetPayload{ID: "01-02-counts-0", Query: "SELECT COUNT(*) AS n FROM PATIENT"}
		writePayloads(t, siteDir, p, extra)
		return "build-2", nil
	}
	s, dir := newTestServer(t, rebuild)
	siteDir = dir
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/reload", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return s.Notifier().Listeners() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, s.Widgets())

	require.NoError(t, s.Reload(context.Background()))
	assert.Equal(t, 2, s.Widgets())
	assert.Equal(t, "build-2", s.Notifier().Last().BuildID)

	lines := bufio.NewScanner(resp.Body)
	var found bool
	for lines.Scan() {
		if strings.Contains(lines.Text(), "window.location.reload()") {
			found = true
			break
		}
	}
	assert.True(t, found, "reload script streamed")

	status, _ := post(t, newClient(t), srv.URL+"/widgets/01-02-counts-0/run", `{}`)
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_ReloadRunsOneRebuildAtATime(t *testing.T) {
	var (
		siteDir  string
		active   atomic.Int32
		overlaps atomic.Int32
		builds   atomic.Int32
	)
	rebuild := func(context.Context) (string, error) {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		defer active.Add(-1)
		time.Sleep(5 * time.Millisecond)
		writePayloads(t, siteDir, bakedPayload())
		return fmt.Sprintf("build-%d", builds.Add(1)), nil
	}
	s, dir := newTestServer(t, rebuild)
	siteDir = dir

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Reload(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(8), builds.Load())
	assert.Zero(t, overlaps.Load(), "rebuilds never overlap")
}

func TestServer_ReloadWithoutRebuild(t *testing.T) {
	s, _ := newTestServer(t, nil)
	assert.Error(t, s.Reload(context.Background()))
}

func TestServer_LiveWidgetPages(t *testing.T) {
	root := t.TempDir()
	chapters := filepath.Join(root, "chapters")
	require.NoError(t, os.MkdirAll(chapters, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(chapters, "01-01-patients.md"), []byte(`# Chapter 1.1: Patients

Every patient:

<example-query description="All patients">
`+patientsQuery+`
</example-query>
`), 0600))

	b := site.NewBuilder(site.Options{
		ChaptersDir:   chapters,
		OutputDir:     filepath.Join(root, "dist"),
		DatasetPath:   testutil.WriteSnapshot(t, filepath.Join(root, "ehi.sqlite"), testutil.PatientsScript),
		QueryEndpoint: "/api/query",
		Placeholder:   LivePlaceholder,
		DatastarURL:   "https://example.test/datastar.js",
	}, nil, testutil.NewTestLogger(t))
	_, err := b.Build(context.Background())
	require.NoError(t, err)

	h := runtime.NewHandle(runtime.SnapshotLoader(runtime.Source{URL: b.Options().DatasetPath}, nil), nil)
	t.Cleanup(func() { _ = h.Close() })
	s, err := NewServer(Config{Runtime: runtime.New(h, 0), SiteDir: b.Options().OutputDir})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	client := newClient(t)

	status, page := get(t, client, srv.URL+"/chapters/01-01-patients/")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, page, `<script type="module" src="https://example.test/datastar.js"></script>`)
	assert.Contains(t, page, `data-bind="sql_01_01_patients_0"`)
	assert.Contains(t, page, `data-on:click="@post(&#39;/widgets/01-01-patients-0/run&#39;)"`)
	assert.Contains(t, page, `data-on:click="@post(&#39;/widgets/01-01-patients-0/reset&#39;)"`)
	assert.Contains(t, page, `id="widget-01-01-patients-0-result"`)

	// a page posts the signals of all its widgets
	status, body := post(t, client, srv.URL+"/widgets/01-01-patients-0/run",
		`{"sql_01_01_patients_0":"SELECT PAT_NAME FROM PATIENT WHERE PAT_ID = 'P2'","sql_01_01_patients_1":"SELECT 1"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "<td>Bob</td>")

	_, body = post(t, client, srv.URL+"/widgets/01-01-patients-0/reset", `{}`)
	assert.Contains(t, body, `"sql_01_01_patients_0":"`+patientsQuery+`"`)
}
