package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leapstack-labs/ehimanual/internal/cli/config"
	"github.com/leapstack-labs/ehimanual/internal/runtime"
	"github.com/leapstack-labs/ehimanual/internal/testutil"
	"github.com/leapstack-labs/ehimanual/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates a snapshot with a couple of EHI-shaped tables.
func setupTestDB(t *testing.T, path string) {
	t.Helper()
	testutil.WriteSnapshot(t, path, `
		CREATE TABLE PATIENT (
			PAT_ID TEXT PRIMARY KEY,
			PAT_NAME TEXT NOT NULL,
			BIRTH_DATE TEXT
		);
		CREATE TABLE PAT_ENC (
			PAT_ENC_CSN_ID INTEGER PRIMARY KEY,
			PAT_ID TEXT
		);
		INSERT INTO PATIENT VALUES
			('P1', 'Alice', '1980-01-02'),
			('P2', 'Bob, Jr.', NULL),
			('P3', 'Carol', '1975-07-30');
		INSERT INTO PAT_ENC VALUES (100, 'P1'), (101, 'P1');
	`)
}

// newTestSession opens a query session over a fresh snapshot.
func newTestSession(t *testing.T, rowCap int) *session {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ehi.sqlite")
	setupTestDB(t, path)

	cfg := config.Default()
	cfg.Dataset.Path = path
	cfg.Runtime.RowCap = rowCap
	cfg.Runtime.CacheDir = t.TempDir()

	sess := openSession(&CommandContext{Cfg: cfg}, &QueryOptions{})
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestRenderResult_Formats(t *testing.T) {
	sess := newTestSession(t, 100)
	res := sess.rt.Execute(context.Background(), "SELECT PAT_ID, PAT_NAME, BIRTH_DATE FROM PATIENT ORDER BY PAT_ID", 0)
	require.False(t, res.Failed(), res.ErrorMessage())

	tests := []struct {
		format   string
		contains []string
	}{
		{"table", []string{"Alice", "Bob, Jr.", "NULL", "(3 rows"}},
		{"md", []string{"| P1 | Alice | 1980-01-02 |", "(3 rows"}},
		{"csv", []string{"PAT_ID,PAT_NAME,BIRTH_DATE\n", "P2,\"Bob, Jr.\",NULL\n"}},
		{"json", []string{`"columns": [`, `"PAT_NAME": "Carol"`, `"error": null`}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			buf := new(bytes.Buffer)
			require.NoError(t, renderResult(buf, res, tt.format))
			for _, want := range tt.contains {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestRenderResult_CSVLines(t *testing.T) {
	sess := newTestSession(t, 100)
	res := sess.rt.Execute(context.Background(), "SELECT PAT_ID FROM PATIENT ORDER BY PAT_ID", 0)

	buf := new(bytes.Buffer)
	require.NoError(t, renderResult(buf, res, "csv"))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{"PAT_ID", "P1", "P2", "P3"}, lines)
}

func TestRenderResult_Capped(t *testing.T) {
	sess := newTestSession(t, 2)
	res := sess.rt.Execute(context.Background(), "SELECT PAT_ID FROM PATIENT ORDER BY PAT_ID", sess.rt.RowCap())
	require.True(t, res.HasMore)

	buf := new(bytes.Buffer)
	require.NoError(t, renderResult(buf, res, "table"))
	assert.Contains(t, buf.String(), "(2 rows, more available")
	assert.NotContains(t, buf.String(), "P3")
}

func TestRenderResult_Error(t *testing.T) {
	res := core.ErrorResult("no such table: NOPE")

	buf := new(bytes.Buffer)
	require.NoError(t, renderResult(buf, res, "table"))
	assert.Equal(t, "Error: no such table: NOPE\n", buf.String())

	buf.Reset()
	require.NoError(t, renderResult(buf, res, "json"))
	var decoded core.QueryResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "no such table: NOPE", decoded.ErrorMessage())
}

func TestRenderResult_Empty(t *testing.T) {
	sess := newTestSession(t, 100)
	res := sess.rt.Execute(context.Background(), "SELECT * FROM PATIENT WHERE 1=0", 0)

	buf := new(bytes.Buffer)
	require.NoError(t, renderResult(buf, res, "table"))
	assert.Equal(t, "(0 rows)\n", buf.String())
}

func TestListTables(t *testing.T) {
	sess := newTestSession(t, 100)
	ctx := context.Background()
	cat, err := sess.catalog(ctx)
	require.NoError(t, err)

	buf := new(bytes.Buffer)
	require.NoError(t, listTables(ctx, buf, cat, "table"))
	assert.Contains(t, buf.String(), "PATIENT")
	assert.Contains(t, buf.String(), "PAT_ENC")

	buf.Reset()
	require.NoError(t, listTables(ctx, buf, cat, "json"))
	var names []string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &names))
	assert.Equal(t, []string{"PATIENT", "PAT_ENC"}, names)
}

func TestShowSchema(t *testing.T) {
	sess := newTestSession(t, 100)
	ctx := context.Background()
	cat, err := sess.catalog(ctx)
	require.NoError(t, err)

	buf := new(bytes.Buffer)
	require.NoError(t, showSchema(ctx, buf, cat, "PATIENT", "md"))
	out := buf.String()
	assert.Contains(t, out, "| PAT_ID | TEXT |  | yes |")
	assert.Contains(t, out, "| BIRTH_DATE | TEXT | yes |  |")
	assert.Contains(t, out, "PATIENT: 3 rows")

	buf.Reset()
	require.NoError(t, showSchema(ctx, buf, cat, "PATIENT", "json"))
	assert.Contains(t, buf.String(), `"RowCount": 3`)
}

func TestShowSchema_NotFound(t *testing.T) {
	sess := newTestSession(t, 100)
	ctx := context.Background()
	cat, err := sess.catalog(ctx)
	require.NoError(t, err)

	err = showSchema(ctx, new(bytes.Buffer), cat, "NOPE", "table")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSession_LoadFailure(t *testing.T) {
	cfg := config.Default()
	cfg.Dataset.Path = filepath.Join(t.TempDir(), "missing.sqlite")
	sess := openSession(&CommandContext{Cfg: cfg}, &QueryOptions{})
	defer func() { _ = sess.Close() }()

	res := sess.rt.Execute(context.Background(), "SELECT 1", 0)
	assert.True(t, res.Failed())
	assert.Equal(t, runtime.Failed, sess.rt.Handle().State())
}

func TestQueryOptions_Limit(t *testing.T) {
	rt := runtime.New(nil, 25)
	tests := []struct {
		limit int
		want  int
	}{
		{-1, 25},
		{0, 0},
		{7, 7},
	}
	for _, tt := range tests {
		opts := &QueryOptions{Limit: tt.limit}
		assert.Equal(t, tt.want, opts.limit(rt))
	}
}

func TestQueryCommand_Direct(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ehi.sqlite")
	setupTestDB(t, path)
	config.ResetConfig()
	t.Cleanup(config.ResetConfig)

	cmd := NewQueryCommand()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetContext(context.Background())
	cmd.SetArgs([]string{"--dataset-url", path, "--format", "csv", "SELECT COUNT(*) AS N FROM PAT_ENC"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "N\n2\n", buf.String())
}

func TestQueryCommand_FailedQueryExitsNonZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ehi.sqlite")
	setupTestDB(t, path)
	config.ResetConfig()
	t.Cleanup(config.ResetConfig)

	cmd := NewQueryCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetContext(context.Background())
	cmd.SetArgs([]string{"--dataset-url", path, "SELECT * FROM NOPE"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOPE")
}

func TestNewQueryCommand(t *testing.T) {
	cmd := NewQueryCommand()
	assert.Equal(t, "query", cmd.Name())
	assert.NotNil(t, cmd.RunE)

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"tables", "schema"}, names)
	assert.NotNil(t, cmd.Flags().Lookup("limit"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("dataset-url"))
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		input    any
		expected string
	}{
		{nil, "NULL"},
		{"hello", "hello"},
		{int64(42), "42"},
		{3.14, "3.14"},
		{true, "true"},
		{[]byte("raw"), "raw"},
		{json.Number("12"), "12"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, formatValue(tt.input))
	}
}
