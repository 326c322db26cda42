package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/ehimanual/internal/cli/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const patientsChapter = `# Chapter 1.1: Patients

Every patient in the export:

<example-query description="All patients">
SELECT PAT_ID, PAT_NAME FROM PATIENT ORDER BY PAT_ID
</example-query>

A table that does not exist:

<example-query>
SELECT * FROM NOPE
</example-query>
`

const encountersChapter = `# Chapter 1.2: Encounters

<example-query description="Encounter count">
SELECT COUNT(*) AS N FROM PAT_ENC
</example-query>
`

// setupProject lays out a manual project and loads its configuration.
func setupProject(t *testing.T, chapters map[string]string, output string) string {
	t.Helper()
	root := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "chapters"), 0750))
	for name, content := range chapters {
		require.NoError(t, os.WriteFile(filepath.Join(root, "chapters", name), []byte(content), 0600))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "data"), 0750))
	setupTestDB(t, filepath.Join(root, "data", "ehi.sqlite"))

	manual := "title: Test Manual\noutput: " + output + "\nbuild:\n  workers: 2\n"
	cfgFile := filepath.Join(root, "manual.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(manual), 0600))

	config.ResetConfig()
	t.Cleanup(config.ResetConfig)
	_, err := config.LoadConfig(cfgFile, nil)
	require.NoError(t, err)
	return root
}

func defaultChapters() map[string]string {
	return map[string]string{
		"01-01-patients.md":   patientsChapter,
		"01-02-encounters.md": encountersChapter,
	}
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	cmd.SetContext(context.Background())
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandMetadata(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		name  string
		flags []string
	}{
		{NewBuildCommand(), "build", []string{"no-cache", "workers", "row-cap", "drafts", "no-minify"}},
		{NewCheckCommand(), "check", []string{"drafts"}},
		{NewExtractCommand(), "extract", []string{"drafts", "no-infer", "sql"}},
		{NewServeCommand(), "serve", []string{"port", "watch"}},
		{NewDevCommand(), "dev", []string{"port", "drafts"}},
		{NewHistoryCommand(), "history", []string{"limit"}},
		{NewQueryCommand(), "query", []string{"input", "limit"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.cmd.Name())
			assert.NotEmpty(t, tt.cmd.Short)
			assert.NotNil(t, tt.cmd.RunE)
			for _, f := range tt.flags {
				assert.NotNil(t, tt.cmd.Flags().Lookup(f), f)
			}
		})
	}
}

func TestBuildCommand(t *testing.T) {
	root := setupProject(t, defaultChapters(), "json")

	out, err := execute(t, NewBuildCommand())
	require.NoError(t, err)

	var rep reportJSON
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 2, rep.Documents)
	assert.Equal(t, 3, rep.Blocks)
	assert.NotEmpty(t, rep.BuildID)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "SELECT * FROM NOPE", rep.Failures[0].Query)

	assert.FileExists(t, filepath.Join(root, "dist", "data", "queries.json"))
	assert.FileExists(t, filepath.Join(root, "dist", "assets", "data", "ehi.sqlite"))
	assert.FileExists(t, filepath.Join(root, ".ehimanual", "state.db"))

	out, err = execute(t, NewBuildCommand())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 3, rep.CacheHits)

	out, err = execute(t, NewBuildCommand(), "--no-cache")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 0, rep.CacheHits)
}

func TestBuildCommand_TextSummary(t *testing.T) {
	setupProject(t, defaultChapters(), "text")

	out, err := execute(t, NewBuildCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Built 2 chapters, 3 queries")
	assert.Contains(t, out, "1 failing queries")
	assert.Contains(t, out, "01-01-patients-1")
	assert.Contains(t, out, "no such table")
}

func TestCheckCommand(t *testing.T) {
	root := setupProject(t, defaultChapters(), "json")

	out, err := execute(t, NewCheckCommand())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 queries failed")

	var rep reportJSON
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, 11, rep.Failures[0].Line)
	assert.NoDirExists(t, filepath.Join(root, "dist"))
}

func TestCheckCommand_Passing(t *testing.T) {
	setupProject(t, map[string]string{"01-02-encounters.md": encountersChapter}, "text")

	out, err := execute(t, NewCheckCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "Checked 1 chapters, 1 queries")
}

func TestExtractCommand(t *testing.T) {
	setupProject(t, defaultChapters(), "json")

	out, err := execute(t, NewExtractCommand())
	require.NoError(t, err)

	var blocks []extractedBlock
	require.NoError(t, json.Unmarshal([]byte(out), &blocks))
	require.Len(t, blocks, 3)
	assert.Equal(t, "01-01-patients-0", blocks[0].ID)
	assert.Equal(t, "All patients", blocks[0].Description)
	assert.Equal(t, 5, blocks[0].Line)
	assert.Equal(t, "A table that does not exist:", blocks[1].Description)
	assert.Equal(t, "01-02-encounters-0", blocks[2].ID)

	out, err = execute(t, NewExtractCommand(), "01-02-encounters")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &blocks))
	require.Len(t, blocks, 1)

	_, err = execute(t, NewExtractCommand(), "99-99-missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestExtractCommand_Markdown(t *testing.T) {
	setupProject(t, defaultChapters(), "markdown")

	out, err := execute(t, NewExtractCommand(), "--sql")
	require.NoError(t, err)
	assert.Contains(t, out, "| 01-02-encounters-0 |")
	assert.Contains(t, out, "SELECT COUNT(*) AS N FROM PAT_ENC")
	assert.Contains(t, out, "3 queries")
}

func TestHistoryCommand(t *testing.T) {
	setupProject(t, defaultChapters(), "text")

	out, err := execute(t, NewHistoryCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "No builds recorded yet")

	_, err = execute(t, NewBuildCommand())
	require.NoError(t, err)

	out, err = execute(t, NewHistoryCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "succeeded")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"a longer sentence", 8, "a longe…"},
		{"ünïcödé text", 5, "ünïc…"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncate(tt.in, tt.n))
	}
}
