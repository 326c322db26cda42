package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	// sqlite driver for fixture snapshots.
	_ "modernc.org/sqlite"
)

// PatientsScript creates the smallest snapshot most tests need.
const PatientsScript = `
	CREATE TABLE PATIENT (PAT_ID TEXT, PAT_NAME TEXT);
	INSERT INTO PATIENT VALUES ('P1', 'Alice'), ('P2', 'Bob');`

// CreateSnapshot writes a sqlite snapshot built by script into a fresh
// temporary directory and returns its path.
func CreateSnapshot(t testing.TB, script string) string {
	t.Helper()
	return WriteSnapshot(t, filepath.Join(t.TempDir(), "ehi.sqlite"), script)
}

// WriteSnapshot writes a sqlite snapshot built by script to path.
func WriteSnapshot(t testing.TB, path, script string) string {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Exec(script)
	require.NoError(t, err)
	return path
}
