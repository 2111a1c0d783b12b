package store

import (
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createStore(t *testing.T, path string, rows ...[]any) {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Exec(`CREATE TABLE production_records (
		id INTEGER PRIMARY KEY,
		production_date TEXT NOT NULL,
		item_code TEXT NOT NULL,
		item_name TEXT,
		good_quantity REAL,
		lot_number TEXT
	)`)
	require.NoError(t, err)
	for _, r := range rows {
		_, err = db.Exec(
			"INSERT INTO production_records (production_date, item_code, item_name, good_quantity, lot_number) VALUES (?, ?, ?, ?, ?)",
			r...)
		require.NoError(t, err)
	}
}

func newTestManager(t *testing.T, withArchive bool) (*Manager, string, string) {
	t.Helper()
	dir := t.TempDir()
	live := filepath.Join(dir, "live.db")
	archive := filepath.Join(dir, "archive.db")

	createStore(t, live, []any{"2026-02-01", "A-1", "Widget", 10.0, "L1"})
	if withArchive {
		createStore(t, archive, []any{"2025-06-01", "B-2", "Gadget", 5.0, "L2"})
	}

	m := NewManager(osfs.New("/"), live, archive, 5*time.Second, slog.New(slog.DiscardHandler))
	t.Cleanup(func() { _ = m.CloseAll() })
	return m, live, archive
}

func TestGetLiveOnly(t *testing.T) {
	m, _, _ := newTestManager(t, false)

	db, err := m.Get(false)
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM production_records").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestGetWithArchiveAttached(t *testing.T) {
	m, _, _ := newTestManager(t, true)
	assert.True(t, m.ArchivePresent())

	db, err := m.Get(true)
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM archive.production_records").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestGetArchiveMissingStillServesLive(t *testing.T) {
	m, _, _ := newTestManager(t, false)
	assert.False(t, m.ArchivePresent())

	// Requesting the archive handle with no archive file yields a live-only
	// handle rather than an error.
	db, err := m.Get(true)
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM production_records").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestGetReturnsCachedHandle(t *testing.T) {
	m, _, _ := newTestManager(t, false)

	db1, err := m.Get(false)
	require.NoError(t, err)
	db2, err := m.Get(false)
	require.NoError(t, err)
	assert.Same(t, db1, db2)
}

func TestGetReopensOnFingerprintChange(t *testing.T) {
	m, live, _ := newTestManager(t, false)

	db1, err := m.Get(false)
	require.NoError(t, err)

	// Simulate an external replacement of the live store.
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(live, old, old))
	m.versioner.mu.Lock()
	m.versioner.cachedAt = time.Time{}
	m.versioner.mu.Unlock()

	db2, err := m.Get(false)
	require.NoError(t, err)
	assert.NotSame(t, db1, db2)

	var n int
	require.NoError(t, db2.QueryRow("SELECT COUNT(*) FROM production_records").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestWriteRejectedOnReadOnlyHandle(t *testing.T) {
	m, _, _ := newTestManager(t, false)

	db, err := m.Get(false)
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO production_records (production_date, item_code) VALUES ('2026-03-01', 'X')")
	assert.Error(t, err)
}

func TestGetWritableArchive(t *testing.T) {
	m, _, archive := newTestManager(t, true)

	db, err := m.GetWritableArchive()
	require.NoError(t, err)

	// It really is the archive file, and it accepts writes.
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS idx_item_code ON production_records(item_code)")
	require.NoError(t, err)

	check, err := sql.Open("sqlite", "file:"+archive+"?mode=ro")
	require.NoError(t, err)
	defer func() { _ = check.Close() }()
	var n int
	require.NoError(t, check.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='idx_item_code'").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestGetWritableArchiveAbsent(t *testing.T) {
	m, _, _ := newTestManager(t, false)

	_, err := m.GetWritableArchive()
	assert.Error(t, err)
}

func TestPragmaProfileAppliedPerConnection(t *testing.T) {
	m, _, _ := newTestManager(t, false)

	db, err := m.Get(false)
	require.NoError(t, err)

	// The profile travels in the DSN, so any pooled connection the pool
	// hands out must report the configured busy timeout.
	var timeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)

	var tempStore int
	require.NoError(t, db.QueryRow("PRAGMA temp_store").Scan(&tempStore))
	assert.Equal(t, 2, tempStore, "temp_store MEMORY")
}

func TestCloseAllIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t, true)

	_, err := m.Get(true)
	require.NoError(t, err)

	require.NoError(t, m.CloseAll())
	require.NoError(t, m.CloseAll())

	// A fresh Get after CloseAll reopens cleanly.
	db, err := m.Get(true)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
}
