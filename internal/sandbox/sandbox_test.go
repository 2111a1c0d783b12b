package sandbox

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newSandbox(timeout time.Duration) *Sandbox {
	return New("production_records", timeout, nil)
}

func rejectReason(t *testing.T, err error) string {
	t.Helper()
	var re *RejectError
	require.ErrorAs(t, err, &re)
	return re.Reason
}

func TestValidateAccepts(t *testing.T) {
	s := newSandbox(3 * time.Second)

	q, err := s.Validate("SELECT item_code, SUM(good_quantity) FROM production_records GROUP BY item_code")
	require.NoError(t, err)
	assert.Contains(t, q, "LIMIT 1000")

	// Explicit LIMIT is preserved, not doubled.
	q, err = s.Validate("SELECT * FROM production_records LIMIT 5")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM production_records LIMIT 5", q)
}

func TestValidateRejections(t *testing.T) {
	s := newSandbox(3 * time.Second)

	cases := []struct {
		query  string
		reason string
	}{
		{"", ReasonEmpty},
		{"/* all comment */", ReasonEmpty},
		{"   ;  ", ReasonSemicolon},
		{"SELECT * FROM production_records;", ReasonSemicolon},
		{"SELECT * FROM production_records; SELECT 1", ReasonSemicolon},
		{"DELETE FROM production_records", ReasonNotSelect},
		{"PRAGMA journal_mode=DELETE", ReasonNotSelect},
		{"SELECT * FROM production_records WHERE id IN (SELECT id FROM x); DROP TABLE y", ReasonSemicolon},
		{"SELECT * FROM production_records UNION SELECT * FROM sqlite_master", ReasonForbidden},
		{"SELECT load_extension('evil') FROM production_records", ReasonForbidden},
		{"SELECT * FROM production_records WHERE item_name = 'drop'", ReasonForbidden},
		{"SELECT item_code AS created_at FROM production_records", ReasonForbidden},
		{"SELECT updated FROM production_records", ReasonForbidden},
		{"SELECT 1", ReasonMissingTable},
		{"SELECT * FROM other_table", ReasonMissingTable},
	}
	for _, tc := range cases {
		_, err := s.Validate(tc.query)
		require.Error(t, err, tc.query)
		assert.Equal(t, tc.reason, rejectReason(t, err), tc.query)
	}
}

func TestValidateStripsCommentsBeforeChecking(t *testing.T) {
	s := newSandbox(3 * time.Second)

	// Keywords hidden in comments do not reject.
	_, err := s.Validate("SELECT * FROM production_records -- drop nothing")
	require.NoError(t, err)

	_, err = s.Validate("SELECT /* insert */ * FROM production_records")
	require.NoError(t, err)

	// Comments cannot hide a second statement.
	_, err = s.Validate("SELECT * FROM production_records /* x */ ; DROP TABLE t")
	require.Error(t, err)
}

func TestWantsArchive(t *testing.T) {
	assert.True(t, WantsArchive("SELECT * FROM archive.production_records"))
	assert.False(t, WantsArchive("SELECT * FROM production_records"))
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "live.db")
	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE production_records (
		id INTEGER PRIMARY KEY,
		production_date TEXT,
		item_code TEXT,
		good_quantity REAL
	)`)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = db.Exec(
			"INSERT INTO production_records (production_date, item_code, good_quantity) VALUES ('2026-02-01', 'A', ?)",
			float64(i))
		require.NoError(t, err)
	}
	return db
}

func TestExecute(t *testing.T) {
	s := newSandbox(3 * time.Second)
	db := openTestDB(t)

	res, err := s.Execute(context.Background(), db,
		"SELECT item_code, SUM(good_quantity) AS total FROM production_records GROUP BY item_code")
	require.NoError(t, err)
	assert.Equal(t, []string{"item_code", "total"}, res.Columns)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, "A", res.Rows[0][0])
}

func TestExecuteRejectsBeforeTouchingDB(t *testing.T) {
	s := newSandbox(3 * time.Second)
	db := openTestDB(t)

	_, err := s.Execute(context.Background(), db, "DROP TABLE production_records")
	assert.Equal(t, ReasonNotSelect, rejectReason(t, err))

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM production_records").Scan(&n))
	assert.Equal(t, 5, n)
}

func TestExecuteTimeout(t *testing.T) {
	s := newSandbox(50 * time.Millisecond)
	db := openTestDB(t)

	// A self-join cascade large enough to outlive the timeout.
	query := `SELECT COUNT(*) FROM production_records a, production_records b,
		production_records c, production_records d, production_records e,
		production_records f, production_records g, production_records h,
		production_records i, production_records j, production_records k,
		production_records l`
	_, err := s.Execute(context.Background(), db, query)
	require.Error(t, err)
	assert.Equal(t, ReasonTimeout, rejectReason(t, err))
}
