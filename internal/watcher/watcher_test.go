package watcher

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/prodhub/internal/store"
)

func TestStateRoundTrip(t *testing.T) {
	fs := memfs.New()

	s := State{
		Live:        store.FileState{MtimeNS: 123, Size: 456},
		LastAnalyze: time.Unix(1000, 0).UTC(),
	}
	require.NoError(t, SaveState(fs, "state.json", s))

	got := LoadState(fs, "state.json")
	assert.Equal(t, s.Live, got.Live)
	assert.True(t, s.LastAnalyze.Equal(got.LastAnalyze))
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestLoadStateMissingOrCorrupt(t *testing.T) {
	fs := memfs.New()
	assert.Equal(t, State{}, LoadState(fs, "absent.json"))

	f, err := fs.Create("bad.json")
	require.NoError(t, err)
	_, err = f.Write([]byte("{not json"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, State{}, LoadState(fs, "bad.json"))
}

func TestWaitStableSettledFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live.db")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	policy := StabilizePolicy{Wait: 10 * time.Millisecond, Checks: 3, MaxRetries: 5}
	st, err := WaitStable(context.Background(), osfs.New("/"), path, policy)
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.Size)
}

func TestWaitStableGivesUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live.db")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	stop := make(chan struct{})
	go func() {
		// Keep the file churning until the policy budget runs out.
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				_ = os.WriteFile(path, make([]byte, i+2), 0o644)
			}
		}
	}()
	defer close(stop)

	policy := StabilizePolicy{Wait: 20 * time.Millisecond, Checks: 3, MaxRetries: 3}
	_, err := WaitStable(context.Background(), osfs.New("/"), path, policy)
	assert.ErrorIs(t, err, ErrUnstable)
}

func TestWaitStableHonorsContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live.db")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	policy := StabilizePolicy{Wait: time.Minute, Checks: 3, MaxRetries: 5}
	_, err := WaitStable(ctx, osfs.New("/"), path, policy)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func createLiveStore(t *testing.T, path string, withIndexes bool) {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Exec(`CREATE TABLE production_records (
		id INTEGER PRIMARY KEY,
		production_date TEXT,
		item_code TEXT,
		item_name TEXT,
		good_quantity REAL,
		lot_number TEXT
	)`)
	require.NoError(t, err)
	if withIndexes {
		for _, stmt := range RequiredIndexes {
			_, err = db.Exec(stmt)
			require.NoError(t, err)
		}
	}
}

func TestMissingAndHealIndexes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.db")
	createLiveStore(t, path, false)

	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	missing, err := MissingIndexes(context.Background(), db)
	require.NoError(t, err)
	sort.Strings(missing)
	assert.Equal(t, []string{"idx_item_code", "idx_item_date", "idx_production_date"}, missing)

	created, err := HealIndexes(context.Background(), db)
	require.NoError(t, err)
	assert.Len(t, created, 3)

	missing, err = MissingIndexes(context.Background(), db)
	require.NoError(t, err)
	assert.Empty(t, missing)

	// Healing an already-healthy store is a no-op.
	created, err = HealIndexes(context.Background(), db)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestWatcherDetectsChangeAndHeals(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "live.db")
	archive := filepath.Join(dir, "archive.db")
	statePath := filepath.Join(dir, ".watcher_state.json")
	createLiveStore(t, live, false)

	fs := osfs.New("/")
	mgr := store.NewManager(fs, live, archive, time.Second, slog.New(slog.DiscardHandler))
	t.Cleanup(func() { _ = mgr.CloseAll() })

	cleared := make(chan struct{}, 8)
	policy := StabilizePolicy{Wait: 5 * time.Millisecond, Checks: 2, MaxRetries: 5}
	w := New(mgr, fs, statePath, time.Hour, policy, func() { cleared <- struct{}{} }, slog.New(slog.DiscardHandler))

	w.Start(context.Background())
	defer w.Stop()

	// The startup scan sees everything as new and heals immediately.
	waitEvent(t, w.Events(), EventChanged)
	select {
	case <-cleared:
	case <-time.After(2 * time.Second):
		t.Fatal("onChange never fired")
	}

	// State is persisted after healing, so its appearance means the scan
	// finished.
	require.Eventually(t, func() bool {
		_, err := os.Stat(statePath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	db, err := sql.Open("sqlite", "file:"+live)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	missing, err := MissingIndexes(context.Background(), db)
	require.NoError(t, err)
	assert.Empty(t, missing, "startup scan should have healed indexes")

	// Touch the live store and trigger; another change event follows.
	old := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(live, old, old))
	w.TriggerNow()
	waitEvent(t, w.Events(), EventChanged)
}

func TestWatcherHealsArchiveStore(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "live.db")
	archive := filepath.Join(dir, "archive.db")
	statePath := filepath.Join(dir, ".watcher_state.json")
	createLiveStore(t, live, true)
	createLiveStore(t, archive, false)

	fs := osfs.New("/")
	mgr := store.NewManager(fs, live, archive, time.Second, slog.New(slog.DiscardHandler))
	t.Cleanup(func() { _ = mgr.CloseAll() })

	policy := StabilizePolicy{Wait: 5 * time.Millisecond, Checks: 2, MaxRetries: 5}
	w := New(mgr, fs, statePath, time.Hour, policy, nil, slog.New(slog.DiscardHandler))

	w.Start(context.Background())
	defer w.Stop()

	waitEvent(t, w.Events(), EventChanged)
	require.Eventually(t, func() bool {
		_, err := os.Stat(statePath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	// The live store was already fully indexed; the replaced archive is
	// what needed healing.
	db, err := sql.Open("sqlite", "file:"+archive)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	missing, err := MissingIndexes(context.Background(), db)
	require.NoError(t, err)
	assert.Empty(t, missing, "archive indexes should have been recreated")
}

func waitEvent(t *testing.T, ch <-chan Event, kind EventKind) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return
			}
		case <-deadline:
			t.Fatalf("no %s event", kind)
		}
	}
}
