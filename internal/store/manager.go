package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	billy "github.com/go-git/go-billy/v5"
	_ "modernc.org/sqlite"
)

// connKind identifies one cached handle flavor.
type connKind int

const (
	kindLive      connKind = iota // read-only, live store only
	kindAttached                  // read-only, archive attached
	kindLiveRW                    // read-write live, maintenance only
	kindArchiveRW                 // read-write archive, maintenance only
)

type connEntry struct {
	db *sql.DB
	fp Fingerprint
}

// Manager hands out pooled handles to the store files, one per handle
// flavor. Each handle is cached alongside the store fingerprint taken
// when it was opened; a fingerprint mismatch on a later Get closes the
// stale handle and opens a fresh one. This is how an external process
// atomically replacing a store file mid-session is detected and
// recovered from — not prevented.
//
// database/sql's internal pool takes the role the original design gave to
// thread-local storage: callers share the *sql.DB, the pool owns the
// underlying connections. The archive-attached handle is pinned to a
// single underlying connection so the ATTACH applies to every statement
// issued through it. Pragmas travel in the DSN so every pooled
// connection gets the full profile, not just whichever one happened to
// run an Exec.
type Manager struct {
	fs          billy.Filesystem
	livePath    string
	archivePath string
	busyTimeout time.Duration
	log         *slog.Logger

	versioner *Versioner

	mu    sync.Mutex
	conns map[connKind]*connEntry
}

// NewManager creates a Manager over the two store paths. busyTimeout is
// applied as the SQLite busy_timeout on every fresh connection, matching
// the global I/O timeout.
func NewManager(fs billy.Filesystem, livePath, archivePath string, busyTimeout time.Duration, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		fs:          fs,
		livePath:    livePath,
		archivePath: archivePath,
		busyTimeout: busyTimeout,
		log:         log,
		versioner:   NewVersioner(fs, livePath, archivePath),
		conns:       make(map[connKind]*connEntry),
	}
}

// Version returns the current store-version string (cache key component).
func (m *Manager) Version() string { return m.versioner.Version() }

// Fingerprint returns the current store fingerprint.
func (m *Manager) Fingerprint() Fingerprint { return m.versioner.Fingerprint() }

// ArchivePresent reports whether the archive store file exists right now.
// Its absence is an expected lifecycle state, not an error.
func (m *Manager) ArchivePresent() bool {
	return StatFile(m.fs, m.archivePath).Exists()
}

// LivePath returns the live store path.
func (m *Manager) LivePath() string { return m.livePath }

// ArchivePath returns the archive store path.
func (m *Manager) ArchivePath() string { return m.archivePath }

// Get returns a read-only handle, with the archive store attached when
// useArchive is true and the file exists. The handle is shared and must
// not be closed by the caller; CloseAll owns teardown.
func (m *Manager) Get(useArchive bool) (*sql.DB, error) {
	kind := kindLive
	if useArchive {
		kind = kindAttached
	}
	return m.get(kind)
}

// GetWritable returns a read-write handle to the live store alone. Used
// only for maintenance (index healing, ANALYZE); query paths stay on the
// read-only handles.
func (m *Manager) GetWritable() (*sql.DB, error) {
	return m.get(kindLiveRW)
}

// GetWritableArchive returns a read-write handle to the archive store
// alone, for the same maintenance duties. Errors when the archive file
// does not exist.
func (m *Manager) GetWritableArchive() (*sql.DB, error) {
	if !m.ArchivePresent() {
		return nil, fmt.Errorf("store: archive %s does not exist", m.archivePath)
	}
	return m.get(kindArchiveRW)
}

func (m *Manager) get(kind connKind) (*sql.DB, error) {
	fp := m.versioner.Fingerprint()

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.conns[kind]; ok {
		if e.fp == fp {
			// Verify the handle is still alive before reusing it.
			if err := e.db.Ping(); err == nil {
				return e.db, nil
			}
			m.log.Debug("store: cached handle dead, reopening", "kind", kind)
		} else {
			m.log.Debug("store: fingerprint changed, reconnecting",
				"kind", kind, "old", e.fp.Version(), "new", fp.Version())
		}
		_ = e.db.Close()
		delete(m.conns, kind)
	}

	db, err := m.open(kind)
	if err != nil {
		return nil, err
	}
	m.conns[kind] = &connEntry{db: db, fp: fp}
	return db, nil
}

func (m *Manager) open(kind connKind) (*sql.DB, error) {
	path := m.livePath
	if kind == kindArchiveRW {
		path = m.archivePath
	}
	readOnly := kind == kindLive || kind == kindAttached

	db, err := sql.Open("sqlite", m.dsn(path, readOnly))
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	switch kind {
	case kindAttached:
		// The ATTACH below is connection-scoped, so this handle must map
		// to exactly one underlying connection.
		db.SetMaxOpenConns(1)
	case kindLiveRW, kindArchiveRW:
		// SQLite permits one writer; do not let the pool queue more.
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(4)
	}

	if kind == kindAttached && m.ArchivePresent() {
		if err := ValidateDBPath(m.archivePath); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: archive path: %w", err)
		}
		attach := fmt.Sprintf("ATTACH DATABASE '%s' AS archive", quoteSQLString(m.archivePath))
		if _, err := db.Exec(attach); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: attach archive: %w", err)
		}
		m.log.Debug("store: archive attached", "path", m.archivePath)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", path, err)
	}
	return db, nil
}

// dsn builds the connection string carrying the read-latency tuning
// profile: larger page cache, memory-mapped reads, busy timeout matching
// the global I/O timeout, relaxed-but-crash-safe synchronisation. The
// driver replays every _pragma on each new pooled connection, which is
// what makes the profile hold under SetMaxOpenConns > 1. journal_mode is
// set only on writable handles; readers follow whatever mode the file is
// already in.
func (m *Manager) dsn(path string, readOnly bool) string {
	mode := "rw"
	if readOnly {
		mode = "ro"
	}
	pragmas := []string{
		fmt.Sprintf("busy_timeout(%d)", m.busyTimeout.Milliseconds()),
		"cache_size(-64000)",
		"mmap_size(268435456)",
		"synchronous(NORMAL)",
		"temp_store(MEMORY)",
	}
	if !readOnly {
		pragmas = append([]string{"journal_mode(WAL)"}, pragmas...)
	}
	dsn := fmt.Sprintf("file:%s?mode=%s", path, mode)
	for _, p := range pragmas {
		dsn += "&_pragma=" + url.QueryEscape(p)
	}
	return dsn
}

// CloseAll force-closes every tracked handle. Called at shutdown.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var first error
	for kind, e := range m.conns {
		if err := e.db.Close(); err != nil && first == nil {
			first = err
		}
		delete(m.conns, kind)
	}
	return first
}
