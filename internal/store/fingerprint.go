// Package store manages connections to the live and archive SQLite files.
//
// The store files are owned by an external ingestion process that replaces
// them wholesale, so every handle is cached together with a fingerprint of
// both files and silently reopened when the fingerprint changes. The same
// fingerprint, rounded to whole seconds, doubles as the store-version
// component of result-cache keys.
package store

import (
	"fmt"
	"sync"
	"time"

	billy "github.com/go-git/go-billy/v5"
)

// FileState is the change-detection signature of one store file.
// The zero value means "file absent", which is a legitimate state for the
// archive store.
type FileState struct {
	MtimeNS int64
	Size    int64
}

// Exists reports whether the file was present when the state was taken.
func (s FileState) Exists() bool { return s != FileState{} }

// StatFile reads the current FileState of path. A missing or unreadable
// file yields the zero state rather than an error — absence is data here,
// not a failure.
func StatFile(fs billy.Filesystem, path string) FileState {
	info, err := fs.Stat(path)
	if err != nil {
		return FileState{}
	}
	return FileState{MtimeNS: info.ModTime().UnixNano(), Size: info.Size()}
}

// Fingerprint captures both store files at one instant. Comparable with ==.
type Fingerprint struct {
	Live    FileState
	Archive FileState
}

// Version renders the fingerprint as the compact store-version string used
// in cache keys: both modification times in whole seconds, concatenated.
// A missing file contributes 0.
func (f Fingerprint) Version() string {
	return fmt.Sprintf("%d_%d", f.Live.MtimeNS/int64(time.Second), f.Archive.MtimeNS/int64(time.Second))
}

// Versioner computes store fingerprints, caching the result for one
// second to keep hot cache lookups from hammering the filesystem.
type Versioner struct {
	fs          billy.Filesystem
	livePath    string
	archivePath string

	mu       sync.Mutex
	cached   Fingerprint
	cachedAt time.Time

	now func() time.Time
}

// NewVersioner builds a Versioner over the two store paths.
func NewVersioner(fs billy.Filesystem, livePath, archivePath string) *Versioner {
	return &Versioner{
		fs:          fs,
		livePath:    livePath,
		archivePath: archivePath,
		now:         time.Now,
	}
}

// Fingerprint returns the current (possibly 1s-stale) fingerprint.
func (v *Versioner) Fingerprint() Fingerprint {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	if !v.cachedAt.IsZero() && now.Sub(v.cachedAt) < time.Second {
		return v.cached
	}
	v.cached = Fingerprint{
		Live:    StatFile(v.fs, v.livePath),
		Archive: StatFile(v.fs, v.archivePath),
	}
	v.cachedAt = now
	return v.cached
}

// Version returns the store-version string for the current fingerprint.
func (v *Versioner) Version() string {
	return v.Fingerprint().Version()
}
