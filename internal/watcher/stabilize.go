package watcher

import (
	"context"
	"fmt"
	"time"

	billy "github.com/go-git/go-billy/v5"

	"github.com/agentic-research/prodhub/internal/store"
)

// StabilizePolicy controls how long the watcher waits for a store file to
// stop changing before acting on it. External ingestion copies the file in
// place, so acting on a half-written file would heal indexes into garbage.
type StabilizePolicy struct {
	Wait       time.Duration // pause between checks
	Checks     int           // consecutive identical observations required
	MaxRetries int           // observation budget before giving up
}

// ErrUnstable is returned when a file keeps changing past the retry budget.
var ErrUnstable = fmt.Errorf("watcher: file did not stabilize")

// WaitStable blocks until path has shown Checks consecutive identical
// fingerprints, sleeping Wait between observations. It returns the settled
// state, ErrUnstable after MaxRetries changes, or ctx.Err() on cancel.
func WaitStable(ctx context.Context, fs billy.Filesystem, path string, p StabilizePolicy) (store.FileState, error) {
	last := store.StatFile(fs, path)
	stable := 1
	retries := 0

	for stable < p.Checks {
		select {
		case <-ctx.Done():
			return store.FileState{}, ctx.Err()
		case <-time.After(p.Wait):
		}

		cur := store.StatFile(fs, path)
		if cur == last {
			stable++
			continue
		}
		retries++
		if retries >= p.MaxRetries {
			return store.FileState{}, fmt.Errorf("%w: %s after %d retries", ErrUnstable, path, retries)
		}
		last = cur
		stable = 1
	}
	return last, nil
}
