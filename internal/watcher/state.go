package watcher

import (
	"encoding/json"
	"fmt"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/agentic-research/prodhub/internal/store"
)

// State is what the watcher remembers across restarts: the last store
// fingerprint it acted on and when maintenance last ran. Persisted as a
// small JSON file next to the stores.
type State struct {
	Live               store.FileState `json:"live"`
	Archive            store.FileState `json:"archive"`
	LastAnalyze        time.Time       `json:"last_analyze"`
	LastArchiveAnalyze time.Time       `json:"last_archive_analyze"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// LoadState reads persisted state from path. A missing or corrupt file
// yields the zero state, so a fresh deployment or a damaged file both
// just mean "treat everything as changed".
func LoadState(fs billy.Filesystem, path string) State {
	data, err := util.ReadFile(fs, path)
	if err != nil {
		return State{}
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}
	}
	return s
}

// SaveState writes s to path, stamping UpdatedAt.
func SaveState(fs billy.Filesystem, path string, s State) error {
	s.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("watcher: marshal state: %w", err)
	}
	if err := util.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("watcher: write state: %w", err)
	}
	return nil
}
