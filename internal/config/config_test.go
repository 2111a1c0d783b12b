package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.hcl"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverlaysOnDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prodhub.hcl")
	src := `
live_db     = "/data/live.db"
cutoff_date = "2027-01-01"
rate_limit_strict_max = 5
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/live.db", cfg.LiveDB)
	assert.Equal(t, "2027-01-01", cfg.CutoffDate)
	assert.Equal(t, 5, cfg.RateLimitStrictMax)

	// Untouched attributes keep their defaults.
	assert.Equal(t, Default().ArchiveDB, cfg.ArchiveDB)
	assert.Equal(t, Default().CacheTTLSeconds, cfg.CacheTTLSeconds)
}

func TestLoad_RejectsBadCutoff(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prodhub.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`cutoff_date = "01/01/2026"`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cutoff_date")
}
