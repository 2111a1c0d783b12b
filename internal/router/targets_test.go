package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const cutoff = "2026-01-01"

func TestPickTargets(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
		want     Targets
	}{
		{"no bounds", "", "", Targets{UseArchive: true, UseLive: true}},
		{"only to, before cutoff", "", "2025-06-01", Targets{UseArchive: true, UseLive: false}},
		{"only to, equal to cutoff excludes live", "", "2026-01-01", Targets{UseArchive: true, UseLive: false}},
		{"only to, past cutoff", "", "2026-02-01", Targets{UseArchive: true, UseLive: true}},
		{"only from, before cutoff", "2025-06-01", "", Targets{UseArchive: true, UseLive: true}},
		{"only from, at cutoff", "2026-01-01", "", Targets{UseArchive: false, UseLive: true}},
		{"both before cutoff", "2025-12-01", "2026-01-01", Targets{UseArchive: true, UseLive: false}},
		{"both after cutoff", "2026-01-01", "2026-02-01", Targets{UseArchive: false, UseLive: true}},
		{"straddling", "2025-12-15", "2026-01-11", Targets{UseArchive: true, UseLive: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PickTargets(tt.from, tt.to, cutoff))
		})
	}
}

func TestTargets_Predicates(t *testing.T) {
	both := Targets{UseArchive: true, UseLive: true}
	assert.True(t, both.NeedUnion())
	assert.False(t, both.ArchiveOnly())
	assert.False(t, both.LiveOnly())

	assert.True(t, Targets{UseArchive: true}.ArchiveOnly())
	assert.True(t, Targets{UseLive: true}.LiveOnly())
}
