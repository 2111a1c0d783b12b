package router

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUnionSQL_BothStores(t *testing.T) {
	targets := Targets{UseArchive: true, UseLive: true}
	sql, doubled := BuildUnionSQL("id, production_date", "item_code = ?", targets, DefaultOrder, 100, true)

	assert.True(t, doubled)
	assert.Equal(t, 1, strings.Count(sql, "UNION ALL"))
	assert.Equal(t, 1, strings.Count(sql, "'archive' AS source"))
	assert.Equal(t, 1, strings.Count(sql, "'live' AS source"))
	assert.Contains(t, sql, "archive.production_records")
	assert.Contains(t, sql, "production_date < ?")
	assert.Contains(t, sql, "production_date >= ?")
	assert.Contains(t, sql, "ORDER BY "+DefaultOrder)
	assert.Contains(t, sql, "LIMIT 100")
}

func TestBuildUnionSQL_SingleStore(t *testing.T) {
	sql, doubled := BuildUnionSQL("id", "1=1", Targets{UseLive: true}, "", 0, true)
	assert.False(t, doubled)
	assert.NotContains(t, sql, "UNION ALL")
	assert.NotContains(t, sql, "archive.")

	sql, doubled = BuildUnionSQL("id", "1=1", Targets{UseArchive: true}, "", 0, false)
	assert.False(t, doubled)
	assert.NotContains(t, sql, "source")
	assert.Contains(t, sql, "archive.production_records")
}

func TestBuildUnionSQL_NoTargetsReturnsZeroRows(t *testing.T) {
	sql, doubled := BuildUnionSQL("id", "1=1", Targets{}, "", 0, true)
	assert.False(t, doubled)
	assert.Contains(t, sql, "WHERE 1=0")
}

func TestBuildAggregationSQL(t *testing.T) {
	targets := Targets{UseArchive: true, UseLive: true}
	sql, doubled := BuildAggregationSQL(
		"item_code, SUM(good_quantity) AS total, COUNT(*) AS cnt",
		"production_date >= ? AND production_date < ?",
		"item_code, SUM(total) AS total, SUM(cnt) AS cnt",
		"item_code",
		targets,
		"total DESC",
		5,
	)

	assert.True(t, doubled)
	assert.Equal(t, 1, strings.Count(sql, "UNION ALL"))
	// Inner GROUP BY appears once per branch, outer once more.
	assert.Equal(t, 3, strings.Count(sql, "GROUP BY item_code"))
	assert.Contains(t, sql, "ORDER BY total DESC")
	assert.Contains(t, sql, "LIMIT 5")
}

func TestBuildQueryParams(t *testing.T) {
	base := []any{"BW0021", "2025-12-01"}

	both := BuildQueryParams(base, Targets{UseArchive: true, UseLive: true}, cutoff)
	require.Len(t, both, 6)
	assert.Equal(t, []any{"BW0021", "2025-12-01", cutoff, "BW0021", "2025-12-01", cutoff}, both)

	one := BuildQueryParams(base, Targets{UseLive: true}, cutoff)
	assert.Equal(t, []any{"BW0021", "2025-12-01", cutoff}, one)

	assert.Empty(t, BuildQueryParams(base, Targets{}, cutoff))
}

func TestKeysetClause(t *testing.T) {
	cur := Cursor{Date: "2026-01-15", ID: 42, Source: "live"}
	clause, params := KeysetClause(cur)

	assert.Equal(t, 3, strings.Count(clause, "production_date"))
	assert.Equal(t, []any{"2026-01-15", "2026-01-15", "live", "2026-01-15", "live", int64(42)}, params)
}
