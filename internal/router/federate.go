package router

import (
	"fmt"
)

// Table is the sole production table; the archive copy is reached through
// the "archive" attachment set up by the connection manager.
const (
	Table        = "production_records"
	ArchiveTable = "archive.production_records"
)

// DefaultOrder is the three-key total order used for paginated reads.
// Including source guarantees no two rows compare equal even when both
// stores hold a row with the same timestamp, which keyset pagination
// depends on.
const DefaultOrder = "production_date DESC, source DESC, id DESC"

// BuildUnionSQL builds a read across the selected stores.
//
// With both targets the two branches are combined with UNION ALL and each
// branch gains a literal source discriminator column ('archive'/'live').
// Each branch also gains a cutoff guard (production_date < ? for archive,
// >= ? for live) so a row can never appear from the wrong store; the
// cutoff value is supplied by BuildQueryParams, not inlined.
//
// The returned paramsDoubled reports whether the WHERE parameters must be
// repeated for the second branch.
//
// A Targets selecting neither store is defensive/unreachable: the result
// is a query guaranteed to return zero rows rather than an error.
func BuildUnionSQL(selectColumns, whereClause string, targets Targets, orderBy string, limit int, includeSource bool) (sql string, paramsDoubled bool) {
	sourceArchive := ""
	sourceLive := ""
	if includeSource {
		sourceArchive = "'archive' AS source, "
		sourceLive = "'live' AS source, "
	}

	var parts []string
	if targets.UseArchive {
		parts = append(parts, fmt.Sprintf(
			"SELECT %s%s FROM %s WHERE %s AND production_date < ?",
			sourceArchive, selectColumns, ArchiveTable, whereClause))
	}
	if targets.UseLive {
		parts = append(parts, fmt.Sprintf(
			"SELECT %s%s FROM %s WHERE %s AND production_date >= ?",
			sourceLive, selectColumns, Table, whereClause))
	}

	switch len(parts) {
	case 2:
		sql = parts[0] + " UNION ALL " + parts[1]
		paramsDoubled = true
	case 1:
		sql = parts[0]
	default:
		sql = fmt.Sprintf("SELECT %s%s FROM %s WHERE 1=0", sourceLive, selectColumns, Table)
	}

	if orderBy != "" {
		sql = fmt.Sprintf("SELECT * FROM (%s) ORDER BY %s", sql, orderBy)
	}
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", limit)
	}
	return sql, paramsDoubled
}

// BuildAggregationSQL builds a pre-aggregate-then-merge query: each store
// aggregates independently with the same GROUP BY, and the partial
// aggregates are unioned and re-aggregated in an outer query (SUM of SUMs,
// SUM of COUNTs, weighted AVG as SUM(sum)/SUM(count)). This halves the row
// volume crossing the union boundary on large ranges and produces totals
// numerically identical to aggregating the raw union.
func BuildAggregationSQL(innerSelect, innerWhere, outerSelect, groupBy string, targets Targets, orderBy string, limit int) (sql string, paramsDoubled bool) {
	groupClause := ""
	if groupBy != "" {
		groupClause = " GROUP BY " + groupBy
	}

	var parts []string
	if targets.UseArchive {
		parts = append(parts, fmt.Sprintf(
			"SELECT %s FROM %s WHERE %s AND production_date < ?%s",
			innerSelect, ArchiveTable, innerWhere, groupClause))
	}
	if targets.UseLive {
		parts = append(parts, fmt.Sprintf(
			"SELECT %s FROM %s WHERE %s AND production_date >= ?%s",
			innerSelect, Table, innerWhere, groupClause))
	}

	var unionSQL string
	switch len(parts) {
	case 2:
		unionSQL = parts[0] + " UNION ALL " + parts[1]
		paramsDoubled = true
	case 1:
		unionSQL = parts[0]
	default:
		unionSQL = fmt.Sprintf("SELECT %s FROM %s WHERE 1=0%s", innerSelect, Table, groupClause)
	}

	sql = fmt.Sprintf("SELECT %s FROM (%s)%s", outerSelect, unionSQL, groupClause)
	if orderBy != "" {
		sql += " ORDER BY " + orderBy
	}
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", limit)
	}
	return sql, paramsDoubled
}

// BuildQueryParams expands the base WHERE parameters into the full list
// for a federated query: one copy per selected branch, each followed by
// the cutoff for that branch's date guard. The cutoff travels as a bind
// parameter so it is never string-interpolated into SQL.
func BuildQueryParams(baseParams []any, targets Targets, cutoff string) []any {
	var params []any
	if targets.UseArchive {
		params = append(params, baseParams...)
		params = append(params, cutoff)
	}
	if targets.UseLive {
		params = append(params, baseParams...)
		params = append(params, cutoff)
	}
	return params
}

// KeysetClause returns the WHERE fragment and parameters that resume a
// scan strictly after cur in the DefaultOrder. The three-part inequality
// mirrors the (date, source, id) descending sort exactly.
func KeysetClause(cur Cursor) (string, []any) {
	clause := "(production_date < ? OR " +
		"(production_date = ? AND source < ?) OR " +
		"(production_date = ? AND source = ? AND id < ?))"
	params := []any{
		cur.Date,
		cur.Date, cur.Source,
		cur.Date, cur.Source, cur.ID,
	}
	return clause, params
}
