// Package router decides which store(s) a date range touches and builds
// the federated SQL that reads across them.
//
// The platform keeps production records in two SQLite files split at a
// fixed cutoff date: the archive store holds production_date < cutoff,
// the live store holds production_date >= cutoff. Every read goes through
// PickTargets so the boundary is handled in exactly one place.
//
// All date comparisons are lexicographic on YYYY-MM-DD strings, which
// orders identically to calendar order for this fixed-width format.
package router

// Targets indicates which stores a query must touch. It is derived per
// request from the date range and never persisted.
type Targets struct {
	UseArchive bool
	UseLive    bool
}

// NeedUnion reports whether both stores are queried (UNION ALL required).
func (t Targets) NeedUnion() bool { return t.UseArchive && t.UseLive }

// ArchiveOnly reports whether only the archive store is queried.
func (t Targets) ArchiveOnly() bool { return t.UseArchive && !t.UseLive }

// LiveOnly reports whether only the live store is queried.
func (t Targets) LiveOnly() bool { return t.UseLive && !t.UseArchive }

// PickTargets maps an inclusive-exclusive date interval [dateFrom, dateTo)
// onto the stores it can contain data from. Empty strings mean unbounded.
//
// dateTo is EXCLUSIVE: callers wanting an inclusive end date must pass the
// next day (see NextDay). A dateTo exactly equal to the cutoff therefore
// excludes the live store — the interval ends before any live row.
//
//	PickTargets("", "", cutoff)                        → both
//	PickTargets("2025-12-01", "2026-01-01", "2026-01-01") → archive only
//	PickTargets("2026-01-01", "2026-02-01", "2026-01-01") → live only
//	PickTargets("2025-12-15", "2026-01-11", "2026-01-01") → both
func PickTargets(dateFrom, dateTo, cutoff string) Targets {
	// No bounds: a full scan can hit anything.
	if dateFrom == "" && dateTo == "" {
		return Targets{UseArchive: true, UseLive: true}
	}

	// Only an upper bound: old data is always reachable; live data only
	// if the exclusive end extends past the cutoff.
	if dateFrom == "" {
		return Targets{UseArchive: true, UseLive: dateTo > cutoff}
	}

	// Only a lower bound: recent data is always reachable; archive data
	// only if the range starts before the cutoff.
	if dateTo == "" {
		return Targets{UseArchive: dateFrom < cutoff, UseLive: true}
	}

	return Targets{
		UseArchive: dateFrom < cutoff,
		UseLive:    dateTo > cutoff,
	}
}
