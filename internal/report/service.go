// Package report implements the production reporting operations on top of
// the federated stores. Every read routes through the range router, runs
// against manager-owned handles, and memoizes through the result cache.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentic-research/prodhub/api"
	"github.com/agentic-research/prodhub/internal/cache"
	"github.com/agentic-research/prodhub/internal/router"
	"github.com/agentic-research/prodhub/internal/sandbox"
	"github.com/agentic-research/prodhub/internal/store"
)

const (
	// DefaultLimit applies when a caller asks for records without a limit.
	DefaultLimit = 100
	// MaxLimit caps any caller-supplied page size.
	MaxLimit = 1000
	// maxTermLen bounds free-text search inputs.
	maxTermLen = 100
)

// Service exposes the reporting operations.
type Service struct {
	mgr     *store.Manager
	cache   *cache.Cache
	sandbox *sandbox.Sandbox
	cutoff  string
	slow    time.Duration
	log     *slog.Logger
}

// New builds a Service. cutoff is the archive/live partition date in
// YYYY-MM-DD; slow is the slow-query log threshold.
func New(mgr *store.Manager, c *cache.Cache, sb *sandbox.Sandbox, cutoff string, slow time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{mgr: mgr, cache: c, sandbox: sb, cutoff: cutoff, slow: slow, log: log}
}

// resolveTargets picks stores for the exclusive range and degrades to
// live-only when the archive file is absent. Absence of the archive is a
// normal deployment state, not an error.
func (s *Service) resolveTargets(fromInclusive, toExclusive string) router.Targets {
	t := router.PickTargets(fromInclusive, toExclusive, s.cutoff)
	if t.UseArchive && !s.mgr.ArchivePresent() {
		s.log.Debug("report: archive absent, serving live only")
		t.UseArchive = false
	}
	return t
}

// query runs sql against the right handle, logging when execution crosses
// the slow threshold.
func (s *Service) query(ctx context.Context, op string, targets router.Targets, sqlText string, params []any) (*sql.Rows, error) {
	db, err := s.mgr.Get(targets.UseArchive)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := db.QueryContext(ctx, sqlText, params...)
	if elapsed := time.Since(start); elapsed > s.slow {
		s.log.Warn("report: slow query", "op", op, "elapsed", elapsed.Round(time.Millisecond))
	}
	if err != nil {
		return nil, fmt.Errorf("report: %s: %w", op, err)
	}
	return rows, nil
}

// RecordsQuery holds the filters for a Records call. Cursor wins over
// Offset when both are supplied; Offset stays for older clients.
type RecordsQuery struct {
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty"`
	ItemCode string `json:"item_code,omitempty"`
	LotNo    string `json:"lot_no,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Cursor   string `json:"cursor,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

func clampLimit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

// Records returns one page of production records, newest first, filtered
// and keyset-paginated.
func (s *Service) Records(ctx context.Context, q RecordsQuery) (*api.RecordPage, error) {
	q.Limit = clampLimit(q.Limit)

	toExclusive := ""
	if q.DateTo != "" {
		var err error
		if toExclusive, err = router.NextDay(q.DateTo); err != nil {
			return nil, err
		}
	}
	if q.DateFrom != "" {
		if _, err := router.ParseDate(q.DateFrom, "date_from"); err != nil {
			return nil, err
		}
	}
	if err := router.ValidateLength(q.ItemCode, maxTermLen, "item_code"); err != nil {
		return nil, err
	}
	if err := router.ValidateLength(q.LotNo, maxTermLen, "lot_no"); err != nil {
		return nil, err
	}

	var cur router.Cursor
	hasCursor := false
	if q.Cursor != "" {
		var err error
		if cur, err = router.DecodeCursor(q.Cursor); err != nil {
			return nil, err
		}
		hasCursor = true
	}

	v, err := s.cache.Cached("records", q, func() (any, error) {
		return s.fetchRecords(ctx, q, toExclusive, cur, hasCursor)
	})
	if err != nil {
		return nil, err
	}
	return v.(*api.RecordPage), nil
}

func (s *Service) fetchRecords(ctx context.Context, q RecordsQuery, toExclusive string, cur router.Cursor, hasCursor bool) (*api.RecordPage, error) {
	targets := s.resolveTargets(q.DateFrom, toExclusive)
	if !targets.UseArchive && !targets.UseLive {
		return &api.RecordPage{Data: []api.Record{}}, nil
	}

	where := "1=1"
	var params []any
	if q.DateFrom != "" {
		where += " AND production_date >= ?"
		params = append(params, q.DateFrom)
	}
	if toExclusive != "" {
		where += " AND production_date < ?"
		params = append(params, toExclusive)
	}
	if q.ItemCode != "" {
		where += ` AND item_code LIKE ? ESCAPE '\'`
		params = append(params, "%"+router.EscapeLike(q.ItemCode)+"%")
	}
	if q.LotNo != "" {
		where += " AND lot_number = ?"
		params = append(params, q.LotNo)
	}

	// The union carries no ordering of its own; sorting and paging happen
	// in one outer query so the keyset filter sees the same total order
	// it was built against. One extra row is fetched to learn whether
	// another page exists.
	union, _ := router.BuildUnionSQL(
		"id, production_date, item_code, item_name, good_quantity, lot_number",
		where, targets, "", 0, true)
	allParams := router.BuildQueryParams(params, targets, s.cutoff)

	var sqlText string
	offset := 0
	if hasCursor {
		clause, curParams := router.KeysetClause(cur)
		sqlText = fmt.Sprintf("SELECT * FROM (%s) WHERE %s ORDER BY %s LIMIT %d",
			union, clause, router.DefaultOrder, q.Limit+1)
		allParams = append(allParams, curParams...)
	} else {
		// Legacy offset paging reads offset+limit+1 rows and discards the
		// prefix here rather than in SQL, so both paging modes run the
		// same ORDER BY ... LIMIT shape.
		offset = q.Offset
		sqlText = fmt.Sprintf("SELECT * FROM (%s) ORDER BY %s LIMIT %d",
			union, router.DefaultOrder, q.Limit+offset+1)
	}
	return s.scanRecords(ctx, targets, sqlText, allParams, offset, q.Limit)
}

func (s *Service) scanRecords(ctx context.Context, targets router.Targets, sqlText string, params []any, offset, limit int) (*api.RecordPage, error) {
	rows, err := s.query(ctx, "records", targets, sqlText, params)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	page := &api.RecordPage{Data: []api.Record{}}
	for rows.Next() {
		var r api.Record
		var name, lot sql.NullString
		var qty sql.NullFloat64
		if err := rows.Scan(&r.Source, &r.ID, &r.ProductionDate, &r.ItemCode, &name, &qty, &lot); err != nil {
			return nil, fmt.Errorf("report: scan record: %w", err)
		}
		r.ItemName = name.String
		r.GoodQuantity = qty.Float64
		r.LotNumber = lot.String
		page.Data = append(page.Data, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: records rows: %w", err)
	}

	if offset > 0 {
		if offset >= len(page.Data) {
			page.Data = []api.Record{}
		} else {
			page.Data = page.Data[offset:]
		}
	}
	if len(page.Data) > limit {
		page.Data = page.Data[:limit]
		page.HasMore = true
		last := page.Data[limit-1]
		page.NextCursor = router.Cursor{
			Date:   last.ProductionDate,
			ID:     last.ID,
			Source: last.Source,
		}.Encode()
	}
	page.Count = len(page.Data)
	return page, nil
}

// SearchItems finds distinct items whose code or name matches term,
// ordered by item code.
func (s *Service) SearchItems(ctx context.Context, term string, limit int) ([]api.Item, error) {
	if err := router.ValidateLength(term, maxTermLen, "query"); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	v, err := s.cache.Cached("items", map[string]any{"q": term, "limit": limit}, func() (any, error) {
		targets := s.resolveTargets("", "")
		if !targets.UseArchive && !targets.UseLive {
			return []api.Item{}, nil
		}

		where := "1=1"
		var params []any
		if term != "" {
			where += ` AND (item_code LIKE ? ESCAPE '\' OR item_name LIKE ? ESCAPE '\')`
			like := "%" + router.EscapeLike(term) + "%"
			params = append(params, like, like)
		}

		sqlText, _ := router.BuildAggregationSQL(
			"item_code, MAX(item_name) AS item_name, COUNT(*) AS cnt",
			where,
			"item_code, MAX(item_name) AS item_name, SUM(cnt) AS record_count",
			"item_code", targets, "item_code ASC", limit)

		rows, err := s.query(ctx, "items", targets, sqlText, router.BuildQueryParams(params, targets, s.cutoff))
		if err != nil {
			return nil, err
		}
		defer func() { _ = rows.Close() }()

		items := []api.Item{}
		for rows.Next() {
			var it api.Item
			var name sql.NullString
			if err := rows.Scan(&it.ItemCode, &name, &it.RecordCount); err != nil {
				return nil, fmt.Errorf("report: scan item: %w", err)
			}
			it.ItemName = name.String
			items = append(items, it)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("report: items rows: %w", err)
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]api.Item), nil
}

// Summary computes total, count and average quantity over the inclusive
// date range.
func (s *Service) Summary(ctx context.Context, dateFrom, dateTo string) (*api.Summary, error) {
	fromInclusive, toExclusive, err := router.ValidateRangeExclusive(dateFrom, dateTo)
	if err != nil {
		return nil, err
	}

	args := map[string]any{"from": dateFrom, "to": dateTo}
	v, err := s.cache.Cached("summary", args, func() (any, error) {
		targets := s.resolveTargets(fromInclusive, toExclusive)
		if !targets.UseArchive && !targets.UseLive {
			return &api.Summary{}, nil
		}

		where := "production_date >= ? AND production_date < ?"
		params := []any{fromInclusive, toExclusive}

		sqlText, _ := router.BuildAggregationSQL(
			"SUM(good_quantity) AS total, COUNT(*) AS cnt",
			where,
			"COALESCE(SUM(total), 0), COALESCE(SUM(cnt), 0)",
			"", targets, "", 0)

		rows, err := s.query(ctx, "summary", targets, sqlText, router.BuildQueryParams(params, targets, s.cutoff))
		if err != nil {
			return nil, err
		}
		defer func() { _ = rows.Close() }()

		sum := &api.Summary{}
		if rows.Next() {
			if err := rows.Scan(&sum.TotalQuantity, &sum.ProductionCount); err != nil {
				return nil, fmt.Errorf("report: scan summary: %w", err)
			}
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("report: summary rows: %w", err)
		}
		if sum.ProductionCount > 0 {
			sum.AverageQuantity = sum.TotalQuantity / float64(sum.ProductionCount)
		}
		return sum, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*api.Summary), nil
}

// MonthlyTrend aggregates production by calendar month over the inclusive
// date range, oldest month first.
func (s *Service) MonthlyTrend(ctx context.Context, dateFrom, dateTo string) ([]api.MonthlyRow, error) {
	fromInclusive, toExclusive, err := router.ValidateRangeExclusive(dateFrom, dateTo)
	if err != nil {
		return nil, err
	}

	args := map[string]any{"from": dateFrom, "to": dateTo}
	v, err := s.cache.Cached("monthly", args, func() (any, error) {
		targets := s.resolveTargets(fromInclusive, toExclusive)
		if !targets.UseArchive && !targets.UseLive {
			return []api.MonthlyRow{}, nil
		}

		where := "production_date >= ? AND production_date < ?"
		params := []any{fromInclusive, toExclusive}

		sqlText, _ := router.BuildAggregationSQL(
			"substr(production_date, 1, 7) AS ym, SUM(good_quantity) AS total, COUNT(*) AS cnt",
			where,
			"ym, SUM(total) AS total_production, SUM(cnt) AS batch_count",
			"ym", targets, "ym ASC", 0)

		rows, err := s.query(ctx, "monthly", targets, sqlText, router.BuildQueryParams(params, targets, s.cutoff))
		if err != nil {
			return nil, err
		}
		defer func() { _ = rows.Close() }()

		trend := []api.MonthlyRow{}
		for rows.Next() {
			var m api.MonthlyRow
			var total sql.NullFloat64
			if err := rows.Scan(&m.YearMonth, &total, &m.BatchCount); err != nil {
				return nil, fmt.Errorf("report: scan month: %w", err)
			}
			m.TotalProduction = total.Float64
			trend = append(trend, m)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("report: monthly rows: %w", err)
		}
		return trend, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]api.MonthlyRow), nil
}

// TopItems ranks items by total quantity over the inclusive date range.
func (s *Service) TopItems(ctx context.Context, dateFrom, dateTo string, limit int) ([]api.TopItem, error) {
	fromInclusive, toExclusive, err := router.ValidateRangeExclusive(dateFrom, dateTo)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	args := map[string]any{"from": dateFrom, "to": dateTo, "limit": limit}
	v, err := s.cache.Cached("top_items", args, func() (any, error) {
		targets := s.resolveTargets(fromInclusive, toExclusive)
		if !targets.UseArchive && !targets.UseLive {
			return []api.TopItem{}, nil
		}

		where := "production_date >= ? AND production_date < ?"
		params := []any{fromInclusive, toExclusive}

		sqlText, _ := router.BuildAggregationSQL(
			"item_code, MAX(item_name) AS item_name, SUM(good_quantity) AS total",
			where,
			"item_code, MAX(item_name) AS item_name, SUM(total) AS total_production",
			"item_code", targets, "total_production DESC", limit)

		rows, err := s.query(ctx, "top_items", targets, sqlText, router.BuildQueryParams(params, targets, s.cutoff))
		if err != nil {
			return nil, err
		}
		defer func() { _ = rows.Close() }()

		top := []api.TopItem{}
		for rows.Next() {
			var it api.TopItem
			var name sql.NullString
			var total sql.NullFloat64
			if err := rows.Scan(&it.ItemCode, &name, &total); err != nil {
				return nil, fmt.Errorf("report: scan top item: %w", err)
			}
			it.ItemName = name.String
			it.TotalProduction = total.Float64
			top = append(top, it)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("report: top items rows: %w", err)
		}
		return top, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]api.TopItem), nil
}

// RunQuery executes a caller-supplied SELECT through the sandbox. The
// handle is chosen by whether the query references the archive schema;
// referencing an absent archive is an error rather than a silent miss.
func (s *Service) RunQuery(ctx context.Context, query string) (*sandbox.Result, error) {
	wantsArchive := sandbox.WantsArchive(query)
	if wantsArchive && !s.mgr.ArchivePresent() {
		return nil, fmt.Errorf("report: archive store is not available")
	}
	db, err := s.mgr.Get(wantsArchive)
	if err != nil {
		return nil, err
	}
	return s.sandbox.Execute(ctx, db, query)
}

// CacheStats exposes result-cache occupancy for the diagnostics endpoint.
func (s *Service) CacheStats() cache.Stats { return s.cache.Stats() }

// ClearCache drops all cached results.
func (s *Service) ClearCache() { s.cache.Clear() }

// StoreVersion reports the current store-version string.
func (s *Service) StoreVersion() string { return s.mgr.Version() }
