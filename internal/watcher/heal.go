package watcher

import (
	"context"
	"database/sql"
	"fmt"
)

// RequiredIndexes maps each index the report queries depend on to the
// statement that rebuilds it. Ingestion replaces the live store wholesale
// and does not always carry the indexes over, so the watcher recreates
// whichever are missing after every change.
var RequiredIndexes = map[string]string{
	"idx_production_date": "CREATE INDEX IF NOT EXISTS idx_production_date ON production_records(production_date)",
	"idx_item_code":       "CREATE INDEX IF NOT EXISTS idx_item_code ON production_records(item_code)",
	"idx_item_date":       "CREATE INDEX IF NOT EXISTS idx_item_date ON production_records(item_code, production_date)",
}

// MissingIndexes returns the names of required indexes the live store
// currently lacks.
func MissingIndexes(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA index_list(production_records)")
	if err != nil {
		return nil, fmt.Errorf("watcher: index_list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	present := make(map[string]bool)
	for rows.Next() {
		var seq int
		var name, origin string
		var unique, partial int
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return nil, fmt.Errorf("watcher: index_list scan: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("watcher: index_list rows: %w", err)
	}

	var missing []string
	for name := range RequiredIndexes {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// HealIndexes creates every missing required index and returns the names
// it created.
func HealIndexes(ctx context.Context, db *sql.DB) ([]string, error) {
	missing, err := MissingIndexes(ctx, db)
	if err != nil {
		return nil, err
	}
	for _, name := range missing {
		if _, err := db.ExecContext(ctx, RequiredIndexes[name]); err != nil {
			return nil, fmt.Errorf("watcher: create %s: %w", name, err)
		}
	}
	return missing, nil
}

// Analyze refreshes the query planner statistics for the live store.
func Analyze(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("watcher: analyze: %w", err)
	}
	return nil
}
