// Package sandbox validates and executes caller-supplied read-only SQL.
//
// Validation is deny-first and deliberately blunt: a keyword appearing
// anywhere outside a comment rejects the query, even inside a string
// literal. False positives are acceptable; false negatives are not. The
// surviving query runs on a dedicated read-only connection under a hard
// timeout.
package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// Reject reasons surfaced to callers.
const (
	ReasonEmpty        = "empty"
	ReasonSemicolon    = "semicolon"
	ReasonNotSelect    = "not-select"
	ReasonForbidden    = "forbidden-keyword"
	ReasonMissingTable = "missing-table"
	ReasonTimeout      = "timeout"
)

// RejectError describes why a query was refused.
type RejectError struct {
	Reason string
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return "sandbox: query rejected: " + e.Reason
	}
	return fmt.Sprintf("sandbox: query rejected: %s (%s)", e.Reason, e.Detail)
}

// forbidden lists fragments that have no place in a report query.
// Matched as plain substrings of the uppercased text after comment
// stripping, so a keyword hiding inside an identifier (AS created_at)
// or a string literal still rejects.
var forbidden = []string{
	"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "TRUNCATE",
	"CREATE", "REPLACE", "PRAGMA", "ATTACH", "DETACH", "VACUUM",
	"REINDEX", "LOAD_EXTENSION", "EXECUTE", "SYSTEM", "SCRIPT",
	"JAVASCRIPT", "EVAL", "SQLITE_", "EXEC(",
}

var (
	lineComment  = regexp.MustCompile(`--[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	limitClause  = regexp.MustCompile(`(?i)\bLIMIT\b`)
)

// DefaultMaxRows is the LIMIT injected into queries that carry none.
const DefaultMaxRows = 1000

// Result holds the outcome of a sandboxed query.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Count   int      `json:"count"`
}

// Sandbox validates and runs ad-hoc SELECT statements against a handle
// provider.
type Sandbox struct {
	table   string
	timeout time.Duration
	log     *slog.Logger
}

// New builds a Sandbox. table is the sole table queries may read; timeout
// bounds execution wall time.
func New(table string, timeout time.Duration, log *slog.Logger) *Sandbox {
	if log == nil {
		log = slog.Default()
	}
	return &Sandbox{table: table, timeout: timeout, log: log}
}

// stripComments removes SQL line and block comments so validation sees
// only executable text.
func stripComments(q string) string {
	q = blockComment.ReplaceAllString(q, " ")
	q = lineComment.ReplaceAllString(q, " ")
	return q
}

// Validate runs the full acceptance pipeline and returns the query as it
// will execute, with a LIMIT injected if the caller supplied none. Any
// semicolon surviving comment stripping rejects, trailing ones included.
func (s *Sandbox) Validate(query string) (string, error) {
	q := strings.TrimSpace(stripComments(query))
	if q == "" {
		return "", &RejectError{Reason: ReasonEmpty}
	}
	if strings.Contains(q, ";") {
		return "", &RejectError{Reason: ReasonSemicolon, Detail: "semicolons are not allowed"}
	}

	upper := strings.ToUpper(q)
	if !strings.HasPrefix(upper, "SELECT") {
		return "", &RejectError{Reason: ReasonNotSelect}
	}

	for _, w := range forbidden {
		if strings.Contains(upper, w) {
			return "", &RejectError{Reason: ReasonForbidden, Detail: strings.ToLower(w)}
		}
	}

	if !strings.Contains(strings.ToLower(q), s.table) {
		return "", &RejectError{Reason: ReasonMissingTable, Detail: s.table}
	}

	if !limitClause.MatchString(q) {
		q = fmt.Sprintf("%s LIMIT %d", q, DefaultMaxRows)
	}
	return q, nil
}

// WantsArchive reports whether the query references the attached archive
// schema and therefore needs the archive-attached handle.
func WantsArchive(query string) bool {
	return strings.Contains(strings.ToLower(query), "archive.")
}

// timedOut reports whether err was caused by the sandbox deadline. The
// driver interrupts the statement when the context expires but reports
// the interrupt, not the deadline, so the context is consulted directly.
func timedOut(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// Execute validates query and runs it on db within the sandbox timeout.
// The query gets its own connection from the pool so cancellation cannot
// poison a shared one.
func (s *Sandbox) Execute(ctx context.Context, db *sql.DB, query string) (*Result, error) {
	validated, err := s.Validate(query)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("sandbox: acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	start := time.Now()
	rows, err := conn.QueryContext(ctx, validated)
	if err != nil {
		if timedOut(ctx, err) {
			return nil, &RejectError{Reason: ReasonTimeout, Detail: s.timeout.String()}
		}
		return nil, fmt.Errorf("sandbox: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sandbox: columns: %w", err)
	}

	res := &Result{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("sandbox: scan: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		if timedOut(ctx, err) {
			return nil, &RejectError{Reason: ReasonTimeout, Detail: s.timeout.String()}
		}
		return nil, fmt.Errorf("sandbox: rows: %w", err)
	}
	res.Count = len(res.Rows)

	s.log.Debug("sandbox: query executed",
		"rows", res.Count, "elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}
