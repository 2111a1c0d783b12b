package router

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// ParseDate validates a YYYY-MM-DD string. fieldName is used in the error
// so callers can surface which input was malformed.
func ParseDate(s, fieldName string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s format: %q, expected YYYY-MM-DD", fieldName, s)
	}
	return d, nil
}

// NormalizeDate validates s and optionally shifts it by addDays. An empty
// input passes through (unbounded). Shifting by one day converts an
// inclusive end date to the exclusive bound the SQL guards expect.
func NormalizeDate(s string, addDays int) (string, error) {
	if s == "" {
		return "", nil
	}
	d, err := ParseDate(s, "date")
	if err != nil {
		return "", err
	}
	if addDays != 0 {
		d = d.AddDate(0, 0, addDays)
	}
	return d.Format(dateLayout), nil
}

// NextDay returns the day after s in YYYY-MM-DD.
func NextDay(s string) (string, error) {
	return NormalizeDate(s, 1)
}

// ValidateRangeExclusive checks an inclusive [dateFrom, dateTo] range and
// returns (dateFrom, dateTo+1day) for use with the standard
// `production_date >= ? AND production_date < ?` guard pair.
func ValidateRangeExclusive(dateFrom, dateTo string) (string, string, error) {
	from, err := ParseDate(dateFrom, "date_from")
	if err != nil {
		return "", "", err
	}
	to, err := ParseDate(dateTo, "date_to")
	if err != nil {
		return "", "", err
	}
	if from.After(to) {
		return "", "", fmt.Errorf("invalid date range: date_from (%s) is after date_to (%s)", dateFrom, dateTo)
	}
	return dateFrom, to.AddDate(0, 0, 1).Format(dateLayout), nil
}

// EscapeLike escapes the SQL LIKE wildcards % and _ (and backslash) in a
// user-supplied search term, so the term matches literally when used with
// `LIKE ? ESCAPE '\'`.
func EscapeLike(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// ValidateLength enforces an upper bound on a caller-supplied string.
func ValidateLength(value string, maxLen int, fieldName string) error {
	if len(value) > maxLen {
		return fmt.Errorf("%s exceeds maximum length of %d characters (got %d)", fieldName, maxLen, len(value))
	}
	return nil
}
