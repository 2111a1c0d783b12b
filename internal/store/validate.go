package store

import (
	"fmt"
	"regexp"
	"strings"
)

// attachPathRe limits the characters a store file path may contain before
// it is embedded in an ATTACH DATABASE statement. SQLite has no bind
// parameter for the attachment target, so the path is validated against a
// conservative charset and then quote-escaped.
var attachPathRe = regexp.MustCompile(`^[a-zA-Z0-9_\-./\\:]+$`)

// ValidateDBPath rejects store paths containing characters outside
// alphanumerics and `_-./\:`, preventing attachment-string injection.
func ValidateDBPath(path string) error {
	if path == "" || !attachPathRe.MatchString(path) {
		return fmt.Errorf("invalid database path: contains disallowed characters (only alphanumeric, underscore, hyphen, dot and path separators are allowed)")
	}
	return nil
}

// quoteSQLString escapes a value for inclusion in a single-quoted SQL
// string literal. The charset check above already excludes quotes; this
// is the second layer.
func quoteSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
