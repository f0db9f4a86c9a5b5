package identity

import "strings"

// isUniqueViolation recognizes both backends' unique-constraint error
// text without importing either driver package directly — pgx wraps
// a *pgconn.PgError whose Error() contains "duplicate key value", the
// embedded SQLite driver reports "UNIQUE constraint failed".
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}
