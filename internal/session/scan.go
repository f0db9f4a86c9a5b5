package session

import (
	"database/sql"
	"errors"
)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// scanNullableFirst scans a (nullable-text, text) row pair, reporting
// whether the first column was NULL via firstNull.
func scanNullableFirst(row *sql.Row, first *string, firstNull *bool, second *string) error {
	var ns sql.NullString
	if err := row.Scan(&ns, second); err != nil {
		return err
	}
	*first = ns.String
	*firstNull = !ns.Valid
	return nil
}
