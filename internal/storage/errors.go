package storage

import (
	"database/sql"
	"errors"
)

// isNoRows reports whether err is (or wraps) sql.ErrNoRows.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
