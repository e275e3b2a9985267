package sqlite

import (
	"context"
	"database/sql"
	"errors"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"semaphore/coursework/internal/apperr"
)

// classify maps a database/sql or modernc error onto the apperr taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(op, "not found")
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		switch code {
		case sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY,
			sqlite3lib.SQLITE_CONSTRAINT_UNIQUE,
			sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
			return apperr.Conflict(op, err)
		case sqlite3lib.SQLITE_CONSTRAINT_CHECK,
			sqlite3lib.SQLITE_CONSTRAINT_NOTNULL:
			return apperr.Invalid(op, "constraint violated", err)
		}
		// primary result code in the low byte
		switch code & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return apperr.Storage(op, err, true)
		}
		return apperr.Storage(op, err, false)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Storage(op, err, true)
	}
	return apperr.Storage(op, err, false)
}
