package postgres

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"semaphore/coursework/internal/apperr"
)

// classify maps a pgx error onto the apperr taxonomy. nil stays nil and
// errors already classified pass through.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(op, "not found")
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			// serialization_failure, deadlock_detected, lock_not_available
			return apperr.Conflict(op, err)
		case "23503", "23505":
			// a concurrent writer changed the rows this statement depends on
			return apperr.Conflict(op, err)
		case "23514":
			return apperr.Invalid(op, "check constraint violated", err)
		}
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "53"), strings.HasPrefix(pgErr.Code, "57"):
			return apperr.Storage(op, err, true)
		}
		return apperr.Storage(op, err, false)
	}

	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) ||
		errors.Is(err, context.DeadlineExceeded) {
		return apperr.Storage(op, err, true)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.Storage(op, err, true)
	}
	return apperr.Storage(op, err, false)
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgNullUUID(id uuid.NullUUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id.UUID, Valid: id.Valid}
}

func pgUUIDs(ids []uuid.UUID) []pgtype.UUID {
	out := make([]pgtype.UUID, 0, len(ids))
	for _, id := range ids {
		out = append(out, pgUUID(id))
	}
	return out
}

func fromPgUUID(id pgtype.UUID) uuid.UUID {
	return uuid.UUID(id.Bytes)
}

func fromPgNullUUID(id pgtype.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: uuid.UUID(id.Bytes), Valid: id.Valid}
}

func pgTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t.UTC(), Valid: !t.IsZero()}
}
