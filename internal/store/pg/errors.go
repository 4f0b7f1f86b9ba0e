package pg

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
)

const (
	pgErrInsufficientPrivilege = "42501"
	pgErrUniqueViolation       = "23505"
	pgErrForeignKeyViolation   = "23503"
	pgErrCheckViolation        = "23514"
	pgErrNotNullViolation      = "23502"
	pgErrInvalidParameter      = "22023"
	pgErrInvalidText           = "22P02"
	pgErrNoDataFound           = "P0002"
)

// mapError translates driver errors into the apperr taxonomy. Row policy
// violations become forbidden; constraint failures become conflict or
// validation. Messages raised by the app.* functions are kept; server
// generated ones are replaced so table and constraint names stay internal.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrNotFound
	}
	pgErr, ok := maybePgError(err)
	if !ok {
		return err
	}
	raised := raisedByApp(pgErr.Where)
	msg := func(fallback string) string {
		if raised && pgErr.Message != "" {
			return pgErr.Message
		}
		return fallback
	}
	switch pgErr.Code {
	case pgErrInsufficientPrivilege:
		return fmt.Errorf("%w: %s", apperr.ErrForbidden, msg("row policy denied the operation"))
	case pgErrUniqueViolation:
		return fmt.Errorf("%w: %s", apperr.ErrConflict, msg("resource already exists"))
	case pgErrForeignKeyViolation:
		return fmt.Errorf("%w: %s", apperr.ErrConflict, msg("resource is referenced by or references missing records"))
	case pgErrCheckViolation, pgErrNotNullViolation, pgErrInvalidParameter, pgErrInvalidText:
		return fmt.Errorf("%w: %s", apperr.ErrInvalidInput, msg("value violates a data constraint"))
	case pgErrNoDataFound:
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, msg("not found"))
	}
	return err
}

// raisedByApp reports whether the innermost context frame is a RAISE inside
// an app.* function. Statements those functions run report "at SQL
// statement" instead and keep the server wording out of responses.
func raisedByApp(where string) bool {
	frame, _, _ := strings.Cut(where, "\n")
	return strings.HasPrefix(frame, "PL/pgSQL function app.") && strings.HasSuffix(strings.TrimSpace(frame), " at RAISE")
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
