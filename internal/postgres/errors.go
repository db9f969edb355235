package postgres

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"tabledep/internal/model"
)

// classify wraps errors that leave the change objects unusable in
// model.FatalTransportError. Anything else is returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var fatal *model.FatalTransportError
	if errors.As(err, &fatal) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && isFatalPgError(pgErr) {
		return &model.FatalTransportError{Err: err}
	}
	return err
}

func isFatalPgError(err *pgconn.PgError) bool {
	if err == nil {
		return false
	}
	if strings.HasPrefix(err.Code, "28") { // invalid auth
		return true
	}
	switch err.Code {
	case "42501", // insufficient privilege
		"42P01", // undefined table (queue dropped)
		"42704", // undefined object
		"42883", // undefined function
		"3D000", // database does not exist
		"3F000": // schema does not exist
		return true
	default:
		return false
	}
}

func isUndefinedObject(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "42P01" || pgErr.Code == "42704" || pgErr.Code == "42883"
}
