package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"trends-importer/internal/fault"
)

// SQLSTATE codes that are not fatal to a run
const (
	codeNumericOutOfRange = "22003"
	codeInvalidText       = "22P02"
	codeInvalidDatetime   = "22007"
	codeStringTooLong     = "22001"
	codeNotNull           = "23502"
	codeForeignKey        = "23503"
	codeUnique            = "23505"
	codeCheck             = "23514"
)

// Classify maps a database error onto the fault taxonomy. Bad values in a
// record are parse errors, references to rows that upstream never sent are
// constraint violations, and anything else is fatal.
func Classify(what string, err error) error {
	if err == nil {
		return nil
	}
	if fault.Classify(err) != fault.KindUnknown {
		return fmt.Errorf("%s: %w", what, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeNumericOutOfRange, codeInvalidText, codeInvalidDatetime, codeStringTooLong,
			codeNotNull, codeCheck:
			return fault.Parse(what, err)
		case codeForeignKey, codeUnique:
			return fmt.Errorf("%s: %w: %w", what, fault.ErrConstraint, err)
		}
	}
	return fault.Fatal(what, err)
}
