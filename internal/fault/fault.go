// Package fault defines the error taxonomy shared by every stage of the
// import pipeline. Callers wrap one of the sentinels with fmt.Errorf("%w")
// and dispatch on Classify.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNetwork covers connection failures and unexpected HTTP statuses.
	// The affected record or page is skipped and the run continues.
	ErrNetwork = errors.New("network error")
	// ErrRateLimited is returned once the 429 retry budget is spent. It is
	// always wrapped together with ErrNetwork.
	ErrRateLimited = errors.New("rate limited")
	// ErrParse marks a record with a missing or malformed required field.
	ErrParse = errors.New("parse error")
	// ErrConstraint marks a referential violation that upstream data
	// legitimately produces (e.g. a player only present in the heal spread).
	ErrConstraint = errors.New("constraint violation")
	// ErrFatalStorage aborts the run.
	ErrFatalStorage = errors.New("fatal storage error")
	// ErrNoData is a permanent 4xx other than 429. It is not a failure.
	ErrNoData = errors.New("no data")
)

// Kind is the taxonomy bucket of an error.
type Kind int

const (
	KindNone Kind = iota
	KindNetwork
	KindRateLimited
	KindParse
	KindConstraint
	KindFatalStorage
	KindNoData
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNetwork:
		return "network"
	case KindRateLimited:
		return "rate_limited"
	case KindParse:
		return "parse"
	case KindConstraint:
		return "constraint"
	case KindFatalStorage:
		return "fatal_storage"
	case KindNoData:
		return "no_data"
	default:
		return "unknown"
	}
}

// Classify returns the most specific Kind in err's chain. Fatal storage
// wins over everything else so it can never be downgraded by wrapping.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrFatalStorage):
		return KindFatalStorage
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrParse):
		return KindParse
	case errors.Is(err, ErrConstraint):
		return KindConstraint
	case errors.Is(err, ErrNoData):
		return KindNoData
	default:
		return KindUnknown
	}
}

// IsFatal reports whether err must stop the process.
func IsFatal(err error) bool {
	k := Classify(err)
	return k == KindFatalStorage || k == KindUnknown
}

// Parse wraps err as a ParseError for the given record.
func Parse(what string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", what, ErrParse)
	}
	return fmt.Errorf("%s: %w: %w", what, ErrParse, err)
}

// Fatal wraps err as a FatalStorageError unless it already is one.
func Fatal(what string, err error) error {
	if errors.Is(err, ErrFatalStorage) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("%s: %w: %w", what, ErrFatalStorage, err)
}

// WrapHTTPStatus maps a non-2xx status to the taxonomy.
func WrapHTTPStatus(statusCode int, url string) error {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("GET %s: %w: %w", url, ErrNetwork, ErrRateLimited)
	case statusCode >= 400 && statusCode < 500:
		return fmt.Errorf("GET %s: status %d: %w", url, statusCode, ErrNoData)
	default:
		return fmt.Errorf("GET %s: status %d: %w", url, statusCode, ErrNetwork)
	}
}
