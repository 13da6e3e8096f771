package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"trends-importer/internal/fault"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want fault.Kind
	}{
		{"nil", nil, fault.KindNone},
		{"out of range", &pgconn.PgError{Code: "22003"}, fault.KindParse},
		{"invalid text", &pgconn.PgError{Code: "22P02"}, fault.KindParse},
		{"check", &pgconn.PgError{Code: "23514"}, fault.KindParse},
		{"foreign key", &pgconn.PgError{Code: "23503"}, fault.KindConstraint},
		{"unique", &pgconn.PgError{Code: "23505"}, fault.KindConstraint},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, fault.KindFatalStorage},
		{"connection", errors.New("conn closed"), fault.KindFatalStorage},
		{"cancelled", context.Canceled, fault.KindFatalStorage},
		{"already classified", fault.Parse("log 1", nil), fault.KindParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("op", tt.err)
			assert.Equal(t, tt.want, fault.Classify(got))
			if tt.err != nil {
				assert.ErrorIs(t, got, tt.err)
			}
		})
	}
}
