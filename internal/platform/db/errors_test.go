package db

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/retailpos/retailpos/internal/shared"
)

func TestClassify(t *testing.T) {
	require.NoError(t, Classify(nil))

	plain := errors.New("boom")
	require.Same(t, plain, Classify(plain))

	err := Classify(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
	require.ErrorIs(t, err, ErrSerialization)
	require.ErrorIs(t, err, shared.ErrConflict)

	err = Classify(&pgconn.PgError{Code: "40P01"})
	require.ErrorIs(t, err, ErrSerialization)

	err = Classify(&pgconn.PgError{Code: "23505", ConstraintName: "purchases_invoice_number_key"})
	require.ErrorIs(t, err, ErrUniqueViolation)
	require.Contains(t, err.Error(), "purchases_invoice_number_key")

	err = Classify(&pgconn.PgError{Code: "23514"})
	require.ErrorIs(t, err, ErrCheckViolation)

	other := &pgconn.PgError{Code: "42P01"}
	require.Equal(t, error(other), Classify(other))
}
