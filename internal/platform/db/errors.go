package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/retailpos/retailpos/internal/shared"
)

var (
	// ErrSerialization reports a transaction aborted by a concurrent writer. Callers may retry.
	ErrSerialization = fmt.Errorf("platform/db: concurrent update, retry: %w", shared.ErrConflict)
	// ErrUniqueViolation reports a duplicate key.
	ErrUniqueViolation = errors.New("platform/db: unique violation")
	// ErrCheckViolation reports a violated CHECK constraint.
	ErrCheckViolation = errors.New("platform/db: check violation")
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
)

// Classify wraps known Postgres error codes with package sentinels so callers can use errors.Is.
// Unknown errors are returned as-is.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %s", ErrSerialization, pgErr.Message)
	case codeUniqueViolation:
		return fmt.Errorf("%w: %s", ErrUniqueViolation, pgErr.ConstraintName)
	case codeCheckViolation:
		return fmt.Errorf("%w: %s", ErrCheckViolation, pgErr.ConstraintName)
	}
	return err
}
