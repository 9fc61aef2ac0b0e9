package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"medledger/internal/core/apperror"
)

// Postgres error codes that mean "another transaction got there first".
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
)

// IsLockConflict reports whether err is a deadlock, serialization
// failure or lock timeout. Callers translate these to
// CONCURRENT_MODIFICATION so domain retry loops can react.
func IsLockConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return true
	}
	return false
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// IsForeignKeyViolation reports whether err is a foreign key violation.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation
}

// TranslateLockError converts lock conflicts into the domain error the
// posting retry loops expect; other errors pass through unchanged.
func TranslateLockError(err error, entity string, entityID any) error {
	if err == nil {
		return nil
	}
	if IsLockConflict(err) {
		return apperror.NewConcurrentModification(entity, entityID).WithCause(err)
	}
	return err
}
