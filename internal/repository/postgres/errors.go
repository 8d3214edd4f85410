package postgres

import (
	"errors"
	"fmt"

	"chat-broker/internal/domain"

	"github.com/lib/pq"
)

const (
	pqUniqueViolation         = "23505"
	pqInsufficientPrivilege   = "42501"
	messageSequenceConstraint = "room_messages_room_id_seq_key"
)

// IsUniqueViolation checks if an error is a PostgreSQL unique constraint violation
// If constraint is empty, it returns true for any unique violation
// If constraint is specified, it only returns true for that specific constraint
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	if string(pqErr.Code) != pqUniqueViolation {
		return false
	}

	if constraint == "" {
		return true
	}

	return pqErr.Constraint == constraint
}

// IsInsufficientPrivilege checks if the database role may not perform the statement
func IsInsufficientPrivilege(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == pqInsufficientPrivilege
}

// translateError maps driver faults onto domain errors, keeping the cause
func translateError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsInsufficientPrivilege(err):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrPermissionDenied, err)
	case IsUniqueViolation(err, messageSequenceConstraint):
		// another writer took the sequence number; the caller may retry
		return fmt.Errorf("%s: sequence conflict: %w: %w", op, domain.ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
	}
}
