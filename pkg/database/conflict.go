package database

import (
	"errors"

	"github.com/lib/pq"
)

const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"
)

// IsConflict reports whether err is a Postgres error that a caller can
// resolve by retrying the whole read-decide-write sequence: a serialization
// failure, a deadlock, or a unique violation from a concurrent insert.
func IsConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch string(pqErr.Code) {
	case pqSerializationFailure, pqDeadlockDetected, pqUniqueViolation:
		return true
	}
	return false
}
