package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for database operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrTransactionConflict indicates a SurrealDB transaction conflict.
	// The batch was not written; callers may resubmit it.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrSchemaViolation indicates a field assertion failed.
	ErrSchemaViolation = errors.New("schema violation")
)

// wrapQueryError inspects a SurrealDB error and wraps it with the appropriate
// sentinel error if it's a known query error type. Returns the original error
// if it's not a QueryError or doesn't match known patterns.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		switch {
		case strings.Contains(msg, "Transaction conflict"):
			return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
		case strings.Contains(msg, "Found") && strings.Contains(msg, "but field"):
			return fmt.Errorf("%w: %s", ErrSchemaViolation, msg)
		}
	}

	return err
}
