package scd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ValidationError reports a record missing required fields. The record
// is skipped and never reaches the store.
type ValidationError struct {
	Entity  string
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s record missing required fields: %s", e.Entity, strings.Join(e.Missing, ", "))
}

// InvariantViolationError reports that the at-most-one-current-row
// constraint kept firing even after the bounded retries. A single hit
// is a normal insert race between concurrent writers and is resolved
// by rerunning the transaction; one that persists across the retry
// budget indicates a corrupted history chain.
type InvariantViolationError struct {
	Entity string
	Key    string
	Err    error
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("current-row invariant violated for %s key %s: %v", e.Entity, e.Key, e.Err)
}

func (e *InvariantViolationError) Unwrap() error { return e.Err }

// TransientError reports a record whose upsert kept failing on transient
// store errors after the bounded retries were exhausted. The record is
// eligible for retry by the caller; inside a batch it escalates to a
// batch-level failure.
type TransientError struct {
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("upsert failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient PostgreSQL error codes: serialization failure, deadlock,
// lock timeout, statement cancel, and the whole connection-exception
// class. See https://www.postgresql.org/docs/current/errcodes-appendix.html
func isTransientPgCode(code string) bool {
	switch code {
	case "40001", "40P01", "55P03", "57014":
		return true
	}
	return strings.HasPrefix(code, "08")
}

// IsTransient reports whether err is worth retrying: connection loss,
// lock timeout, deadlock or serialization failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isTransientPgCode(pgErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}

// IsInvariantViolation reports whether err is the store's unique
// current-row constraint firing. The engine retries these alongside
// transient errors; callers see an InvariantViolationError only when
// the conflict outlives the retry budget.
func IsInvariantViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "current")
	}
	return false
}
