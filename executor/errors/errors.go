// Package errors defines the error taxonomy of the execution engine.
//
// Speculative conflicts (blocked reads, stale writes) are retryable and never
// escape the engine: the scheduler consumes them and converts them into
// abort/retry decisions. Invariant violations are failures: they indicate a
// bug in the engine, stop the block, and surface to the caller.
package errors

import (
	"errors"
	"fmt"

	"github.com/sslab/parex/model/txn"
)

type ErrorCode uint16

func (ec ErrorCode) String() string {
	return fmt.Sprintf("[Error Code: %d]", ec)
}

const (
	// speculative conflicts 1100 - 1149 (retryable, internal)
	ErrCodeReadConflictError ErrorCode = 1100
	ErrCodeStaleWriteError   ErrorCode = 1101

	// failures 2100 - 2149 (fatal)
	FailureCodeInvariantViolation ErrorCode = 2100
)

// A ReadConflictError reports a read that observed an estimate entry: some
// lower-index transaction has a write in flight for the key. The reader must
// be suspended (or lazily invalidated) rather than served stale state.
type ReadConflictError struct {
	Key      txn.Key
	Blocking txn.Index
}

func NewReadConflictError(key txn.Key, blocking txn.Index) ReadConflictError {
	return ReadConflictError{Key: key, Blocking: blocking}
}

func (e ReadConflictError) Error() string {
	return fmt.Sprintf(
		"%s read of key %q blocked on transaction %d",
		ErrCodeReadConflictError,
		e.Key,
		e.Blocking)
}

// IsReadConflictError returns true if the error chain contains a
// ReadConflictError.
func IsReadConflictError(err error) bool {
	var t ReadConflictError
	return errors.As(err, &t)
}

// AsReadConflictError unpacks the blocking index from a read conflict.
func AsReadConflictError(err error) (ReadConflictError, bool) {
	var t ReadConflictError
	ok := errors.As(err, &t)
	return t, ok
}

// A StaleWriteError reports a write by an incarnation that has already been
// superseded: a newer incarnation of the same transaction index installed its
// entry first. The stale attempt's output must be discarded.
type StaleWriteError struct {
	Key      txn.Key
	Stale    txn.Version
	Existing txn.Version
}

func NewStaleWriteError(key txn.Key, stale, existing txn.Version) StaleWriteError {
	return StaleWriteError{Key: key, Stale: stale, Existing: existing}
}

func (e StaleWriteError) Error() string {
	return fmt.Sprintf(
		"%s write of key %q by stale version %s superseded by %s",
		ErrCodeStaleWriteError,
		e.Key,
		e.Stale,
		e.Existing)
}

func IsStaleWriteError(err error) bool {
	var t StaleWriteError
	return errors.As(err, &t)
}

// An InvariantViolationFailure indicates the engine's own bookkeeping broke
// (for example, validating a transaction that has no recorded read-set, or
// committing incarnations out of order). It is not recoverable; the block
// must stop loudly rather than silently produce wrong state.
type InvariantViolationFailure struct {
	msg string
}

func NewInvariantViolationFailuref(msg string, args ...interface{}) InvariantViolationFailure {
	return InvariantViolationFailure{
		msg: fmt.Sprintf(msg, args...),
	}
}

func (e InvariantViolationFailure) Error() string {
	return fmt.Sprintf("%s invariant violation: %s", FailureCodeInvariantViolation, e.msg)
}

func IsInvariantViolationFailure(err error) bool {
	var t InvariantViolationFailure
	return errors.As(err, &t)
}
