// Package vexerr defines the error taxonomy shared across the database
// core. Every component returns these sentinels (wrapped with context via
// fmt.Errorf("...: %w", ...)) so callers can branch with errors.Is rather
// than matching strings.
package vexerr

import "errors"

var (
	// ErrDimensionMismatch: a vector's length is not 384. Not recoverable;
	// surfaced to the caller.
	ErrDimensionMismatch = errors.New("vexgraph: vector dimension mismatch")

	// ErrNotFound: an id does not exist. Recoverable — callers treat it as
	// null/false rather than a failure.
	ErrNotFound = errors.New("vexgraph: not found")

	// ErrAlreadyExists: create was attempted against an id already present.
	ErrAlreadyExists = errors.New("vexgraph: already exists")

	// ErrReadOnly: a write was attempted against a read-only handle.
	ErrReadOnly = errors.New("vexgraph: database is read-only")

	// ErrInvalidInput: a null/ill-formed argument reached a public operation.
	ErrInvalidInput = errors.New("vexgraph: invalid input")

	// ErrInvalidTransactionState: an operation targeted a transaction that
	// is not in a state that permits it (e.g. already terminal).
	ErrInvalidTransactionState = errors.New("vexgraph: invalid transaction state")

	// ErrTransactionTimeout: a whole-transaction timeout elapsed.
	ErrTransactionTimeout = errors.New("vexgraph: transaction timeout")

	// ErrOperationTimeout: a per-operation timeout elapsed.
	ErrOperationTimeout = errors.New("vexgraph: operation timeout")

	// ErrStorageFail: the underlying blob store returned a non-transient
	// error after retries were exhausted.
	ErrStorageFail = errors.New("vexgraph: storage failure")

	// ErrThrottled: the underlying blob store signalled rate limiting.
	ErrThrottled = errors.New("vexgraph: storage throttled")

	// ErrCorruption: serialized state failed validation on read.
	ErrCorruption = errors.New("vexgraph: corrupted record")

	// ErrCapacityExceeded: a configured size ceiling (e.g. metadata index)
	// was reached in strict mode.
	ErrCapacityExceeded = errors.New("vexgraph: capacity exceeded")

	// ErrConcurrentWrite: the single-writer invariant was violated
	// internally.
	ErrConcurrentWrite = errors.New("vexgraph: concurrent write detected")
)
