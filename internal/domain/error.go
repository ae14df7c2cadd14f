package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrConflict        = errors.New("conflicting state transition")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidArgument = errors.New("invalid argument")

	// Worker errors. Retryable covers connectivity failures and timeouts;
	// terminal covers malformed or unsupported input reported by the worker.
	ErrWorkerRetryable = errors.New("worker failure (retryable)")
	ErrWorkerTerminal  = errors.New("worker failure (terminal)")

	// Storage backend unavailable or misbehaving.
	ErrStorage = errors.New("storage failure")

	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid database execution context")
)
