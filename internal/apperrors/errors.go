package apperrors

import (
	"errors"
	"fmt"
)

// RetryableError marks a failure that may succeed on a later attempt, for
// example a dropped database connection or a redelivered event.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps err with a formatted message and marks it retryable.
func NewRetryable(err error, message string, args ...interface{}) error {
	return &RetryableError{Err: fmt.Errorf(message+": %w", append(args, err)...)}
}

// FatalError marks a failure that will not go away by retrying.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatal wraps err with a formatted message and marks it fatal.
func NewFatal(err error, message string, args ...interface{}) error {
	return &FatalError{Err: fmt.Errorf(message+": %w", append(args, err)...)}
}

// Sentinel errors checked with errors.Is. Expected negative outcomes of the
// assignment engine (no rule, no assignee, gate closed) are values, not errors.
var (
	// ErrNotFound is returned when a lead, user or rule does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrValidation is returned when a payload or rule definition is malformed.
	ErrValidation = errors.New("validation failed")
	// ErrDatabase wraps any persistence failure not mapped to a narrower sentinel.
	ErrDatabase = errors.New("database error")
	// ErrNATS wraps JetStream publish and subscribe failures.
	ErrNATS = errors.New("nats communication error")
	// ErrDuplicate is a unique constraint violation.
	ErrDuplicate = errors.New("duplicate resource")
	// ErrConflict is an optimistic concurrency failure, e.g. a lost assignee claim.
	ErrConflict = errors.New("resource conflict")
	// ErrBadRequest is a malformed request from the caller.
	ErrBadRequest = errors.New("bad request")
	// ErrTimeout is an operation that ran out of time.
	ErrTimeout = errors.New("operation timeout")
	// ErrUnavailable is an upstream dependency that could not be reached.
	ErrUnavailable = errors.New("upstream unavailable")
)

// IsRetryable reports whether err is or wraps a RetryableError.
func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

// IsFatal reports whether err is or wraps a FatalError.
func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabase)
}

func IsNATSError(err error) bool {
	return errors.Is(err, ErrNATS)
}

func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

func IsConflictError(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsBadRequestError(err error) bool {
	return errors.Is(err, ErrBadRequest)
}

func IsTimeoutError(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func IsUnavailableError(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
