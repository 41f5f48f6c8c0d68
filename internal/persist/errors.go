package persist

import (
	"errors"
	"fmt"
)

// IntegrityError reports identifier or natural-identifier tampering:
// the caller mutated a field that must never change after load. This
// is a programming error, fatal to the flush, never retried.
type IntegrityError struct {
	EntityName string
	ID         any
	Property   string
	Message    string
}

func (e *IntegrityError) Error() string {
	if e.Property != "" {
		return fmt.Sprintf("integrity violation on %s#%v property %s: %s",
			e.EntityName, e.ID, e.Property, e.Message)
	}
	return fmt.Sprintf("integrity violation on %s#%v: %s", e.EntityName, e.ID, e.Message)
}

// ConcurrencySafetyError reports that unit-of-work state changed
// underneath the flush, which means the session was driven from more
// than one goroutine. Fatal, indicates misuse.
type ConcurrencySafetyError struct {
	EntityName string
	ID         any
	Message    string
}

func (e *ConcurrencySafetyError) Error() string {
	return fmt.Sprintf("concurrency safety violation on %s#%v: %s", e.EntityName, e.ID, e.Message)
}

// StaleStateError reports an optimistic concurrency failure: the row
// vanished, never existed, or its version no longer matches. The
// surrounding transaction may retry as a whole; the flush does not.
type StaleStateError struct {
	EntityName string
	ID         any
	Message    string
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("stale state for %s#%v: %s", e.EntityName, e.ID, e.Message)
}

// AssertionError reports an internal invariant violation.
// Non-recoverable.
type AssertionError struct {
	Message string
}

func (e *AssertionError) Error() string {
	return "assertion failure: " + e.Message
}

// IsIntegrity reports whether err is an IntegrityError, unwrapping.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// IsConcurrencySafety reports whether err is a
// ConcurrencySafetyError, unwrapping.
func IsConcurrencySafety(err error) bool {
	var ce *ConcurrencySafetyError
	return errors.As(err, &ce)
}

// IsStaleState reports whether err is a StaleStateError, unwrapping.
func IsStaleState(err error) bool {
	var se *StaleStateError
	return errors.As(err, &se)
}

// IsAssertion reports whether err is an AssertionError, unwrapping.
func IsAssertion(err error) bool {
	var ae *AssertionError
	return errors.As(err, &ae)
}
