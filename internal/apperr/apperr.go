// Package apperr implements the service's error taxonomy: validation,
// authentication, no-coverage, transient storage, permanent storage, and
// internal invariant errors. HTTP handlers map these to status codes
// with errors.As; the aggregation worker maps them to a retry/give-up
// decision the same way, so neither layer string-matches driver errors.
package apperr

import "fmt"

// ValidationError covers malformed JSON, out-of-range fields, and
// unrecognized identifiers. Maps to HTTP 400.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("validation: %s", e.Reason) }

func Validation(reason string) error { return &ValidationError{Reason: reason} }

// AuthError covers a missing or incorrect bearer token. Maps to HTTP
// 401 with no body detail.
type AuthError struct{}

func (e *AuthError) Error() string { return "authentication failed" }

func Auth() error { return &AuthError{} }

// NoCoverageError indicates a syntactically valid locate query that
// produced no result. Maps to HTTP 404.
type NoCoverageError struct{}

func (e *NoCoverageError) Error() string { return "no_coverage" }

func NoCoverage() error { return &NoCoverageError{} }

// TransientStorageError covers connection loss and serialization
// failures. Request handlers map this to HTTP 503 with a retry hint;
// the aggregation worker retries the batch on the next loop iteration.
type TransientStorageError struct {
	Cause error
}

func (e *TransientStorageError) Error() string { return fmt.Sprintf("transient storage error: %v", e.Cause) }
func (e *TransientStorageError) Unwrap() error { return e.Cause }

func Transient(cause error) error { return &TransientStorageError{Cause: cause} }

// PermanentStorageError covers schema mismatches and constraint
// violations outside the normal contract. Logged, HTTP 500; the worker
// marks the offending report failed rather than retrying.
type PermanentStorageError struct {
	Cause error
}

func (e *PermanentStorageError) Error() string { return fmt.Sprintf("permanent storage error: %v", e.Cause) }
func (e *PermanentStorageError) Unwrap() error { return e.Cause }

func Permanent(cause error) error { return &PermanentStorageError{Cause: cause} }

// InvariantError covers detected contradictions such as a bounding box
// that does not contain its centroid, or a negative total weight. The
// system never silently corrects these; it logs at error and fails
// closed (HTTP 503).
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string { return fmt.Sprintf("internal invariant violated: %s", e.Reason) }

func Invariant(reason string) error { return &InvariantError{Reason: reason} }
