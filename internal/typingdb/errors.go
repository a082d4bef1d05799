package typingdb

import (
	"errors"
	"fmt"
)

// ErrorCategory normalizes upstream failure modes across provider adapters.
type ErrorCategory string

const (
	// CategoryTimeout indicates the upstream service took too long to respond.
	CategoryTimeout ErrorCategory = "timeout"

	// CategoryUnavailable indicates a transport failure or 5xx response.
	CategoryUnavailable ErrorCategory = "unavailable"

	// CategoryNotFound indicates the database, schema, or locus does not exist upstream.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryInvalidRequest indicates the upstream rejected the request (other 4xx).
	CategoryInvalidRequest ErrorCategory = "invalid_request"

	// CategoryBadData indicates the upstream returned a payload we could not parse.
	CategoryBadData ErrorCategory = "bad_data"

	// CategoryInternal indicates an unexpected local error.
	CategoryInternal ErrorCategory = "internal"
)

// Sentinel errors services and transports match on. FetchError links into
// these via Is, so errors.Is(err, ErrNotFound) works on categorized failures.
var (
	ErrUnavailable = errors.New("typing database unavailable")
	ErrNotFound    = errors.New("not found")
)

// FetchError wraps a provider failure with its normalized category. Retryable
// follows from the category: timeouts and outages are worth retrying, 4xx and
// malformed payloads are not.
type FetchError struct {
	Category   ErrorCategory
	Database   string
	Resource   string
	Underlying error
}

func (e *FetchError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s %s [%s]: %v", e.Database, e.Resource, e.Category, e.Underlying)
	}
	return fmt.Sprintf("%s %s [%s]", e.Database, e.Resource, e.Category)
}

func (e *FetchError) Unwrap() error {
	return e.Underlying
}

// Is maps categories onto the sentinel errors.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrUnavailable:
		return e.Category == CategoryTimeout || e.Category == CategoryUnavailable
	case ErrNotFound:
		return e.Category == CategoryNotFound
	}
	return false
}

// Retryable reports whether the failure is transient.
func (e *FetchError) Retryable() bool {
	return e.Category == CategoryTimeout || e.Category == CategoryUnavailable
}

// NewFetchError builds a categorized fetch failure for a database resource.
func NewFetchError(category ErrorCategory, database, resource string, underlying error) *FetchError {
	return &FetchError{
		Category:   category,
		Database:   database,
		Resource:   resource,
		Underlying: underlying,
	}
}

// IsRetryable checks whether an error is worth retrying under the backoff policy.
func IsRetryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}

// CategoryOf extracts the normalized category, defaulting to internal.
func CategoryOf(err error) ErrorCategory {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Category
	}
	return CategoryInternal
}
