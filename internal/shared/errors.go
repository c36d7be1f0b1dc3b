package shared

import "errors"

// Error kinds shared across modules. Package sentinels wrap one of these so the
// HTTP layer can map every module's errors without importing it.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates the request was rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a concurrent modification; the caller may retry.
	ErrConflict = errors.New("conflict")
)
