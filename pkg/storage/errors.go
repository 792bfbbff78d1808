package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("storage: invalid configuration")

	// ErrNotFound indicates the local source file was not found
	ErrNotFound = errors.New("storage: object not found")

	// ErrBucketNotFound indicates the target bucket does not exist
	ErrBucketNotFound = errors.New("storage: bucket not found")

	// ErrAccessDenied indicates the credentials may not write to the target
	ErrAccessDenied = errors.New("storage: access denied")
)

// Error represents a storage error with additional context
type Error struct {
	Op       string // Operation that failed
	Path     string // Path involved in the operation
	Provider string // Storage provider type
	Err      error  // Underlying error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("storage %s: %s failed for %s: %v", e.Provider, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("storage %s: %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new storage error
func NewError(op string, path string, provider string, err error) error {
	return &Error{
		Op:       op,
		Path:     path,
		Provider: provider,
		Err:      err,
	}
}
