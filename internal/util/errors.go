package util

import "errors"

// Sentinel errors for common failure modes
var (
	// ErrCorrupt indicates an audio stream failed its integrity check
	ErrCorrupt = errors.New("corrupt stream")

	// ErrNotFound indicates a required resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidLocator indicates a job was submitted with an origin locator
	// the selected source kind cannot handle
	ErrInvalidLocator = errors.New("invalid locator")

	// ErrNotCancellable indicates a cancellation request arrived after the
	// job had already entered the importing stage
	ErrNotCancellable = errors.New("job is no longer cancellable")

	// ErrConstraint indicates a database uniqueness constraint was violated
	ErrConstraint = errors.New("constraint violation")
)
