package models

import (
	"errors"
)

// Error taxonomy shared by the pipeline. Callers wrap these with fmt.Errorf("...: %w")
// and classify with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation error")

	// ErrInput marks a missing or unreadable input file. Never retried.
	ErrInput = errors.New("input error")
	// ErrConfig marks bad or missing credentials and provider settings. Never retried.
	ErrConfig = errors.New("configuration error")
	// ErrTransient marks a provider-side failure that may succeed on a later attempt.
	ErrTransient = errors.New("transient provider error")
	// ErrMerge marks a combine step that produced no usable transcript.
	ErrMerge = errors.New("merge error")
)

// Retryable reports whether err is worth another recognition attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrConfig) && !errors.Is(err, ErrInput)
}
