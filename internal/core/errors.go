package core

import "fmt"

// ValidationError reports a required request field that was left out.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// StorageError wraps a session store failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// UpstreamProviderError wraps a failure of the completion provider while
// opening or reading its stream.
type UpstreamProviderError struct {
	ModelID string
	Err     error
}

func (e *UpstreamProviderError) Error() string {
	return fmt.Sprintf("provider error for model %s: %v", e.ModelID, e.Err)
}

func (e *UpstreamProviderError) Unwrap() error { return e.Err }
