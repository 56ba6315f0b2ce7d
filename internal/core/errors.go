package core

import "fmt"

// InitError means the backend could not be initialized. It is fatal for the
// whole run.
type InitError struct {
	Backend string
	Model   string
	Err     error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initialize %s backend with model %s: %v", e.Backend, e.Model, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// GenerationError is a failed backend call for one field.
type GenerationError struct {
	Field   string
	Backend string
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate %q ontology with %s: %v", e.Field, e.Backend, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// WriteError is a failure persisting one field's artifact.
type WriteError struct {
	Field   string
	Backend string
	Path    string
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store %q ontology from %s at %s: %v", e.Field, e.Backend, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
