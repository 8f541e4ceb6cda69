package store

import "fmt"

// NotFoundError indicates the resource was not found.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a client-side validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// PreconditionError indicates the transfer cannot start because a required
// record is missing or in the wrong state. Nothing has been mutated.
type PreconditionError struct {
	Message string
	Err     error
}

func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("precondition failed: %s: %v", e.Message, e.Err)
	}
	return "precondition failed: " + e.Message
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// ConflictError indicates a concurrent operation holds the resource.
type ConflictError struct {
	Message string
	Code    string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// PersistenceError indicates the authorship change could not be committed.
type PersistenceError struct {
	ObjectID string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist author for %s: %v", e.ObjectID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
