package models

import "fmt"

// ValidationError reports a missing or invalid client-supplied field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown blob name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%q not found", e.Name)
}

// PersistenceError reports a failed durable write. The operation that hit it
// must not be acknowledged.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// MalformedPayloadError reports a realtime message that could not be decoded.
type MalformedPayloadError struct {
	Err error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed payload: %v", e.Err)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }
