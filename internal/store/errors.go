package store

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced unchanged to the HTTP layer, which performs the
// single translation to status codes.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
)

// NotFoundError wraps ErrNotFound with the resource kind and id.
func NotFoundError(kind, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
}

// AlreadyExistsError wraps ErrAlreadyExists with the resource kind and id.
func AlreadyExistsError(kind, id string) error {
	return fmt.Errorf("%w: %s %q", ErrAlreadyExists, kind, id)
}

// BackendError wraps a storage-driver failure so driver-specific error types
// never leak past the store boundary.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("store backend failure in %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Sanitize returns a copy of the resource with write-only fields removed.
// It is applied on every outbound path; passwords must never appear in a
// response, including the one for the create that carried them.
func Sanitize(resource Resource) Resource {
	out := make(Resource, len(resource))
	for k, v := range resource {
		out[k] = v
	}
	for _, sensitive := range sensitiveFields {
		delete(out, sensitive)
	}
	return out
}

var sensitiveFields = []string{"password"}
