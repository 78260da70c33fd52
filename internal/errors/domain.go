// Package errors defines the domain error values shared across services.
// Each error carries a machine-checkable code and a kind used by the HTTP
// layer to pick a status, plus a human-readable reason.
package errors

import "fmt"

// Kind classifies a domain error for transport mapping.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindForbidden  Kind = "forbidden"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindSignature  Kind = "signature"
	KindExternal   Kind = "external"
)

type DomainError struct {
	Code    string
	Message string
	Kind    Kind
}

func (e *DomainError) Error() string {
	return e.Message
}

// Is matches by code, so errors derived via WithMessage still compare
// equal to their sentinel under errors.Is.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

// WithMessage returns a copy of the error with a more specific reason,
// keeping the code and kind intact.
func (e *DomainError) WithMessage(format string, args ...interface{}) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: fmt.Sprintf(format, args...),
		Kind:    e.Kind,
	}
}
