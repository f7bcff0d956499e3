package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	Cause   error
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

func domainError(status int, code, message string, details any) error {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}

// notFound wraps cause (usually store.ErrNotFound) so callers can still match it.
func notFound(message string, cause error) error {
	return &DomainError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: message, Cause: cause}
}
