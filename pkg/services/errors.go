// Package services holds the request-level business logic between the HTTP
// handlers and the stores: submit validation, status assembly, cancellation,
// and the music selection flow.
package services

import "fmt"

// ValidationError rejects a request before it reaches the queue. Code is the
// stable wire contract; Message is for humans.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invalid(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}
