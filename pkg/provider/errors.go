package provider

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/skylark-media/atelier/pkg/models"
)

// Error is a classified provider failure. Code is one of the stable error
// codes; Transient failures are eligible for requeue with backoff, permanent
// ones fail the job.
type Error struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Code)
}

// Transient reports whether the failure is worth retrying.
func (e *Error) Transient() bool {
	switch e.Code {
	case models.CodeProvider5xx, models.CodeProviderTimeout, models.CodeNetworkError:
		return true
	}
	return false
}

// classifyStatus maps an HTTP status to a stable error code.
func classifyStatus(status int) string {
	switch {
	case status >= 500:
		return models.CodeProvider5xx
	case status == 429:
		// Rate limiting retries like a 5xx.
		return models.CodeProvider5xx
	default:
		return models.CodeProvider4xx
	}
}

// wrapTransportError classifies a failed round trip (no HTTP response).
func wrapTransportError(provider string, err error) *Error {
	code := models.CodeNetworkError
	if errors.Is(err, context.DeadlineExceeded) {
		code = models.CodeProviderTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		code = models.CodeProviderTimeout
	}
	return &Error{Provider: provider, Code: code, Message: err.Error()}
}

// Classify extracts the stable code and retry disposition from any error
// returned by this package. Unknown errors are treated as transient network
// failures so a requeue gets another look at them.
func Classify(err error) (code string, transient bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code, pe.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.CodeProviderTimeout, true
	}
	return models.CodeNetworkError, true
}
