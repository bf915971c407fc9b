package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skylark-media/atelier/pkg/models"
)

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, models.CodeProvider5xx, classifyStatus(500))
	assert.Equal(t, models.CodeProvider5xx, classifyStatus(503))
	assert.Equal(t, models.CodeProvider5xx, classifyStatus(429), "rate limiting retries like a 5xx")
	assert.Equal(t, models.CodeProvider4xx, classifyStatus(400))
	assert.Equal(t, models.CodeProvider4xx, classifyStatus(404))
	assert.Equal(t, models.CodeProvider4xx, classifyStatus(422))
}

func TestErrorTransient(t *testing.T) {
	transient := []string{models.CodeProvider5xx, models.CodeProviderTimeout, models.CodeNetworkError}
	for _, code := range transient {
		e := &Error{Provider: "tts", Code: code}
		assert.True(t, e.Transient(), "%s should be transient", code)
	}
	permanent := []string{models.CodeProvider4xx, models.CodeContentPolicyViolation, models.CodeInvalidFaceInput}
	for _, code := range permanent {
		e := &Error{Provider: "tts", Code: code}
		assert.False(t, e.Transient(), "%s should be permanent", code)
	}
}

func TestClassify(t *testing.T) {
	code, transient := Classify(&Error{Provider: "music", Code: models.CodeProvider4xx})
	assert.Equal(t, models.CodeProvider4xx, code)
	assert.False(t, transient)

	// Wrapped provider errors still classify by their code.
	wrapped := fmt.Errorf("submitting: %w", &Error{Provider: "music", Code: models.CodeProvider5xx})
	code, transient = Classify(wrapped)
	assert.Equal(t, models.CodeProvider5xx, code)
	assert.True(t, transient)

	code, transient = Classify(context.DeadlineExceeded)
	assert.Equal(t, models.CodeProviderTimeout, code)
	assert.True(t, transient)

	// Unknown errors get another look via requeue.
	code, transient = Classify(errors.New("connection reset"))
	assert.Equal(t, models.CodeNetworkError, code)
	assert.True(t, transient)
}

func TestWrapTransportError(t *testing.T) {
	e := wrapTransportError("image", context.DeadlineExceeded)
	assert.Equal(t, models.CodeProviderTimeout, e.Code)

	e = wrapTransportError("image", errors.New("dial tcp: connection refused"))
	assert.Equal(t, models.CodeNetworkError, e.Code)
	assert.Equal(t, "image", e.Provider)
}
