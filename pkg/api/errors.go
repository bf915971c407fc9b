package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skylark-media/atelier/pkg/services"
	"github.com/skylark-media/atelier/pkg/store"
)

// errorBody is the uniform error envelope: a stable code plus a
// human-readable message.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func abortWithCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{Code: code, Message: message}})
}

// respondError maps service and store errors to HTTP responses. Validation
// failures surface their taxonomy code; unexpected errors are logged and
// masked.
func (s *Server) respondError(c *gin.Context, err error) {
	var v *services.ValidationError
	switch {
	case errors.As(err, &v):
		abortWithCode(c, http.StatusBadRequest, v.Code, v.Message)
	case errors.Is(err, store.ErrNotFound):
		abortWithCode(c, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, store.ErrConflict):
		abortWithCode(c, http.StatusConflict, "conflict", "resource already exists")
	case errors.Is(err, store.ErrInvalidState):
		abortWithCode(c, http.StatusConflict, "conflict", "resource is not in a valid state for this operation")
	default:
		s.logger.ErrorContext(c.Request.Context(), "unexpected service error",
			"path", c.FullPath(), "error", err)
		abortWithCode(c, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
