package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skylark-media/atelier/pkg/models"
	"github.com/skylark-media/atelier/pkg/support"
)

type openSupportSessionRequest struct {
	Surface   string     `json:"surface"`
	ProjectID *uuid.UUID `json:"project_id"`
	JobID     *uuid.UUID `json:"job_id"`
}

// OpenSupportSession handles POST /api/v1/support/sessions. The session
// belongs to the acting user regardless of which bearer opened it.
func (s *Server) OpenSupportSession(c *gin.Context) {
	var req openSupportSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithCode(c, http.StatusBadRequest, models.CodeBadRequest, err.Error())
		return
	}
	sess := &models.SupportSession{
		UserID:    identity(c).UserID,
		Surface:   req.Surface,
		ProjectID: req.ProjectID,
		JobID:     req.JobID,
	}
	if err := s.support.OpenSession(c.Request.Context(), sess); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// GetSupportSession handles GET /api/v1/support/sessions/:id.
func (s *Server) GetSupportSession(c *gin.Context) {
	sess, ok := s.ownedSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess)
}

type appendSupportEventRequest struct {
	Kind    models.SupportEventKind `json:"kind" binding:"required"`
	Payload json.RawMessage         `json:"payload"`
}

// AppendSupportEvent handles POST /api/v1/support/sessions/:id/events. User
// bearers append as the user; service bearers append as admin impersonating
// the actor user, which the hash chain records permanently.
func (s *Server) AppendSupportEvent(c *gin.Context) {
	sess, ok := s.ownedSession(c)
	if !ok {
		return
	}
	var req appendSupportEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithCode(c, http.StatusBadRequest, models.CodeBadRequest, err.Error())
		return
	}

	id := identity(c)
	ev := &models.SupportEvent{
		SessionID: sess.ID,
		Kind:      req.Kind,
		ActorType: models.ActorUser,
		ActorID:   id.UserID,
		Payload:   req.Payload,
	}
	if id.Service {
		ev.ActorType = models.ActorAdmin
		impersonated := id.UserID
		ev.ImpersonatedUserID = &impersonated
	}
	if err := s.support.Append(c.Request.Context(), ev); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

// ListSupportEvents handles GET /api/v1/support/sessions/:id/events.
func (s *Server) ListSupportEvents(c *gin.Context) {
	sess, ok := s.ownedSession(c)
	if !ok {
		return
	}
	events, err := s.support.Events(c.Request.Context(), sess.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// VerifySupportChain handles POST /api/v1/support/sessions/:id/verify. A
// broken chain is reported with the first bad link, not an error status; the
// verification itself succeeded.
func (s *Server) VerifySupportChain(c *gin.Context) {
	sess, ok := s.ownedSession(c)
	if !ok {
		return
	}
	err := s.support.VerifyChain(c.Request.Context(), sess.ID)
	var chainErr *support.ChainError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"valid": true})
	case errors.As(err, &chainErr):
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"broken_at": gin.H{
				"event_id": chainErr.EventID,
				"index":    chainErr.Index,
				"reason":   chainErr.Reason,
			},
		})
	default:
		s.respondError(c, err)
	}
}

// ownedSession loads the session and enforces ownership for user bearers.
// Service bearers may reach any session their actor context allows.
func (s *Server) ownedSession(c *gin.Context) (*models.SupportSession, bool) {
	sessionID, ok := pathUUID(c, "id")
	if !ok {
		return nil, false
	}
	sess, err := s.support.Session(c.Request.Context(), sessionID)
	if err != nil {
		s.respondError(c, err)
		return nil, false
	}
	id := identity(c)
	if !id.Service && sess.UserID != id.UserID {
		abortWithCode(c, http.StatusNotFound, "not_found", "resource not found")
		return nil, false
	}
	return sess, true
}
