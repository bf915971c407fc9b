package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skylark-media/atelier/pkg/models"
)

// maxPayloadBytes bounds a submit body.
const maxPayloadBytes = 1 << 20

// SubmitJob handles POST /api/v1/:studio/jobs. The raw body is the studio
// payload; idempotency is derived from its canonical form, so callers can
// safely retry the same request.
func (s *Server) SubmitJob(c *gin.Context) {
	studioType := models.StudioType(c.Param("studio"))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes))
	if err != nil {
		abortWithCode(c, http.StatusBadRequest, models.CodeBadRequest, "reading request body failed")
		return
	}
	if len(payload) > 0 && !json.Valid(payload) {
		abortWithCode(c, http.StatusBadRequest, models.CodeBadRequest, "payload is not valid JSON")
		return
	}

	res, err := s.jobs.Submit(c.Request.Context(), identity(c).UserID, studioType, payload)
	if err != nil {
		s.respondError(c, err)
		return
	}
	status := http.StatusAccepted
	if res.Reused {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"job_id": res.Job.ID,
		"status": res.Job.Status,
		"reused": res.Reused,
	})
}

// GetJob handles GET /api/v1/jobs/:id.
func (s *Server) GetJob(c *gin.Context) {
	jobID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	view, err := s.jobs.Status(c.Request.Context(), jobID, identity(c).UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// CancelJob handles POST /api/v1/jobs/:id/cancel.
func (s *Server) CancelJob(c *gin.Context) {
	jobID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := s.jobs.Cancel(c.Request.Context(), jobID, identity(c).UserID); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.JobCanceled})
}

// pathUUID parses a UUID path parameter, responding invalid_uuid on failure.
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		abortWithCode(c, http.StatusBadRequest, models.CodeInvalidUUID,
			name+" is not a UUID")
		return uuid.Nil, false
	}
	return id, true
}
