package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skylark-media/atelier/pkg/models"
)

// ListCandidates handles GET /api/v1/music/jobs/:id/candidates.
func (s *Server) ListCandidates(c *gin.Context) {
	jobID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	candidates, err := s.jobs.ListCandidates(c.Request.Context(), jobID, identity(c).UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}

type selectCandidateRequest struct {
	CandidateID uuid.UUID `json:"candidate_id" binding:"required"`
}

// SelectCandidate handles POST /api/v1/music/jobs/:id/select. Selecting
// unparks the job so the worker finalizes the chosen track.
func (s *Server) SelectCandidate(c *gin.Context) {
	jobID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req selectCandidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithCode(c, http.StatusBadRequest, models.CodeBadRequest, err.Error())
		return
	}
	chosen, err := s.jobs.SelectCandidate(c.Request.Context(), jobID, req.CandidateID, identity(c).UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"selected": chosen})
}
