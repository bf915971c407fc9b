package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetDashboard handles GET /api/v1/dashboard. Reads never block on
// computation; a stale view is served while a refresh runs behind it.
func (s *Server) GetDashboard(c *gin.Context) {
	view, err := s.dashboard.Get(c.Request.Context(), identity(c).UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
