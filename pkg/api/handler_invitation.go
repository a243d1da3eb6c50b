package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/beep-industries/communities/pkg/models"
)

func (s *Server) handleCreateInvitation(c *gin.Context) {
	serverID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req models.CreateInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	invitation, err := s.invitations.Create(c.Request.Context(), serverID, currentUser(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invitation)
}

func (s *Server) handleGetInvitation(c *gin.Context) {
	invitation, err := s.invitations.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invitation)
}

func (s *Server) handleJoinByInvitation(c *gin.Context) {
	member, err := s.invitations.Consume(c.Request.Context(), c.Param("code"), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}
