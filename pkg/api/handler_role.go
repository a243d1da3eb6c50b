package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/beep-industries/communities/pkg/models"
)

func (s *Server) handleCreateRole(c *gin.Context) {
	serverID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req models.CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	role, err := s.roles.Create(c.Request.Context(), serverID, currentUser(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, role)
}

func (s *Server) handleListRoles(c *gin.Context) {
	serverID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	roles, err := s.roles.ListByServer(c.Request.Context(), serverID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, roles)
}

func (s *Server) handleAssignRole(c *gin.Context) {
	roleID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	memberID, ok := pathUUID(c, "memberID")
	if !ok {
		return
	}
	if err := s.roles.Assign(c.Request.Context(), roleID, memberID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
