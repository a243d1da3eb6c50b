package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleListMembers(c *gin.Context) {
	serverID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	members, err := s.members.ListByServer(c.Request.Context(), serverID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, members)
}

func (s *Server) handleRemoveMember(c *gin.Context) {
	memberID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := s.members.Remove(c.Request.Context(), memberID, currentUser(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
