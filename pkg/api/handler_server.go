package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/beep-industries/communities/pkg/models"
)

func (s *Server) handleCreateServer(c *gin.Context) {
	var req models.CreateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	server, err := s.servers.Create(c.Request.Context(), currentUser(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, server)
}

func (s *Server) handleListServers(c *gin.Context) {
	servers, err := s.servers.ListForUser(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, servers)
}

func (s *Server) handleGetServer(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	server, err := s.servers.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, server)
}

func (s *Server) handleDeleteServer(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := s.servers.Delete(c.Request.Context(), id, currentUser(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
