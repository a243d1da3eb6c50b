package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/beep-industries/communities/pkg/models"
)

func (s *Server) handleCreateChannel(c *gin.Context) {
	serverID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req models.CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	channel, err := s.channels.Create(c.Request.Context(), serverID, currentUser(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, channel)
}

func (s *Server) handleListChannels(c *gin.Context) {
	serverID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	channels, err := s.channels.ListByServer(c.Request.Context(), serverID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, channels)
}

func (s *Server) handleUpdateChannel(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req models.UpdateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	channel, err := s.channels.Update(c.Request.Context(), id, currentUser(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, channel)
}

func (s *Server) handleDeleteChannel(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := s.channels.Delete(c.Request.Context(), id, currentUser(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
