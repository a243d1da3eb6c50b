package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/beep-industries/communities/pkg/models"
)

func (s *Server) handleRequestFriend(c *gin.Context) {
	var req models.CreateFriendshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	friendship, err := s.friends.Request(c.Request.Context(), currentUser(c), req.AddresseeID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, friendship)
}

func (s *Server) handleListFriends(c *gin.Context) {
	friendships, err := s.friends.ListForUser(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, friendships)
}

func (s *Server) handleAcceptFriend(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	friendship, err := s.friends.Accept(c.Request.Context(), id, currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, friendship)
}

func (s *Server) handleDeclineFriend(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	friendship, err := s.friends.Decline(c.Request.Context(), id, currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, friendship)
}
