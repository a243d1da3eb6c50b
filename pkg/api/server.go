// Package api provides the HTTP API for the communities service.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/beep-industries/communities/pkg/config"
	"github.com/beep-industries/communities/pkg/database"
	"github.com/beep-industries/communities/pkg/outbox"
	"github.com/beep-industries/communities/pkg/services"
	"github.com/beep-industries/communities/pkg/version"
)

// Server wires the gin router to the domain services.
type Server struct {
	cfg      *config.Config
	dbClient *database.Client

	servers     *services.ServerService
	channels    *services.ChannelService
	roles       *services.RoleService
	members     *services.MemberService
	friends     *services.FriendshipService
	invitations *services.InvitationService
	outboxStore *outbox.Store
}

// NewServer creates the API server.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	servers *services.ServerService,
	channels *services.ChannelService,
	roles *services.RoleService,
	members *services.MemberService,
	friends *services.FriendshipService,
	invitations *services.InvitationService,
	outboxStore *outbox.Store,
) *Server {
	return &Server{
		cfg:         cfg,
		dbClient:    dbClient,
		servers:     servers,
		channels:    channels,
		roles:       roles,
		members:     members,
		friends:     friends,
		invitations: invitations,
		outboxStore: outboxStore,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.Default()

	router.GET("/health", s.handleHealth)

	v1 := router.Group("/api/v1", authMiddleware(s.cfg.Auth.JWTSecret))
	{
		v1.POST("/servers", s.handleCreateServer)
		v1.GET("/servers", s.handleListServers)
		v1.GET("/servers/:id", s.handleGetServer)
		v1.DELETE("/servers/:id", s.handleDeleteServer)

		v1.POST("/servers/:id/channels", s.handleCreateChannel)
		v1.GET("/servers/:id/channels", s.handleListChannels)
		v1.PATCH("/channels/:id", s.handleUpdateChannel)
		v1.DELETE("/channels/:id", s.handleDeleteChannel)

		v1.POST("/servers/:id/roles", s.handleCreateRole)
		v1.GET("/servers/:id/roles", s.handleListRoles)
		v1.POST("/roles/:id/members/:memberID", s.handleAssignRole)

		v1.GET("/servers/:id/members", s.handleListMembers)
		v1.DELETE("/members/:id", s.handleRemoveMember)

		v1.POST("/friends", s.handleRequestFriend)
		v1.GET("/friends", s.handleListFriends)
		v1.POST("/friends/:id/accept", s.handleAcceptFriend)
		v1.POST("/friends/:id/decline", s.handleDeclineFriend)

		v1.POST("/servers/:id/invitations", s.handleCreateInvitation)
		v1.GET("/invitations/:code", s.handleGetInvitation)
		v1.POST("/invitations/:code/join", s.handleJoinByInvitation)

		v1.GET("/outbox", s.handleOutboxBacklog)
	}

	return router
}

// handleHealth reports DB health and pool stats.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.dbClient.Pool())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"version":  version.Full(),
		"database": dbHealth,
	})
}
