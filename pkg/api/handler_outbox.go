package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// handleOutboxBacklog exposes the READY backlog for operators. Read-only:
// status mutation stays with the dispatcher.
func (s *Server) handleOutboxBacklog(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid page"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(s.cfg.Outbox.BacklogPageSize)))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid limit"})
		return
	}

	messages, total, err := s.outboxStore.FetchBacklog(c.Request.Context(), page, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, paginatedResponse{
		Items: messages,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}
