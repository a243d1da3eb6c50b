// Package models defines the row types shared by services, handlers, and the
// outbox subsystem.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Server is a community server owned by a user.
type Server struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	OwnerID   uuid.UUID `json:"owner_id"`
	IconURL   string    `json:"icon_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateServerRequest is the payload for creating a server.
type CreateServerRequest struct {
	Name    string `json:"name" binding:"required"`
	IconURL string `json:"icon_url"`
}
