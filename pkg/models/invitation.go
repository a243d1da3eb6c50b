package models

import (
	"time"

	"github.com/google/uuid"
)

// ServerInvitation is a code that lets a user join a server until it expires.
type ServerInvitation struct {
	ID        uuid.UUID `json:"id"`
	ServerID  uuid.UUID `json:"server_id"`
	CreatorID uuid.UUID `json:"creator_id"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the invitation can no longer be consumed.
func (i ServerInvitation) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// CreateInvitationRequest is the payload for creating an invitation.
type CreateInvitationRequest struct {
	// TTL in seconds; defaults to 7 days when zero.
	TTLSeconds int `json:"ttl_seconds"`
}
