package models

import (
	"time"

	"github.com/google/uuid"
)

// ChannelKind discriminates text and voice channels.
type ChannelKind string

const (
	ChannelKindText  ChannelKind = "text"
	ChannelKindVoice ChannelKind = "voice"
)

// Valid reports whether k is a known channel kind.
func (k ChannelKind) Valid() bool {
	return k == ChannelKindText || k == ChannelKindVoice
}

// Channel belongs to a server.
type Channel struct {
	ID        uuid.UUID   `json:"id"`
	ServerID  uuid.UUID   `json:"server_id"`
	Name      string      `json:"name"`
	Kind      ChannelKind `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// CreateChannelRequest is the payload for creating a channel.
type CreateChannelRequest struct {
	Name string      `json:"name" binding:"required"`
	Kind ChannelKind `json:"kind" binding:"required"`
}

// UpdateChannelRequest renames a channel.
type UpdateChannelRequest struct {
	Name string `json:"name" binding:"required"`
}
