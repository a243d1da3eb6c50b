package outbox

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/beep-industries/communities/pkg/models"
)

// Payload is a typed outbox event payload. Each kind in the routing table
// owns exactly one payload type; Decode and EncodeWire move between the
// stored JSON and these structs.
type Payload interface {
	validate() error
}

// ServerCreatePayload announces a newly created server.
type ServerCreatePayload struct {
	ServerID uuid.UUID `json:"server_id"`
	OwnerID  uuid.UUID `json:"owner_id"`
	Name     string    `json:"name,omitempty"`
}

func (p ServerCreatePayload) validate() error {
	if p.ServerID == uuid.Nil {
		return fmt.Errorf("server_id is required")
	}
	if p.OwnerID == uuid.Nil {
		return fmt.Errorf("owner_id is required")
	}
	return nil
}

// ServerDeletePayload announces a deleted server.
type ServerDeletePayload struct {
	ServerID uuid.UUID `json:"server_id"`
}

func (p ServerDeletePayload) validate() error {
	if p.ServerID == uuid.Nil {
		return fmt.Errorf("server_id is required")
	}
	return nil
}

// ChannelCreatePayload announces a newly created channel.
type ChannelCreatePayload struct {
	ChannelID uuid.UUID          `json:"channel_id"`
	ServerID  uuid.UUID          `json:"server_id"`
	Name      string             `json:"name,omitempty"`
	Kind      models.ChannelKind `json:"kind,omitempty"`
}

func (p ChannelCreatePayload) validate() error {
	if p.ChannelID == uuid.Nil {
		return fmt.Errorf("channel_id is required")
	}
	if p.ServerID == uuid.Nil {
		return fmt.Errorf("server_id is required")
	}
	if p.Kind != "" && !p.Kind.Valid() {
		return fmt.Errorf("invalid channel kind %q", p.Kind)
	}
	return nil
}

// ChannelDeletePayload announces a deleted channel.
type ChannelDeletePayload struct {
	ChannelID uuid.UUID `json:"channel_id"`
	ServerID  uuid.UUID `json:"server_id"`
}

func (p ChannelDeletePayload) validate() error {
	if p.ChannelID == uuid.Nil {
		return fmt.Errorf("channel_id is required")
	}
	if p.ServerID == uuid.Nil {
		return fmt.Errorf("server_id is required")
	}
	return nil
}

// RoleCreatePayload announces a newly created role.
type RoleCreatePayload struct {
	RoleID      uuid.UUID `json:"role_id"`
	ServerID    uuid.UUID `json:"server_id"`
	Name        string    `json:"name,omitempty"`
	Permissions int64     `json:"permissions,omitempty"`
}

func (p RoleCreatePayload) validate() error {
	if p.RoleID == uuid.Nil {
		return fmt.Errorf("role_id is required")
	}
	if p.ServerID == uuid.Nil {
		return fmt.Errorf("server_id is required")
	}
	return nil
}
