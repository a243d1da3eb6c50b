package models

import (
	"time"

	"github.com/google/uuid"
)

// Permission bits for roles. Stored as a bigint bitmask.
const (
	PermissionViewChannels int64 = 1 << iota
	PermissionSendMessages
	PermissionManageChannels
	PermissionManageRoles
	PermissionManageServer
	PermissionKickMembers
)

// PermissionAdmin grants everything.
const PermissionAdmin int64 = PermissionViewChannels | PermissionSendMessages |
	PermissionManageChannels | PermissionManageRoles | PermissionManageServer |
	PermissionKickMembers

// Role is a named permission set scoped to a server.
type Role struct {
	ID          uuid.UUID `json:"id"`
	ServerID    uuid.UUID `json:"server_id"`
	Name        string    `json:"name"`
	Permissions int64     `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateRoleRequest is the payload for creating a role.
type CreateRoleRequest struct {
	Name        string `json:"name" binding:"required"`
	Permissions int64  `json:"permissions"`
}
