package models

import (
	"time"

	"github.com/google/uuid"
)

// FriendshipStatus is the state of a friendship request.
type FriendshipStatus string

const (
	FriendshipStatusPending  FriendshipStatus = "pending"
	FriendshipStatusAccepted FriendshipStatus = "accepted"
	FriendshipStatusDeclined FriendshipStatus = "declined"
)

// Friendship links a requester to an addressee. A row exists from the moment
// the request is made; accept/decline only flips the status.
type Friendship struct {
	ID          uuid.UUID        `json:"id"`
	RequesterID uuid.UUID        `json:"requester_id"`
	AddresseeID uuid.UUID        `json:"addressee_id"`
	Status      FriendshipStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// CreateFriendshipRequest asks for a friendship with another user.
type CreateFriendshipRequest struct {
	AddresseeID uuid.UUID `json:"addressee_id" binding:"required"`
}
