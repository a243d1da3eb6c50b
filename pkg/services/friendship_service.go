package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beep-industries/communities/pkg/models"
)

// FriendshipService manages friend requests between users.
type FriendshipService struct {
	pool *pgxpool.Pool
}

// NewFriendshipService creates a FriendshipService.
func NewFriendshipService(pool *pgxpool.Pool) *FriendshipService {
	return &FriendshipService{pool: pool}
}

const friendshipColumns = `id, requester_id, addressee_id, status, created_at, updated_at`

func scanFriendship(row pgx.Row) (models.Friendship, error) {
	var f models.Friendship
	err := row.Scan(&f.ID, &f.RequesterID, &f.AddresseeID, &f.Status, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

// Request creates a pending friendship from requester to addressee.
// A repeat request in either direction is a conflict.
func (s *FriendshipService) Request(ctx context.Context, requesterID, addresseeID uuid.UUID) (models.Friendship, error) {
	if requesterID == addresseeID {
		return models.Friendship{}, fmt.Errorf("%w: cannot befriend yourself", ErrInvalid)
	}

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM friendships
			WHERE (requester_id = $1 AND addressee_id = $2)
			   OR (requester_id = $2 AND addressee_id = $1)
		)`, requesterID, addresseeID).Scan(&exists)
	if err != nil {
		return models.Friendship{}, fmt.Errorf("failed to check friendship: %w", err)
	}
	if exists {
		return models.Friendship{}, fmt.Errorf("%w: friendship already exists", ErrConflict)
	}

	friendship, err := scanFriendship(s.pool.QueryRow(ctx,
		`INSERT INTO friendships (id, requester_id, addressee_id, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+friendshipColumns,
		uuid.New(), requesterID, addresseeID, models.FriendshipStatusPending))
	if err != nil {
		if isUniqueViolation(err) {
			return models.Friendship{}, fmt.Errorf("%w: friendship already exists", ErrConflict)
		}
		return models.Friendship{}, fmt.Errorf("failed to insert friendship: %w", err)
	}
	return friendship, nil
}

// respond flips a pending friendship's status. Only the addressee decides.
func (s *FriendshipService) respond(ctx context.Context, id, responderID uuid.UUID, status models.FriendshipStatus) (models.Friendship, error) {
	friendship, err := scanFriendship(s.pool.QueryRow(ctx,
		`SELECT `+friendshipColumns+` FROM friendships WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Friendship{}, fmt.Errorf("%w: friendship %s", ErrNotFound, id)
	}
	if err != nil {
		return models.Friendship{}, fmt.Errorf("failed to load friendship: %w", err)
	}

	if friendship.AddresseeID != responderID {
		return models.Friendship{}, fmt.Errorf("%w: only the addressee can respond", ErrForbidden)
	}
	if friendship.Status != models.FriendshipStatusPending {
		return models.Friendship{}, fmt.Errorf("%w: friendship is not pending", ErrConflict)
	}

	return scanFriendship(s.pool.QueryRow(ctx,
		`UPDATE friendships SET status = $2, updated_at = now() WHERE id = $1
		 RETURNING `+friendshipColumns,
		id, status))
}

// Accept accepts a pending request.
func (s *FriendshipService) Accept(ctx context.Context, id, responderID uuid.UUID) (models.Friendship, error) {
	return s.respond(ctx, id, responderID, models.FriendshipStatusAccepted)
}

// Decline declines a pending request.
func (s *FriendshipService) Decline(ctx context.Context, id, responderID uuid.UUID) (models.Friendship, error) {
	return s.respond(ctx, id, responderID, models.FriendshipStatusDeclined)
}

// ListForUser returns the user's friendships, any direction, newest first.
func (s *FriendshipService) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Friendship, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+friendshipColumns+` FROM friendships
		 WHERE requester_id = $1 OR addressee_id = $1
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list friendships: %w", err)
	}
	defer rows.Close()

	var friendships []models.Friendship
	for rows.Next() {
		friendship, err := scanFriendship(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan friendship: %w", err)
		}
		friendships = append(friendships, friendship)
	}
	return friendships, rows.Err()
}
