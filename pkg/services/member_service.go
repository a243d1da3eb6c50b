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

// MemberService manages server memberships. Joining goes through
// InvitationService; this service covers listing and removal.
type MemberService struct {
	pool *pgxpool.Pool
}

// NewMemberService creates a MemberService.
func NewMemberService(pool *pgxpool.Pool) *MemberService {
	return &MemberService{pool: pool}
}

const memberColumns = `id, server_id, user_id, nickname, joined_at`

func scanMember(row pgx.Row) (models.Member, error) {
	var m models.Member
	err := row.Scan(&m.ID, &m.ServerID, &m.UserID, &m.Nickname, &m.JoinedAt)
	return m, err
}

// ListByServer returns a server's members in join order.
func (s *MemberService) ListByServer(ctx context.Context, serverID uuid.UUID) ([]models.Member, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+memberColumns+` FROM members WHERE server_id = $1 ORDER BY joined_at ASC`,
		serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// Remove deletes a membership. Allowed for the member themselves and for
// the server owner; the owner cannot be removed.
func (s *MemberService) Remove(ctx context.Context, memberID, requesterID uuid.UUID) error {
	var serverID, userID, ownerID uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT m.server_id, m.user_id, s.owner_id
		 FROM members m JOIN servers s ON s.id = m.server_id
		 WHERE m.id = $1`, memberID).Scan(&serverID, &userID, &ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: member %s", ErrNotFound, memberID)
	}
	if err != nil {
		return fmt.Errorf("failed to load member: %w", err)
	}

	if userID == ownerID {
		return fmt.Errorf("%w: the owner cannot leave their server", ErrInvalid)
	}
	if requesterID != userID && requesterID != ownerID {
		return fmt.Errorf("%w: only the member or the owner can remove a membership", ErrForbidden)
	}

	if _, err := s.pool.Exec(ctx, `DELETE FROM members WHERE id = $1`, memberID); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}
