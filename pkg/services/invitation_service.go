package services

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beep-industries/communities/pkg/models"
)

// defaultInvitationTTL applies when the request does not set one.
const defaultInvitationTTL = 7 * 24 * time.Hour

// InvitationService manages server invitations and the join path.
type InvitationService struct {
	pool *pgxpool.Pool
}

// NewInvitationService creates an InvitationService.
func NewInvitationService(pool *pgxpool.Pool) *InvitationService {
	return &InvitationService{pool: pool}
}

const invitationColumns = `id, server_id, creator_id, code, expires_at, created_at`

func scanInvitation(row pgx.Row) (models.ServerInvitation, error) {
	var i models.ServerInvitation
	err := row.Scan(&i.ID, &i.ServerID, &i.CreatorID, &i.Code, &i.ExpiresAt, &i.CreatedAt)
	return i, err
}

// newInviteCode returns a short random code, uppercase base32 without
// padding.
func newInviteCode() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate invite code: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

// Create issues an invitation for a server the creator is a member of.
func (s *InvitationService) Create(ctx context.Context, serverID, creatorID uuid.UUID, req models.CreateInvitationRequest) (models.ServerInvitation, error) {
	ttl := defaultInvitationTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.ServerInvitation{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := requireMember(ctx, tx, serverID, creatorID); err != nil {
		return models.ServerInvitation{}, err
	}

	code, err := newInviteCode()
	if err != nil {
		return models.ServerInvitation{}, err
	}

	invitation, err := scanInvitation(tx.QueryRow(ctx,
		`INSERT INTO server_invitations (id, server_id, creator_id, code, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+invitationColumns,
		uuid.New(), serverID, creatorID, code, time.Now().Add(ttl)))
	if err != nil {
		return models.ServerInvitation{}, fmt.Errorf("failed to insert invitation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.ServerInvitation{}, fmt.Errorf("failed to commit invitation: %w", err)
	}
	return invitation, nil
}

// GetByCode fetches an invitation by its code.
func (s *InvitationService) GetByCode(ctx context.Context, code string) (models.ServerInvitation, error) {
	invitation, err := scanInvitation(s.pool.QueryRow(ctx,
		`SELECT `+invitationColumns+` FROM server_invitations WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ServerInvitation{}, fmt.Errorf("%w: invitation %q", ErrNotFound, code)
	}
	if err != nil {
		return models.ServerInvitation{}, fmt.Errorf("failed to get invitation: %w", err)
	}
	return invitation, nil
}

// Consume joins userID to the invitation's server. Expired invitations are
// rejected; joining a server twice is a conflict.
func (s *InvitationService) Consume(ctx context.Context, code string, userID uuid.UUID) (models.Member, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Member{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	invitation, err := scanInvitation(tx.QueryRow(ctx,
		`SELECT `+invitationColumns+` FROM server_invitations WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Member{}, fmt.Errorf("%w: invitation %q", ErrNotFound, code)
	}
	if err != nil {
		return models.Member{}, fmt.Errorf("failed to load invitation: %w", err)
	}

	if invitation.Expired(time.Now()) {
		return models.Member{}, fmt.Errorf("%w: invitation %q", ErrExpired, code)
	}

	member, err := scanMember(tx.QueryRow(ctx,
		`INSERT INTO members (id, server_id, user_id)
		 VALUES ($1, $2, $3)
		 RETURNING `+memberColumns,
		uuid.New(), invitation.ServerID, userID))
	if err != nil {
		if isUniqueViolation(err) {
			return models.Member{}, fmt.Errorf("%w: already a member", ErrConflict)
		}
		return models.Member{}, fmt.Errorf("failed to insert member: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Member{}, fmt.Errorf("failed to commit join: %w", err)
	}
	return member, nil
}

// DeleteExpired removes invitations past their expiry. Neither process
// calls it on a schedule.
func (s *InvitationService) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM server_invitations WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired invitations: %w", err)
	}
	return tag.RowsAffected(), nil
}
