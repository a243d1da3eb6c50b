package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beep-industries/communities/pkg/models"
	"github.com/beep-industries/communities/pkg/outbox"
)

// ChannelService manages server channels and emits channel.create /
// channel.delete outbox events with the domain writes.
type ChannelService struct {
	pool   *pgxpool.Pool
	writer *outbox.Writer
	table  *outbox.Table
}

// NewChannelService creates a ChannelService.
func NewChannelService(pool *pgxpool.Pool, writer *outbox.Writer, table *outbox.Table) *ChannelService {
	return &ChannelService{pool: pool, writer: writer, table: table}
}

const channelColumns = `id, server_id, name, kind, created_at, updated_at`

func scanChannel(row pgx.Row) (models.Channel, error) {
	var c models.Channel
	err := row.Scan(&c.ID, &c.ServerID, &c.Name, &c.Kind, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// requireMember verifies userID belongs to serverID inside tx.
func requireMember(ctx context.Context, tx pgx.Tx, serverID, userID uuid.UUID) error {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM members WHERE server_id = $1 AND user_id = $2)`,
		serverID, userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: not a member of server %s", ErrForbidden, serverID)
	}
	return nil
}

// Create inserts a channel and appends the channel.create event.
func (s *ChannelService) Create(ctx context.Context, serverID, requesterID uuid.UUID, req models.CreateChannelRequest) (models.Channel, error) {
	if req.Name == "" {
		return models.Channel{}, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if !req.Kind.Valid() {
		return models.Channel{}, fmt.Errorf("%w: unknown channel kind %q", ErrInvalid, req.Kind)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Channel{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := requireMember(ctx, tx, serverID, requesterID); err != nil {
		return models.Channel{}, err
	}

	channelID := uuid.New()
	channel, err := scanChannel(tx.QueryRow(ctx,
		`INSERT INTO channels (id, server_id, name, kind)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+channelColumns,
		channelID, serverID, req.Name, req.Kind))
	if err != nil {
		return models.Channel{}, fmt.Errorf("failed to insert channel: %w", err)
	}

	if err := touchUpdatedAt(ctx, tx, serverID, time.Now()); err != nil {
		return models.Channel{}, fmt.Errorf("failed to touch server: %w", err)
	}

	if _, err := s.writer.Append(ctx, tx,
		s.table.Descriptor(outbox.KindChannelCreate),
		outbox.ChannelCreatePayload{
			ChannelID: channelID,
			ServerID:  serverID,
			Name:      req.Name,
			Kind:      req.Kind,
		}); err != nil {
		return models.Channel{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Channel{}, fmt.Errorf("failed to commit channel create: %w", err)
	}
	return channel, nil
}

// ListByServer returns a server's channels in creation order.
func (s *ChannelService) ListByServer(ctx context.Context, serverID uuid.UUID) ([]models.Channel, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE server_id = $1 ORDER BY created_at ASC`,
		serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, channel)
	}
	return channels, rows.Err()
}

// Update renames a channel.
func (s *ChannelService) Update(ctx context.Context, id, requesterID uuid.UUID, req models.UpdateChannelRequest) (models.Channel, error) {
	if req.Name == "" {
		return models.Channel{}, fmt.Errorf("%w: name is required", ErrInvalid)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Channel{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var serverID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT server_id FROM channels WHERE id = $1`, id).Scan(&serverID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Channel{}, fmt.Errorf("%w: channel %s", ErrNotFound, id)
	}
	if err != nil {
		return models.Channel{}, fmt.Errorf("failed to load channel: %w", err)
	}
	if err := requireMember(ctx, tx, serverID, requesterID); err != nil {
		return models.Channel{}, err
	}

	channel, err := scanChannel(tx.QueryRow(ctx,
		`UPDATE channels SET name = $2, updated_at = now() WHERE id = $1
		 RETURNING `+channelColumns,
		id, req.Name))
	if err != nil {
		return models.Channel{}, fmt.Errorf("failed to update channel: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Channel{}, fmt.Errorf("failed to commit channel update: %w", err)
	}
	return channel, nil
}

// Delete removes a channel and appends the channel.delete event.
func (s *ChannelService) Delete(ctx context.Context, id, requesterID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var serverID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT server_id FROM channels WHERE id = $1`, id).Scan(&serverID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: channel %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to load channel: %w", err)
	}
	if err := requireMember(ctx, tx, serverID, requesterID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete channel: %w", err)
	}

	if _, err := s.writer.Append(ctx, tx,
		s.table.Descriptor(outbox.KindChannelDelete),
		outbox.ChannelDeletePayload{ChannelID: id, ServerID: serverID}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit channel delete: %w", err)
	}
	return nil
}
