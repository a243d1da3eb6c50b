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

// ServerService manages community servers. Creating a server also creates
// the owner's membership and the default admin role; the matching outbox
// events ride the same transaction.
type ServerService struct {
	pool   *pgxpool.Pool
	writer *outbox.Writer
	table  *outbox.Table
}

// NewServerService creates a ServerService.
func NewServerService(pool *pgxpool.Pool, writer *outbox.Writer, table *outbox.Table) *ServerService {
	return &ServerService{pool: pool, writer: writer, table: table}
}

const serverColumns = `id, name, owner_id, icon_url, created_at, updated_at`

func scanServer(row pgx.Row) (models.Server, error) {
	var s models.Server
	err := row.Scan(&s.ID, &s.Name, &s.OwnerID, &s.IconURL, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// Create inserts the server, the owner's membership, and an "admin" role,
// and appends server.create and role.create outbox events. One transaction:
// subscribers never see a server without its admin role.
func (s *ServerService) Create(ctx context.Context, ownerID uuid.UUID, req models.CreateServerRequest) (models.Server, error) {
	if req.Name == "" {
		return models.Server{}, fmt.Errorf("%w: name is required", ErrInvalid)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Server{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	serverID := uuid.New()
	server, err := scanServer(tx.QueryRow(ctx,
		`INSERT INTO servers (id, name, owner_id, icon_url)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+serverColumns,
		serverID, req.Name, ownerID, req.IconURL))
	if err != nil {
		return models.Server{}, fmt.Errorf("failed to insert server: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO members (id, server_id, user_id) VALUES ($1, $2, $3)`,
		uuid.New(), serverID, ownerID); err != nil {
		return models.Server{}, fmt.Errorf("failed to insert owner membership: %w", err)
	}

	roleID := uuid.New()
	if _, err := tx.Exec(ctx,
		`INSERT INTO roles (id, server_id, name, permissions) VALUES ($1, $2, $3, $4)`,
		roleID, serverID, "admin", models.PermissionAdmin); err != nil {
		return models.Server{}, fmt.Errorf("failed to insert admin role: %w", err)
	}

	if _, err := s.writer.Append(ctx, tx,
		s.table.Descriptor(outbox.KindServerCreate),
		outbox.ServerCreatePayload{ServerID: serverID, OwnerID: ownerID, Name: req.Name}); err != nil {
		return models.Server{}, err
	}
	if _, err := s.writer.Append(ctx, tx,
		s.table.Descriptor(outbox.KindRoleCreate),
		outbox.RoleCreatePayload{RoleID: roleID, ServerID: serverID, Name: "admin", Permissions: models.PermissionAdmin}); err != nil {
		return models.Server{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Server{}, fmt.Errorf("failed to commit server create: %w", err)
	}
	return server, nil
}

// Get fetches a server by id.
func (s *ServerService) Get(ctx context.Context, id uuid.UUID) (models.Server, error) {
	server, err := scanServer(s.pool.QueryRow(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Server{}, fmt.Errorf("%w: server %s", ErrNotFound, id)
	}
	if err != nil {
		return models.Server{}, fmt.Errorf("failed to get server: %w", err)
	}
	return server, nil
}

// ListForUser returns the servers the user is a member of, newest first.
func (s *ServerService) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Server, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.id, s.name, s.owner_id, s.icon_url, s.created_at, s.updated_at
		 FROM servers s
		 JOIN members m ON m.server_id = s.id
		 WHERE m.user_id = $1
		 ORDER BY s.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var servers []models.Server
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		servers = append(servers, server)
	}
	return servers, rows.Err()
}

// Delete removes a server. Only the owner may delete; the server.delete
// outbox event commits with the removal.
func (s *ServerService) Delete(ctx context.Context, id, requesterID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var ownerID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT owner_id FROM servers WHERE id = $1`, id).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: server %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to load server: %w", err)
	}
	if ownerID != requesterID {
		return fmt.Errorf("%w: only the owner can delete a server", ErrForbidden)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM servers WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete server: %w", err)
	}

	if _, err := s.writer.Append(ctx, tx,
		s.table.Descriptor(outbox.KindServerDelete),
		outbox.ServerDeletePayload{ServerID: id}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit server delete: %w", err)
	}
	return nil
}

// touchUpdatedAt is shared by update paths that only change child rows.
func touchUpdatedAt(ctx context.Context, tx pgx.Tx, serverID uuid.UUID, at time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE servers SET updated_at = $2 WHERE id = $1`, serverID, at)
	return err
}
