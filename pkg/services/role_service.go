package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beep-industries/communities/pkg/models"
	"github.com/beep-industries/communities/pkg/outbox"
)

// RoleService manages roles and role assignments. Role creation emits the
// role.create outbox event.
type RoleService struct {
	pool   *pgxpool.Pool
	writer *outbox.Writer
	table  *outbox.Table
}

// NewRoleService creates a RoleService.
func NewRoleService(pool *pgxpool.Pool, writer *outbox.Writer, table *outbox.Table) *RoleService {
	return &RoleService{pool: pool, writer: writer, table: table}
}

const roleColumns = `id, server_id, name, permissions, created_at`

func scanRole(row pgx.Row) (models.Role, error) {
	var r models.Role
	err := row.Scan(&r.ID, &r.ServerID, &r.Name, &r.Permissions, &r.CreatedAt)
	return r, err
}

// Create inserts a role and appends the role.create event.
func (s *RoleService) Create(ctx context.Context, serverID, requesterID uuid.UUID, req models.CreateRoleRequest) (models.Role, error) {
	if req.Name == "" {
		return models.Role{}, fmt.Errorf("%w: name is required", ErrInvalid)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Role{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := requireMember(ctx, tx, serverID, requesterID); err != nil {
		return models.Role{}, err
	}

	roleID := uuid.New()
	role, err := scanRole(tx.QueryRow(ctx,
		`INSERT INTO roles (id, server_id, name, permissions)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+roleColumns,
		roleID, serverID, req.Name, req.Permissions))
	if err != nil {
		if isUniqueViolation(err) {
			return models.Role{}, fmt.Errorf("%w: role %q already exists", ErrConflict, req.Name)
		}
		return models.Role{}, fmt.Errorf("failed to insert role: %w", err)
	}

	if _, err := s.writer.Append(ctx, tx,
		s.table.Descriptor(outbox.KindRoleCreate),
		outbox.RoleCreatePayload{
			RoleID:      roleID,
			ServerID:    serverID,
			Name:        req.Name,
			Permissions: req.Permissions,
		}); err != nil {
		return models.Role{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Role{}, fmt.Errorf("failed to commit role create: %w", err)
	}
	return role, nil
}

// ListByServer returns a server's roles.
func (s *RoleService) ListByServer(ctx context.Context, serverID uuid.UUID) ([]models.Role, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE server_id = $1 ORDER BY created_at ASC`,
		serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []models.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// Assign attaches a role to a member of the same server.
func (s *RoleService) Assign(ctx context.Context, roleID, memberID uuid.UUID) error {
	var roleServer, memberServer uuid.UUID
	err := s.pool.QueryRow(ctx, `SELECT server_id FROM roles WHERE id = $1`, roleID).Scan(&roleServer)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	if err != nil {
		return fmt.Errorf("failed to load role: %w", err)
	}

	err = s.pool.QueryRow(ctx, `SELECT server_id FROM members WHERE id = $1`, memberID).Scan(&memberServer)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: member %s", ErrNotFound, memberID)
	}
	if err != nil {
		return fmt.Errorf("failed to load member: %w", err)
	}

	if roleServer != memberServer {
		return fmt.Errorf("%w: role and member belong to different servers", ErrInvalid)
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO member_roles (member_id, role_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		memberID, roleID); err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}
