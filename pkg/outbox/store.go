package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beep-industries/communities/pkg/models"
)

// Store is the durable outbox queue over PostgreSQL.
//
// Rows only ever move READY → SENT; the monotone status is what makes
// concurrent dispatchers and retried marks safe without locking.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store on the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const messageColumns = `id, exchange_name, payload, status, failed_at, created_at`

func scanMessage(row pgx.Row) (models.OutboxMessage, error) {
	var msg models.OutboxMessage
	err := row.Scan(&msg.ID, &msg.ExchangeName, &msg.Payload, &msg.Status, &msg.FailedAt, &msg.CreatedAt)
	return msg, err
}

// FetchBacklog returns one page of READY rows ordered newest first
// (created_at DESC, id DESC as a stable tie-break) together with the total
// READY count. Pages are 1-based. It never mutates.
func (s *Store) FetchBacklog(ctx context.Context, page, limit int) ([]models.OutboxMessage, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}
	offset := (page - 1) * limit

	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_messages WHERE status = $1`,
		models.OutboxStatusReady,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count backlog: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+`
		 FROM outbox_messages
		 WHERE status = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		models.OutboxStatusReady, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch backlog: %w", err)
	}
	defer rows.Close()

	var messages []models.OutboxMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan backlog row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read backlog rows: %w", err)
	}

	return messages, total, nil
}

// Get fetches a single row by id. Used to resolve truncated notifications.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (models.OutboxMessage, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM outbox_messages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.OutboxMessage{}, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	if err != nil {
		return models.OutboxMessage{}, fmt.Errorf("failed to get outbox event: %w", err)
	}
	return msg, nil
}

// MarkSent transitions a row to SENT and returns the updated record. Marking
// an already-SENT row is a no-op success: the transition is monotone, so
// re-execution after a transient failure cannot do damage.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID) (models.OutboxMessage, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx,
		`UPDATE outbox_messages SET status = $2 WHERE id = $1
		 RETURNING `+messageColumns,
		id, models.OutboxStatusSent))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.OutboxMessage{}, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	if err != nil {
		return models.OutboxMessage{}, fmt.Errorf("failed to mark outbox event sent: %w", err)
	}
	return msg, nil
}

// TouchFailed stamps failed_at on a row after a failed delivery attempt.
// Advisory telemetry for operators; nothing reads it back for admission.
func (s *Store) TouchFailed(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE outbox_messages SET failed_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to stamp failed_at: %w", err)
	}
	return nil
}

// DeleteSent removes every SENT row and reports how many were deleted.
// READY rows are never touched.
func (s *Store) DeleteSent(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM outbox_messages WHERE status = $1`, models.OutboxStatusSent)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sent events: %w", err)
	}
	return tag.RowsAffected(), nil
}
