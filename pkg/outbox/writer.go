package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/beep-industries/communities/pkg/models"
)

// NotifyChannel is the PostgreSQL channel every committed outbox row is
// announced on. The dispatcher's listener LISTENs here.
const NotifyChannel = "outbox_channel"

// Postgres caps NOTIFY payloads near 8000 bytes; leave headroom for the
// envelope wrapper.
const maxNotifyPayload = 7900

// notifyEnvelope wraps the record on the notification channel. The wrapper
// is mandatory so future channels can multiplex metadata next to "data".
type notifyEnvelope struct {
	Data      json.RawMessage `json:"data"`
	Truncated bool            `json:"truncated,omitempty"`
}

// Writer appends event records to the outbox on a caller-supplied
// transaction. It is stateless and safe for concurrent use.
type Writer struct{}

// NewWriter creates a Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Append serializes payload, writes a READY outbox row on tx, and schedules
// the commit-time notification. It returns the generated event id. The row
// becomes visible — and the notification fires — only if tx commits.
func (w *Writer) Append(ctx context.Context, tx pgx.Tx, d Descriptor, payload any) (uuid.UUID, error) {
	rec, err := NewRecord(d, payload)
	if err != nil {
		return uuid.Nil, err
	}
	return writeRecord(ctx, tx, rec)
}

// writeRecord performs the id-idempotent insert and the in-transaction
// pg_notify. pg_notify is transactional: PostgreSQL holds the notification
// until COMMIT and drops it on ROLLBACK, which is exactly the atomicity the
// outbox needs. created_at is the insert's clock time, so several appends in
// one transaction sort in insertion order.
func writeRecord(ctx context.Context, tx pgx.Tx, rec *EventRecord) (uuid.UUID, error) {
	var createdAt time.Time
	err := tx.QueryRow(ctx,
		`INSERT INTO outbox_messages (id, exchange_name, payload, status, failed_at, created_at)
		 VALUES ($1, $2, $3, $4, NULL, clock_timestamp())
		 ON CONFLICT (id) DO NOTHING
		 RETURNING created_at`,
		rec.ID, rec.Descriptor.Exchange, rec.Payload, models.OutboxStatusReady,
	).Scan(&createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Duplicate id: the row already exists and its commit already
		// carried a notification. Nothing to do.
		return rec.ID, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to write outbox event: %w", err)
	}

	notifyPayload, err := buildNotifyPayload(models.OutboxMessage{
		ID:           rec.ID,
		ExchangeName: rec.Descriptor.Exchange,
		Payload:      rec.Payload,
		Status:       models.OutboxStatusReady,
		CreatedAt:    createdAt,
	})
	if err != nil {
		return uuid.Nil, err
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, notifyPayload); err != nil {
		return uuid.Nil, fmt.Errorf("pg_notify failed: %w", err)
	}

	return rec.ID, nil
}

// buildNotifyPayload wraps the record in the notification envelope. Records
// too large for a NOTIFY payload are replaced by a truncated envelope with
// only identifying fields; subscribers refetch the full row by id.
func buildNotifyPayload(msg models.OutboxMessage) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal notify record: %w", err)
	}

	full, err := json.Marshal(notifyEnvelope{Data: data})
	if err != nil {
		return "", fmt.Errorf("failed to marshal notify envelope: %w", err)
	}
	if len(full) <= maxNotifyPayload {
		return string(full), nil
	}

	stub := msg
	stub.Payload = json.RawMessage(`{}`)
	data, err = json.Marshal(stub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated notify record: %w", err)
	}
	truncated, err := json.Marshal(notifyEnvelope{Data: data, Truncated: true})
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated notify envelope: %w", err)
	}
	return string(truncated), nil
}
