// Package outbox implements the transactional outbox: writing typed domain
// events in the producer's transaction, observing committed events live via
// PostgreSQL NOTIFY, and dispatching them to the message broker.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EventRecord is one outbox event before it is written: an id chosen by the
// producer (so retried writes collapse to a single row), the routing
// descriptor, and the serialized payload.
//
// A record is owned by the producing transaction. After commit it lives in
// the store and is never touched through this type again.
type EventRecord struct {
	ID         uuid.UUID
	Descriptor Descriptor
	Payload    json.RawMessage
}

// NewRecord allocates a fresh id and serializes payload.
func NewRecord(d Descriptor, payload any) (*EventRecord, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize outbox payload: %w", err)
	}
	return &EventRecord{
		ID:         uuid.New(),
		Descriptor: d,
		Payload:    raw,
	}, nil
}

// Write appends the record to the outbox inside the caller's transaction
// and schedules the commit-time notification. Duplicate ids are a no-op,
// never an error.
func (r *EventRecord) Write(ctx context.Context, tx pgx.Tx) (uuid.UUID, error) {
	return writeRecord(ctx, tx, r)
}
