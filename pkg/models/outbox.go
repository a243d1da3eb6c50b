package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus is the lifecycle state of an outbox message.
// Transitions are monotone: READY → SENT. Nothing moves a row back.
type OutboxStatus string

const (
	OutboxStatusReady OutboxStatus = "READY"
	OutboxStatusSent  OutboxStatus = "SENT"
)

// Valid reports whether s is one of the known statuses.
func (s OutboxStatus) Valid() bool {
	return s == OutboxStatusReady || s == OutboxStatusSent
}

// OutboxMessage is one durable row in outbox_messages: a committed domain
// event awaiting publication to the broker.
//
// The row never mutates after insert except status (READY → SENT) and
// failed_at, which records the last failed delivery attempt for operators.
type OutboxMessage struct {
	ID           uuid.UUID       `json:"id"`
	ExchangeName string          `json:"exchange_name"`
	Payload      json.RawMessage `json:"payload"`
	Status       OutboxStatus    `json:"status"`
	FailedAt     *time.Time      `json:"failed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
