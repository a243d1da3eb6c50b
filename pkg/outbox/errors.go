package outbox

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrEventNotFound is returned by Store.MarkSent when no row has the id.
var ErrEventNotFound = errors.New("outbox event not found")

// ErrListenerClosed is returned by Subscribe after the listener stopped.
var ErrListenerClosed = errors.New("outbox listener is closed")

// SubscriptionError is the terminal item of a live subscription: the LISTEN
// connection was lost and the stream will yield nothing more. Callers must
// drain the backlog before subscribing again.
type SubscriptionError struct {
	Cause error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("outbox subscription lost: %v", e.Cause)
}

func (e *SubscriptionError) Unwrap() error { return e.Cause }

// DecodeError reports a payload that does not match its kind's schema.
// The dispatcher treats it as a poison pill and quarantines the row.
type DecodeError struct {
	Kind  Kind
	ID    uuid.UUID
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s payload for event %s: %v", e.Kind, e.ID, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// UnknownExchangeError reports an exchange name absent from the routing
// table. Same quarantine treatment as DecodeError, logged loudly.
type UnknownExchangeError struct {
	Exchange string
}

func (e *UnknownExchangeError) Error() string {
	return fmt.Sprintf("unknown exchange %q", e.Exchange)
}
