package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/beep-industries/communities/pkg/models"
)

// subscriptionBuffer is the per-subscription channel capacity. A subscriber
// that falls this far behind has its stream closed (the full buffer leaves no
// room for a terminal SubscriptionError item) and must re-drain the backlog,
// which recovers everything it missed.
const subscriptionBuffer = 256

// StreamItem is one element of a live subscription. Exactly one of Message
// or Err is meaningful; an item with Err set is terminal and the channel is
// closed right after it.
type StreamItem struct {
	Message models.OutboxMessage
	// Truncated marks a notification whose payload exceeded the NOTIFY size
	// cap. Message carries identifying fields only; fetch the row by id.
	Truncated bool
	Err       error
}

// Subscription is a live feed of outbox records committed after the
// subscription was established. It has no persistent identity: after a
// terminal error the caller drains the backlog and subscribes anew.
type Subscription struct {
	mu     sync.Mutex
	closed bool
	items  chan StreamItem

	unregister func()
}

// Items returns the stream channel. It is closed after a terminal item or
// after Close.
func (s *Subscription) Items() <-chan StreamItem {
	return s.items
}

// deliver enqueues an item unless the subscription is closed. false means
// the buffer is full: the subscriber has fallen behind. The mutex makes
// deliver and Close mutually exclusive, so a send can never hit a closed
// channel.
func (s *Subscription) deliver(item StreamItem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.items <- item:
		return true
	default:
		return false
	}
}

// Close unregisters the subscription and closes the stream channel.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.items)
	s.mu.Unlock()

	s.unregister()
}

// fail delivers the terminal error item if the buffer has room, then closes.
func (s *Subscription) fail(err error) {
	s.deliver(StreamItem{Err: &SubscriptionError{Cause: err}})
	s.Close()
}

// Listener owns the dedicated LISTEN connection and fans incoming outbox
// notifications out to subscriptions. A single goroutine — the receive
// loop — is the only user of the pgx connection, which avoids the
// "conn busy" race between WaitForNotification and anything else.
//
// When the connection drops, every active subscription receives a terminal
// SubscriptionError and the listener reconnects with backoff; subscribers
// re-drain and re-subscribe, so nothing is lost across the gap.
type Listener struct {
	connString string

	conn   *pgx.Conn
	connMu sync.Mutex

	subs   map[*Subscription]struct{}
	subsMu sync.Mutex

	running    atomic.Bool
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewListener creates a listener for the outbox notification channel.
func NewListener(connString string) *Listener {
	return &Listener{
		connString: connString,
		subs:       make(map[*Subscription]struct{}),
	}
}

// Start establishes the dedicated LISTEN connection and begins receiving.
func (l *Listener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("failed to connect for LISTEN: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return fmt.Errorf("LISTEN %s failed: %w", NotifyChannel, err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()

	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx)
	}()

	slog.Info("Outbox listener started", "channel", NotifyChannel)
	return nil
}

// Subscribe registers a new live subscription. Only records committed after
// this call are delivered on it.
func (l *Listener) Subscribe() (*Subscription, error) {
	if !l.running.Load() {
		return nil, ErrListenerClosed
	}

	sub := &Subscription{items: make(chan StreamItem, subscriptionBuffer)}
	sub.unregister = func() {
		l.subsMu.Lock()
		delete(l.subs, sub)
		l.subsMu.Unlock()
	}

	l.subsMu.Lock()
	l.subs[sub] = struct{}{}
	l.subsMu.Unlock()

	return sub, nil
}

// receiveLoop waits for notifications and dispatches them to subscriptions.
// Sole goroutine touching the pgx connection.
func (l *Listener) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()

		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // Shutting down
			}
			slog.Error("Outbox NOTIFY receive error", "error", err)
			l.failSubscriptions(err)
			l.reconnect(ctx)
			continue
		}

		item, err := decodeNotification([]byte(notification.Payload))
		if err != nil {
			slog.Error("Malformed outbox notification", "error", err)
			continue
		}
		l.broadcast(item)
	}
}

// decodeNotification unwraps the {"data": …} envelope into a stream item.
func decodeNotification(payload []byte) (StreamItem, error) {
	var envelope notifyEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return StreamItem{}, fmt.Errorf("failed to unmarshal notify envelope: %w", err)
	}
	if envelope.Data == nil {
		return StreamItem{}, fmt.Errorf("notify envelope has no data field")
	}

	var msg models.OutboxMessage
	if err := json.Unmarshal(envelope.Data, &msg); err != nil {
		return StreamItem{}, fmt.Errorf("failed to unmarshal outbox record: %w", err)
	}
	return StreamItem{Message: msg, Truncated: envelope.Truncated}, nil
}

// broadcast delivers an item to every subscription. A subscription whose
// buffer is full has fallen too far behind the feed; it is failed so its
// owner falls back to the backlog.
func (l *Listener) broadcast(item StreamItem) {
	l.subsMu.Lock()
	subs := make([]*Subscription, 0, len(l.subs))
	for sub := range l.subs {
		subs = append(subs, sub)
	}
	l.subsMu.Unlock()

	for _, sub := range subs {
		if !sub.deliver(item) {
			slog.Warn("Outbox subscription overflow, failing subscriber")
			sub.fail(fmt.Errorf("subscriber fell behind the live feed"))
		}
	}
}

// failSubscriptions terminates every active subscription with err.
func (l *Listener) failSubscriptions(err error) {
	l.subsMu.Lock()
	subs := make([]*Subscription, 0, len(l.subs))
	for sub := range l.subs {
		subs = append(subs, sub)
	}
	l.subsMu.Unlock()

	for _, sub := range subs {
		sub.fail(err)
	}
}

// reconnect re-establishes the LISTEN connection with exponential backoff.
func (l *Listener) reconnect(ctx context.Context) {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("Outbox LISTEN reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
			slog.Error("Re-LISTEN failed", "channel", NotifyChannel, "error", err)
			_ = conn.Close(ctx)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		l.conn = conn

		slog.Info("Outbox listener reconnected")
		return
	}
}

// Stop signals the receive loop to exit, waits for it, fails remaining
// subscriptions, and closes the LISTEN connection.
func (l *Listener) Stop(ctx context.Context) {
	l.running.Store(false)

	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}

	l.failSubscriptions(ErrListenerClosed)

	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}
