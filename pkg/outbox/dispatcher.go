package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/beep-industries/communities/pkg/models"
)

// EventStore is the slice of the outbox store the dispatcher consumes.
type EventStore interface {
	FetchBacklog(ctx context.Context, page, limit int) ([]models.OutboxMessage, int64, error)
	Get(ctx context.Context, id uuid.UUID) (models.OutboxMessage, error)
	MarkSent(ctx context.Context, id uuid.UUID) (models.OutboxMessage, error)
	TouchFailed(ctx context.Context, id uuid.UUID) error
}

// LiveSubscriber hands out live subscriptions. Implemented by *Listener.
type LiveSubscriber interface {
	Subscribe() (*Subscription, error)
}

// Publisher sends wire bytes to a broker exchange and returns only after the
// broker confirmed (or refused) the message.
type Publisher interface {
	Publish(ctx context.Context, exchange string, body []byte) error
}

// dispatcherState is the explicit phase of the main loop. Keeping it a
// variable rather than implicit control flow keeps the crash-consistency
// story auditable in logs.
type dispatcherState int

const (
	stateStarting dispatcherState = iota
	stateDraining
	stateStreaming
	stateStopping
)

func (s dispatcherState) String() string {
	switch s {
	case stateStarting:
		return "starting"
	case stateDraining:
		return "draining"
	case stateStreaming:
		return "streaming"
	case stateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// DispatcherConfig tunes the dispatch loop.
type DispatcherConfig struct {
	// BacklogPageSize is the page size for backlog drains.
	BacklogPageSize int

	// PollIdle is the max quiet time on the live stream before a forced
	// backlog scan, defending against silent notification loss.
	PollIdle time.Duration

	// Exponential backoff parameters for publish and mark retries.
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMultiplier float64
}

// DefaultDispatcherConfig returns the built-in dispatch defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BacklogPageSize: 100,
		PollIdle:        30 * time.Second,
		RetryInitial:    500 * time.Millisecond,
		RetryMax:        30 * time.Second,
		RetryMultiplier: 2.0,
	}
}

// Dispatcher consumes the outbox and publishes to the broker.
//
// Lifecycle per cycle: subscribe live (first, so commits during the drain
// buffer in the subscription), drain the backlog oldest-first, then consume
// the live stream. Subscription loss re-enters draining. Poison rows are
// quarantined (marked SENT without a publish) so they never block the queue.
//
// Several dispatcher processes may run at once: every one publishes what it
// sees and the racy MarkSent is harmless because status is monotone.
// Subscribers get at-least-once delivery either way.
type Dispatcher struct {
	store      EventStore
	subscriber LiveSubscriber
	publisher  Publisher
	table      *Table
	cfg        DispatcherConfig

	state dispatcherState
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(store EventStore, subscriber LiveSubscriber, publisher Publisher, table *Table, cfg DispatcherConfig) *Dispatcher {
	if cfg.BacklogPageSize <= 0 {
		cfg.BacklogPageSize = DefaultDispatcherConfig().BacklogPageSize
	}
	if cfg.PollIdle <= 0 {
		cfg.PollIdle = DefaultDispatcherConfig().PollIdle
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = DefaultDispatcherConfig().RetryInitial
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = DefaultDispatcherConfig().RetryMax
	}
	if cfg.RetryMultiplier <= 1 {
		cfg.RetryMultiplier = DefaultDispatcherConfig().RetryMultiplier
	}
	return &Dispatcher{
		store:      store,
		subscriber: subscriber,
		publisher:  publisher,
		table:      table,
		cfg:        cfg,
		state:      stateStarting,
	}
}

// Run drives the dispatch loop until ctx is cancelled. In-flight publish
// and mark calls run to completion before it returns; the backlog is left
// for the next start.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("Dispatcher starting",
		"page_size", d.cfg.BacklogPageSize,
		"poll_idle", d.cfg.PollIdle)

	for ctx.Err() == nil {
		// Subscribe before draining: rows committed mid-drain buffer in the
		// subscription instead of falling between backlog and stream.
		sub, err := d.subscriber.Subscribe()
		if err != nil {
			if errors.Is(err, ErrListenerClosed) || ctx.Err() != nil {
				break
			}
			slog.Error("Live subscription failed, retrying", "error", err)
			if !sleepCtx(ctx, time.Second) {
				break
			}
			continue
		}

		d.setState(stateDraining)
		if err := d.drain(ctx); err != nil {
			sub.Close()
			break
		}

		d.setState(stateStreaming)
		err = d.stream(ctx, sub)
		sub.Close()
		if err != nil {
			break
		}
		// Subscription terminated: loop back to re-drain and re-subscribe.
	}

	d.setState(stateStopping)
	slog.Info("Dispatcher stopped")
	return ctx.Err()
}

func (d *Dispatcher) setState(s dispatcherState) {
	if d.state != s {
		slog.Debug("Dispatcher state change", "from", d.state.String(), "to", s.String())
		d.state = s
	}
}

// drain publishes the whole READY backlog. FetchBacklog pages newest-first;
// the collected snapshot is dispatched in reverse, oldest created_at first
// (ties on id). For transactions that overlap in time, this insert-time
// order is not necessarily their commit order. Returns a non-nil error only
// on cancellation.
func (d *Dispatcher) drain(ctx context.Context) error {
	backlogScans.Inc()

	var snapshot []models.OutboxMessage
	for page := 1; ; page++ {
		messages, _, err := d.store.FetchBacklog(ctx, page, d.cfg.BacklogPageSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("Backlog fetch failed, retrying", "page", page, "error", err)
			if !sleepCtx(ctx, d.cfg.RetryInitial) {
				return ctx.Err()
			}
			page--
			continue
		}
		snapshot = append(snapshot, messages...)
		if len(messages) < d.cfg.BacklogPageSize {
			break
		}
	}

	if len(snapshot) > 0 {
		slog.Info("Draining outbox backlog", "count", len(snapshot))
	}

	for i := len(snapshot) - 1; i >= 0; i-- {
		if err := d.process(ctx, snapshot[i]); err != nil {
			return err
		}
	}
	return nil
}

// stream consumes the live subscription. Returns nil when the subscription
// terminated (caller re-drains and re-subscribes) and ctx.Err() on shutdown.
func (d *Dispatcher) stream(ctx context.Context, sub *Subscription) error {
	idle := time.NewTimer(d.cfg.PollIdle)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case item, ok := <-sub.Items():
			if !ok {
				return nil
			}
			if item.Err != nil {
				slog.Warn("Outbox subscription terminated", "error", item.Err)
				return nil
			}

			msg := item.Message
			if item.Truncated {
				full, err := d.store.Get(ctx, msg.ID)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					slog.Error("Failed to resolve truncated notification",
						"event_id", msg.ID, "error", err)
					continue
				}
				msg = full
			}

			if err := d.process(ctx, msg); err != nil {
				return err
			}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(d.cfg.PollIdle)

		case <-idle.C:
			// No notifications for a full idle interval. Defend against
			// silent notification loss with one backlog scan.
			slog.Debug("Live stream idle, forcing backlog scan")
			d.setState(stateDraining)
			if err := d.drain(ctx); err != nil {
				return err
			}
			d.setState(stateStreaming)
			idle.Reset(d.cfg.PollIdle)
		}
	}
}

// process routes, decodes, encodes, publishes, and marks one record.
// Schema failures quarantine the row; broker and store failures retry with
// bounded exponential backoff for as long as ctx lives.
func (d *Dispatcher) process(ctx context.Context, msg models.OutboxMessage) error {
	kind, ok := d.table.KindOf(msg.ExchangeName)
	if !ok {
		// Loud: an unknown exchange means a producer and this binary
		// disagree about the routing table.
		slog.Error("Unknown outbox exchange, quarantining event",
			"event_id", msg.ID, "error", &UnknownExchangeError{Exchange: msg.ExchangeName})
		return d.quarantine(ctx, msg.ID, "unknown_exchange")
	}

	typed, err := d.table.Decode(kind, msg.Payload)
	if err != nil {
		slog.Warn("Outbox payload failed decode, quarantining event",
			"error", &DecodeError{Kind: kind, ID: msg.ID, Cause: err})
		return d.quarantine(ctx, msg.ID, "decode")
	}

	wire, err := d.table.EncodeWire(kind, typed)
	if err != nil {
		slog.Warn("Outbox payload failed wire encode, quarantining event",
			"event_id", msg.ID, "kind", kind.String(), "error", err)
		return d.quarantine(ctx, msg.ID, "encode")
	}

	if err := d.publishWithRetry(ctx, msg, wire); err != nil {
		return err
	}

	if err := d.markSentWithRetry(ctx, msg.ID); err != nil {
		return err
	}

	publishedCounter.Inc()
	slog.Debug("Outbox event published",
		"event_id", msg.ID, "exchange", msg.ExchangeName)
	return nil
}

// publishWithRetry publishes until the broker confirms. Each failed attempt
// stamps failed_at so operators can spot stuck rows. An attempt already in
// flight when ctx is cancelled runs to completion.
func (d *Dispatcher) publishWithRetry(ctx context.Context, msg models.OutboxMessage, wire []byte) error {
	bo := d.newBackoff()
	for {
		err := d.publisher.Publish(context.WithoutCancel(ctx), msg.ExchangeName, wire)
		if err == nil {
			return nil
		}

		publishFailures.Inc()
		slog.Warn("Broker publish failed",
			"event_id", msg.ID, "exchange", msg.ExchangeName, "error", err)
		touchCtx, cancel := detachedAttempt(ctx)
		if touchErr := d.store.TouchFailed(touchCtx, msg.ID); touchErr != nil {
			slog.Warn("Failed to stamp failed_at", "event_id", msg.ID, "error", touchErr)
		}
		cancel()

		if !sleepCtx(ctx, bo.NextBackOff()) {
			return ctx.Err()
		}
	}
}

// markSentWithRetry marks the row SENT, retrying transient store errors
// indefinitely. The window between publish and mark is the at-least-once
// window: a crash here re-publishes on the next cycle, which subscribers
// must tolerate.
func (d *Dispatcher) markSentWithRetry(ctx context.Context, id uuid.UUID) error {
	bo := d.newBackoff()
	for {
		markCtx, cancel := detachedAttempt(ctx)
		_, err := d.store.MarkSent(markCtx, id)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrEventNotFound) {
			// Another process marked and GC'd the row between our publish
			// and mark. The event is delivered; move on.
			slog.Warn("Outbox event vanished before mark", "event_id", id)
			return nil
		}

		slog.Warn("Failed to mark outbox event sent, retrying",
			"event_id", id, "error", err)
		if !sleepCtx(ctx, bo.NextBackOff()) {
			return ctx.Err()
		}
	}
}

// quarantine marks a poison row SENT without publishing so it stops
// blocking the queue.
func (d *Dispatcher) quarantine(ctx context.Context, id uuid.UUID, reason string) error {
	quarantinedCounter.WithLabelValues(reason).Inc()
	return d.markSentWithRetry(ctx, id)
}

func (d *Dispatcher) newBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.RetryInitial
	bo.MaxInterval = d.cfg.RetryMax
	bo.Multiplier = d.cfg.RetryMultiplier
	bo.MaxElapsedTime = 0 // retry until cancelled
	bo.Reset()
	return bo
}

// detachedAttempt derives a per-attempt context that survives shutdown
// (in-flight store writes run to completion) but cannot hang it either.
func detachedAttempt(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}

// sleepCtx waits for dur or until ctx is cancelled; false means cancelled.
func sleepCtx(ctx context.Context, dur time.Duration) bool {
	if dur <= 0 {
		dur = time.Millisecond
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
