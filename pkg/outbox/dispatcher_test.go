package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beep-industries/communities/pkg/models"
)

// fakeStore is an in-memory EventStore. Rows keep insertion order so the
// backlog can be served newest-first like the real store.
type fakeStore struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]models.OutboxMessage
	order   []uuid.UUID
	touched map[uuid.UUID]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:    make(map[uuid.UUID]models.OutboxMessage),
		touched: make(map[uuid.UUID]int),
	}
}

func (s *fakeStore) add(msg models.OutboxMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[msg.ID] = msg
	s.order = append(s.order, msg.ID)
}

func (s *fakeStore) FetchBacklog(_ context.Context, page, limit int) ([]models.OutboxMessage, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []models.OutboxMessage
	for i := len(s.order) - 1; i >= 0; i-- { // newest first
		if msg := s.rows[s.order[i]]; msg.Status == models.OutboxStatusReady {
			ready = append(ready, msg)
		}
	}

	total := int64(len(ready))
	offset := (page - 1) * limit
	if offset >= len(ready) {
		return nil, total, nil
	}
	end := min(offset+limit, len(ready))
	return ready[offset:end], total, nil
}

func (s *fakeStore) Get(_ context.Context, id uuid.UUID) (models.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.rows[id]
	if !ok {
		return models.OutboxMessage{}, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return msg, nil
}

func (s *fakeStore) MarkSent(_ context.Context, id uuid.UUID) (models.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.rows[id]
	if !ok {
		return models.OutboxMessage{}, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	msg.Status = models.OutboxStatusSent
	s.rows[id] = msg
	return msg, nil
}

func (s *fakeStore) TouchFailed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched[id]++
	return nil
}

func (s *fakeStore) status(id uuid.UUID) models.OutboxStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].Status
}

func (s *fakeStore) touches(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched[id]
}

// fakeSubscriber hands out subscriptions the test feeds by hand.
type fakeSubscriber struct {
	created chan *Subscription
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{created: make(chan *Subscription, 8)}
}

func (f *fakeSubscriber) Subscribe() (*Subscription, error) {
	sub := &Subscription{
		items:      make(chan StreamItem, subscriptionBuffer),
		unregister: func() {},
	}
	f.created <- sub
	return sub, nil
}

func (f *fakeSubscriber) next(t *testing.T) *Subscription {
	t.Helper()
	select {
	case sub := <-f.created:
		return sub
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher never subscribed")
		return nil
	}
}

// fakePublisher records publishes and can fail the first N attempts.
type fakePublisher struct {
	mu        sync.Mutex
	published []string // exchange names in publish order
	bodies    [][]byte
	failFirst int
}

func (p *fakePublisher) Publish(_ context.Context, exchange string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFirst > 0 {
		p.failFirst--
		return fmt.Errorf("broker unavailable")
	}
	p.published = append(p.published, exchange)
	p.bodies = append(p.bodies, body)
	return nil
}

func (p *fakePublisher) exchanges() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.published...)
}

func (p *fakePublisher) wireBodies() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.bodies...)
}

func testDispatcherConfig() DispatcherConfig {
	cfg := DefaultDispatcherConfig()
	cfg.BacklogPageSize = 2
	cfg.RetryInitial = 5 * time.Millisecond
	cfg.RetryMax = 20 * time.Millisecond
	return cfg
}

func readyMessage(exchange string, payload string) models.OutboxMessage {
	return models.OutboxMessage{
		ID:           uuid.New(),
		ExchangeName: exchange,
		Payload:      json.RawMessage(payload),
		Status:       models.OutboxStatusReady,
		CreatedAt:    time.Now(),
	}
}

func serverCreateJSON() string {
	return fmt.Sprintf(`{"server_id":%q,"owner_id":%q}`, uuid.New(), uuid.New())
}

func TestDispatcherDrainsBacklogBeforeLive(t *testing.T) {
	store := newFakeStore()
	subscriber := newFakeSubscriber()
	publisher := &fakePublisher{}

	// Three backlog rows across two pages, committed oldest to newest.
	backlog := []models.OutboxMessage{
		readyMessage("server.create", serverCreateJSON()),
		readyMessage("server.create", serverCreateJSON()),
		readyMessage("role.create", fmt.Sprintf(`{"role_id":%q,"server_id":%q}`, uuid.New(), uuid.New())),
	}
	for _, msg := range backlog {
		store.add(msg)
	}

	d := NewDispatcher(store, subscriber, publisher, DefaultTable(), testDispatcherConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	sub := subscriber.next(t)

	// Backlog drains in commit order despite newest-first pages.
	require.Eventually(t, func() bool {
		return len(publisher.exchanges()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"server.create", "server.create", "role.create"}, publisher.exchanges())

	// A live record arrives after the drain and is dispatched too.
	live := readyMessage("channel.create",
		fmt.Sprintf(`{"channel_id":%q,"server_id":%q}`, uuid.New(), uuid.New()))
	store.add(live)
	sub.items <- StreamItem{Message: live}

	require.Eventually(t, func() bool {
		return store.status(live.ID) == models.OutboxStatusSent
	}, 2*time.Second, 10*time.Millisecond)

	for _, msg := range backlog {
		assert.Equal(t, models.OutboxStatusSent, store.status(msg.ID))
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestDispatcherQuarantinesPoisonPills(t *testing.T) {
	store := newFakeStore()
	subscriber := newFakeSubscriber()
	publisher := &fakePublisher{}

	d := NewDispatcher(store, subscriber, publisher, DefaultTable(), testDispatcherConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	sub := subscriber.next(t)
	// Let the initial (empty) drain finish so every row below arrives
	// exactly once, via the stream.
	time.Sleep(100 * time.Millisecond)

	poison := readyMessage("server.create", `{"not":"a server"}`)
	unknown := readyMessage("mystery.exchange", `{}`)
	valid := readyMessage("server.create", serverCreateJSON())
	for _, msg := range []models.OutboxMessage{poison, unknown, valid} {
		store.add(msg)
		sub.items <- StreamItem{Message: msg}
	}

	// The valid row behind the poison pills still goes out.
	require.Eventually(t, func() bool {
		return store.status(valid.ID) == models.OutboxStatusSent
	}, 2*time.Second, 10*time.Millisecond)

	// Poison rows are quarantined: SENT without a publish.
	assert.Equal(t, models.OutboxStatusSent, store.status(poison.ID))
	assert.Equal(t, models.OutboxStatusSent, store.status(unknown.ID))
	assert.Equal(t, []string{"server.create"}, publisher.exchanges())
}

func TestDispatcherRetriesPublishWithBackoff(t *testing.T) {
	store := newFakeStore()
	subscriber := newFakeSubscriber()
	publisher := &fakePublisher{failFirst: 3}

	msg := readyMessage("server.create", serverCreateJSON())
	store.add(msg)

	d := NewDispatcher(store, subscriber, publisher, DefaultTable(), testDispatcherConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()
	subscriber.next(t)

	require.Eventually(t, func() bool {
		return store.status(msg.ID) == models.OutboxStatusSent
	}, 5*time.Second, 10*time.Millisecond)

	// Each failed attempt stamped failed_at; the row still went out once.
	assert.Equal(t, 3, store.touches(msg.ID))
	assert.Equal(t, []string{"server.create"}, publisher.exchanges())
}

func TestDispatcherRedrainsAfterSubscriptionLoss(t *testing.T) {
	store := newFakeStore()
	subscriber := newFakeSubscriber()
	publisher := &fakePublisher{}

	d := NewDispatcher(store, subscriber, publisher, DefaultTable(), testDispatcherConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	first := subscriber.next(t)

	// A row commits while the subscription dies: its notification is lost.
	missed := readyMessage("server.create", serverCreateJSON())
	store.add(missed)
	first.fail(fmt.Errorf("connection reset"))

	// The dispatcher re-subscribes and recovers the row from the backlog.
	subscriber.next(t)
	require.Eventually(t, func() bool {
		return store.status(missed.ID) == models.OutboxStatusSent
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherIdleTimerForcesBacklogScan(t *testing.T) {
	store := newFakeStore()
	subscriber := newFakeSubscriber()
	publisher := &fakePublisher{}

	cfg := testDispatcherConfig()
	cfg.PollIdle = 50 * time.Millisecond

	d := NewDispatcher(store, subscriber, publisher, DefaultTable(), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()
	subscriber.next(t)

	// Commit a row whose notification is silently dropped: no stream item.
	silent := readyMessage("server.create", serverCreateJSON())
	store.add(silent)

	require.Eventually(t, func() bool {
		return store.status(silent.ID) == models.OutboxStatusSent
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherResolvesTruncatedNotifications(t *testing.T) {
	store := newFakeStore()
	subscriber := newFakeSubscriber()
	publisher := &fakePublisher{}

	d := NewDispatcher(store, subscriber, publisher, DefaultTable(), testDispatcherConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()
	sub := subscriber.next(t)
	time.Sleep(100 * time.Millisecond) // initial drain finishes empty

	msg := readyMessage("server.create", serverCreateJSON())
	store.add(msg)

	// The stream item carries identity only; the dispatcher refetches.
	stub := msg
	stub.Payload = json.RawMessage(`{}`)
	sub.items <- StreamItem{Message: stub, Truncated: true}

	require.Eventually(t, func() bool {
		return store.status(msg.ID) == models.OutboxStatusSent
	}, 2*time.Second, 10*time.Millisecond)
	require.Len(t, publisher.wireBodies(), 1)
	assert.Contains(t, string(publisher.wireBodies()[0]), "server_id")
}

func TestDispatcherStopsOnCancel(t *testing.T) {
	store := newFakeStore()
	subscriber := newFakeSubscriber()
	// Publisher that never succeeds: the dispatcher is stuck retrying.
	publisher := &fakePublisher{failFirst: 1 << 30}

	msg := readyMessage("server.create", serverCreateJSON())
	store.add(msg)

	d := NewDispatcher(store, subscriber, publisher, DefaultTable(), testDispatcherConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	subscriber.next(t)

	// Let it spin on retries, then shut down mid-backoff.
	require.Eventually(t, func() bool {
		return store.touches(msg.ID) > 0
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop on cancel")
	}

	// The row stays READY for the next dispatcher.
	assert.Equal(t, models.OutboxStatusReady, store.status(msg.ID))
}
