package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beep-industries/communities/pkg/models"
	testdb "github.com/beep-industries/communities/test/database"
)

// setupOutboxTest wires the real store, writer, and listener against a real
// PostgreSQL (testcontainers locally, service container in CI).
func setupOutboxTest(t *testing.T) (*Store, *Writer, *Listener, *pgxpool.Pool) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in -short mode")
	}

	client := testdb.NewTestClient(t)

	store := NewStore(client.Pool())
	writer := NewWriter()

	listener := NewListener(client.ConnString())
	require.NoError(t, listener.Start(context.Background()))
	t.Cleanup(func() { listener.Stop(context.Background()) })

	return store, writer, listener, client.Pool()
}

func TestOutboxWriteObserveMark(t *testing.T) {
	store, writer, listener, pool := setupOutboxTest(t)
	ctx := context.Background()
	table := DefaultTable()

	sub, err := listener.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	t.Run("committed append is observed live", func(t *testing.T) {
		tx, err := pool.Begin(ctx)
		require.NoError(t, err)

		id, err := writer.Append(ctx, tx,
			table.Descriptor(KindServerCreate),
			ServerCreatePayload{ServerID: uuid.New(), OwnerID: uuid.New(), Name: "general"})
		require.NoError(t, err)
		require.NoError(t, tx.Commit(ctx))

		item := nextItem(t, sub, 5*time.Second)
		require.NoError(t, item.Err)
		assert.Equal(t, id, item.Message.ID)
		assert.Equal(t, "server.create", item.Message.ExchangeName)
		assert.Equal(t, models.OutboxStatusReady, item.Message.Status)

		// Backlog sees it too.
		messages, total, err := store.FetchBacklog(ctx, 1, 10)
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		require.Len(t, messages, 1)
		assert.Equal(t, id, messages[0].ID)

		// Mark SENT, then GC removes exactly that row.
		marked, err := store.MarkSent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.OutboxStatusSent, marked.Status)

		deleted, err := store.DeleteSent(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, deleted)
	})

	t.Run("rolled back append leaves nothing behind", func(t *testing.T) {
		tx, err := pool.Begin(ctx)
		require.NoError(t, err)

		_, err = writer.Append(ctx, tx,
			table.Descriptor(KindServerCreate),
			ServerCreatePayload{ServerID: uuid.New(), OwnerID: uuid.New()})
		require.NoError(t, err)
		require.NoError(t, tx.Rollback(ctx))

		// No row...
		_, total, err := store.FetchBacklog(ctx, 1, 10)
		require.NoError(t, err)
		assert.EqualValues(t, 0, total)

		// ...and no notification.
		select {
		case item := <-sub.Items():
			t.Fatalf("unexpected notification after rollback: %+v", item)
		case <-time.After(500 * time.Millisecond):
		}
	})

	t.Run("same-id appends collapse to one row", func(t *testing.T) {
		rec, err := NewRecord(table.Descriptor(KindServerDelete),
			ServerDeletePayload{ServerID: uuid.New()})
		require.NoError(t, err)

		for range 2 {
			tx, err := pool.Begin(ctx)
			require.NoError(t, err)
			id, err := rec.Write(ctx, tx)
			require.NoError(t, err)
			assert.Equal(t, rec.ID, id)
			require.NoError(t, tx.Commit(ctx))
		}

		var count int
		err = pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM outbox_messages WHERE id = $1`, rec.ID).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("mark of a missing id reports not found", func(t *testing.T) {
		_, err := store.MarkSent(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrEventNotFound)
	})
}

func TestGCPreservesReady(t *testing.T) {
	store, writer, _, pool := setupOutboxTest(t)
	ctx := context.Background()
	table := DefaultTable()

	var readyID uuid.UUID
	var sentID uuid.UUID
	for i := range 2 {
		tx, err := pool.Begin(ctx)
		require.NoError(t, err)
		id, err := writer.Append(ctx, tx,
			table.Descriptor(KindServerCreate),
			ServerCreatePayload{ServerID: uuid.New(), OwnerID: uuid.New()})
		require.NoError(t, err)
		require.NoError(t, tx.Commit(ctx))
		if i == 0 {
			readyID = id
		} else {
			sentID = id
		}
	}

	_, err := store.MarkSent(ctx, sentID)
	require.NoError(t, err)

	deleted, err := store.DeleteSent(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	survivor, err := store.Get(ctx, readyID)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxStatusReady, survivor.Status)
}

func TestDispatcherEndToEnd(t *testing.T) {
	store, writer, listener, pool := setupOutboxTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	table := DefaultTable()
	publisher := &fakePublisher{}

	cfg := testDispatcherConfig()
	d := NewDispatcher(store, listener, publisher, table, cfg)
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// Scenario: one committed event flows write → notify → publish → SENT.
	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	id, err := writer.Append(ctx, tx,
		table.Descriptor(KindServerCreate),
		ServerCreatePayload{
			ServerID: uuid.MustParse("00000000-0000-0000-0000-000000000001"),
			OwnerID:  uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	require.Eventually(t, func() bool {
		msg, err := store.Get(ctx, id)
		return err == nil && msg.Status == models.OutboxStatusSent
	}, 10*time.Second, 50*time.Millisecond)

	require.Equal(t, []string{"server.create"}, publisher.exchanges())
	var wire map[string]any
	require.NoError(t, json.Unmarshal(publisher.wireBodies()[0], &wire))
	assert.Equal(t, "00000000-0000-0000-0000-000000000001", wire["server_id"])

	// Exactly one broker publish; GC then reclaims the row.
	deleted, err := store.DeleteSent(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func nextItem(t *testing.T, sub *Subscription, timeout time.Duration) StreamItem {
	t.Helper()
	select {
	case item, ok := <-sub.Items():
		require.True(t, ok, "subscription closed unexpectedly")
		return item
	case <-time.After(timeout):
		t.Fatal("timed out waiting for outbox notification")
		return StreamItem{}
	}
}
