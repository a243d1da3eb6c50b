package broker

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

// setupRabbit spins up a RabbitMQ container and returns its AMQP URL.
func setupRabbit(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in -short mode")
	}

	ctx := context.Background()
	container, err := rabbitmq.Run(ctx, "rabbitmq:3.13-alpine")
	if err != nil {
		t.Skipf("Skipping: could not start rabbitmq container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	url, err := container.AmqpURL(ctx)
	require.NoError(t, err)
	return url
}

func TestPublishConfirmed(t *testing.T) {
	url := setupRabbit(t)

	cfg := DefaultConfig()
	cfg.URL = url
	client, err := NewClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	// Bind a queue so the published message is observable.
	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	ch, err := conn.Channel()
	require.NoError(t, err)

	// The client declares the exchange lazily; publish once first so it
	// exists before the binding.
	require.NoError(t, client.Publish(context.Background(), "server.create", []byte(`{"warmup":true}`)))

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, "#", "server.create", false, nil))
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	require.NoError(t, err)

	body := []byte(`{"server_id":"00000000-0000-0000-0000-000000000001"}`)
	require.NoError(t, client.Publish(context.Background(), "server.create", body))

	select {
	case msg := <-deliveries:
		assert.Equal(t, body, msg.Body)
		assert.Equal(t, "application/json", msg.ContentType)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	assert.True(t, client.IsConnected())
}
