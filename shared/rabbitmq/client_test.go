package rabbitmq

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_RequiresConnection(t *testing.T) {
	c := &Client{
		config: &Config{RoutingKey: "jobs.create"},
		logger: slog.New(slog.DiscardHandler),
	}

	assert.False(t, c.IsConnected())

	_, err := c.Consume("worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")

	err = c.PublishWithRetry(context.Background(), "jobs.demo", []byte(`{}`), "application/json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")

	assert.NoError(t, c.Close())
}

func TestNewClient_UnreachableBroker(t *testing.T) {
	_, err := NewClient(&Config{
		Host: "127.0.0.1",
		Port: 1,
		User: "guest", Password: "guest",
		VHost: "/",
	}, slog.New(slog.DiscardHandler))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 1 attempts")
}
