package nats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClient_PingWithoutConnection(t *testing.T) {
	c := &Client{}
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Ping(context.Background()), ErrNotConnected)
	c.Close()
}
