package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tyrowin/journal-realtime/internal/config"
	"github.com/Tyrowin/journal-realtime/internal/hub"
)

func newTestClient(t *testing.T, buffer int) *Client {
	t.Helper()
	cfg := config.Default()
	cfg.SendBufferSize = buffer
	return newClient(nil, &Server{cfg: &cfg, log: zap.NewNop()}, "127.0.0.1:1")
}

func TestClientSendBuffer(t *testing.T) {
	c := newTestClient(t, 2)

	require.NoError(t, c.Send([]byte("a")))
	require.NoError(t, c.Send([]byte("b")))
	assert.ErrorIs(t, c.Send([]byte("c")), hub.ErrSendBufferFull)

	assert.Equal(t, []byte("a"), <-c.send)
	assert.NoError(t, c.Send([]byte("c")))
}

func TestClientClose(t *testing.T) {
	c := newTestClient(t, 1)
	require.NoError(t, c.Send([]byte("queued")))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "close is idempotent")
	assert.ErrorIs(t, c.Send([]byte("late")), hub.ErrPeerClosed)

	frame, ok := <-c.send
	assert.True(t, ok, "queued frames are still flushed")
	assert.Equal(t, []byte("queued"), frame)
	_, ok = <-c.send
	assert.False(t, ok)
}
