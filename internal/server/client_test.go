package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muse254/counter-simple-websockets/internal/codec"
)

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(nil, nil, "127.0.0.1:12345", nil, quietLogger())

	require.NotNil(t, client)
	assert.NotEqual(t, client.ID(), NewClient(nil, nil, "127.0.0.1:12346", nil, quietLogger()).ID())
	assert.Equal(t, defaultSendQueueSize, cap(client.send))
	assert.Nil(t, client.rateLimiter)
}

func TestClientSendOverflowClosesClient(t *testing.T) {
	cfg := NewConfig()
	cfg.SendQueueSize = 1
	client := NewClient(nil, nil, "127.0.0.1:12345", cfg, quietLogger())

	require.NoError(t, client.Send(codec.Text([]byte(`{"value":1}`))))
	assert.ErrorIs(t, client.Send(codec.Text([]byte(`{"value":2}`))), ErrSendQueueFull)

	select {
	case <-client.done:
	default:
		t.Fatal("client should be closed after overflow")
	}
	assert.ErrorIs(t, client.Send(codec.Text([]byte(`{"value":3}`))), ErrClientClosed)
}

func TestClientCloseIsIdempotent(t *testing.T) {
	client := NewClient(nil, nil, "127.0.0.1:12345", nil, quietLogger())

	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close())
	assert.ErrorIs(t, client.Send(codec.Text([]byte("x"))), ErrClientClosed)
}

func TestToFrame(t *testing.T) {
	f, ok := toFrame(1, []byte("a"))
	assert.True(t, ok)
	assert.Equal(t, codec.FrameText, f.Type)

	f, ok = toFrame(2, []byte{0})
	assert.True(t, ok)
	assert.Equal(t, codec.FrameBinary, f.Type)

	_, ok = toFrame(9, nil)
	assert.False(t, ok)
}
