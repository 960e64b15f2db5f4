package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muse254/counter-simple-websockets/internal/broadcast"
)

// TestCounterScenario drives the add/subtract/reset sequence from two clients
// and checks both converge after every step.
func TestCounterScenario(t *testing.T) {
	env := newTestEnv(t, nil)

	a := env.connect(t, `{"value":0}`)
	b := env.connect(t, `{"value":0}`)
	env.waitForClients(t, 2)

	sendText(t, a, `{"Add":1}`)
	expectText(t, a, `{"value":1}`)
	expectText(t, a, `{"Add":1}`)
	expectText(t, b, `{"value":1}`)

	sendText(t, b, `{"Subtract":3}`)
	expectText(t, b, `{"value":-2}`)
	expectText(t, b, `{"Subtract":3}`)
	expectText(t, a, `{"value":-2}`)

	sendText(t, a, `"Reset"`)
	expectText(t, a, `{"value":0}`)
	expectText(t, a, `"Reset"`)
	expectText(t, b, `{"value":0}`)
}

func TestPlainTextIsEchoedToSenderOnly(t *testing.T) {
	env := newTestEnv(t, nil)

	a := env.connect(t, `{"value":0}`)
	b := env.connect(t, `{"value":0}`)
	env.waitForClients(t, 2)

	sendText(t, a, "hello")
	expectText(t, a, "hello")

	// b's next frame must be the state produced by the following transition,
	// proving nothing was broadcast for "hello".
	sendText(t, a, `{"Add":1}`)
	expectText(t, b, `{"value":1}`)
	expectText(t, a, `{"value":1}`)
	assert.Eventually(t, func() bool {
		return env.hub.Stats().Broadcasts == 1
	}, testTimeout, 5*time.Millisecond)
}

func TestBinaryFrameIsRejectedAndEchoed(t *testing.T) {
	env := newTestEnv(t, nil)

	a := env.connect(t, `{"value":0}`)
	b := env.connect(t, `{"value":0}`)
	env.waitForClients(t, 2)

	payload := []byte(`{"Add":1}`)
	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, payload))

	expectText(t, a, broadcast.TextExpected)
	messageType, echo := readFrame(t, a)
	assert.Equal(t, websocket.BinaryMessage, messageType)
	assert.Equal(t, string(payload), echo)

	sendText(t, a, `{"Subtract":1}`)
	expectText(t, b, `{"value":-1}`)
}

func TestNewClientReceivesCurrentState(t *testing.T) {
	env := newTestEnv(t, nil)

	a := env.connect(t, `{"value":0}`)
	sendText(t, a, `{"Add":5}`)
	expectText(t, a, `{"value":5}`)

	late := env.connect(t, `{"value":5}`)
	sendText(t, late, `{"Add":1}`)
	expectText(t, late, `{"value":6}`)
	expectText(t, a, `{"Add":5}`)
	expectText(t, a, `{"value":6}`)
}

func TestDisconnectedClientMissesLaterBroadcasts(t *testing.T) {
	env := newTestEnv(t, nil)

	a := env.connect(t, `{"value":0}`)
	b := env.connect(t, `{"value":0}`)
	c := env.connect(t, `{"value":0}`)
	env.waitForClients(t, 3)

	require.NoError(t, b.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	env.waitForClients(t, 2)

	sendText(t, c, `{"Add":2}`)
	expectText(t, c, `{"value":2}`)
	expectText(t, a, `{"value":2}`)
	assert.Equal(t, 2, env.hub.Stats().Clients)
}

func TestUpgradeOnRootPath(t *testing.T) {
	env := newTestEnv(t, nil)

	conn, _, err := dial("ws"+strings.TrimPrefix(env.baseURL, "http")+"/", "")
	require.NoError(t, err)
	defer conn.Close()

	expectText(t, conn, `{"value":0}`)
}

func TestDisallowedOriginIsRejected(t *testing.T) {
	cfg := NewConfig()
	cfg.AllowedOrigins = []string{testOriginURL}
	env := newTestEnv(t, cfg)

	_, resp, err := dial(env.wsURL, "http://evil.example")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)

	conn, _, err := dial(env.wsURL, testOriginURL)
	require.NoError(t, err)
	defer conn.Close()
	expectText(t, conn, `{"value":0}`)
}

func TestOversizedMessageClosesConnection(t *testing.T) {
	cfg := NewConfig()
	cfg.MaxMessageSize = 32
	env := newTestEnv(t, cfg)

	a := env.connect(t, `{"value":0}`)
	env.waitForClients(t, 1)

	sendText(t, a, strings.Repeat("x", 100))

	require.NoError(t, a.SetReadDeadline(time.Now().Add(testTimeout)))
	_, _, err := a.ReadMessage()
	require.Error(t, err)
	env.waitForClients(t, 0)
}

func TestRateLimitDropsExcessMessages(t *testing.T) {
	cfg := NewConfig()
	cfg.RateLimit = RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	env := newTestEnv(t, cfg)

	a := env.connect(t, `{"value":0}`)
	for _, msg := range []string{"one", "two", "three", "four"} {
		sendText(t, a, msg)
	}

	expectText(t, a, "one")
	expectText(t, a, "two")
	require.Eventually(t, func() bool {
		return env.hub.Stats().Messages == 2
	}, testTimeout, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(2), env.hub.Stats().Messages)
}

func TestHubShutdownClosesClients(t *testing.T) {
	env := newTestEnv(t, nil)

	a := env.connect(t, `{"value":0}`)
	env.waitForClients(t, 1)

	require.NoError(t, env.hub.Shutdown(testTimeout))

	require.NoError(t, a.SetReadDeadline(time.Now().Add(testTimeout)))
	_, _, err := a.ReadMessage()
	require.Error(t, err)

	// The upgrade itself may still succeed, but the hub refuses the client
	// and the server drops the connection.
	late, _, err := dial(env.wsURL, testOriginURL)
	if err == nil {
		defer late.Close()
		require.NoError(t, late.SetReadDeadline(time.Now().Add(testTimeout)))
		_, _, err = late.ReadMessage()
		assert.Error(t, err)
	}
}

func TestGetWithoutUpgradeHeaders(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := get(t, env.baseURL+"/ws", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMessageExactlyAtSizeLimit(t *testing.T) {
	cfg := NewConfig()
	cfg.MaxMessageSize = 32
	env := newTestEnv(t, cfg)

	a := env.connect(t, `{"value":0}`)
	msg := strings.Repeat("y", 32)
	sendText(t, a, msg)
	expectText(t, a, msg)
}

func TestConcurrentClientsConverge(t *testing.T) {
	env := newTestEnv(t, nil)

	const numClients = 5
	conns := make([]*websocket.Conn, numClients)
	for i := range conns {
		conns[i] = env.connect(t, `{"value":0}`)
	}
	env.waitForClients(t, numClients)

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(c *websocket.Conn) {
			defer wg.Done()
			_ = c.WriteMessage(websocket.TextMessage, []byte(`{"Add":1}`))
		}(conn)
	}
	wg.Wait()

	// Every client sees the values 1..numClients in order, interleaved with
	// its own echo.
	for i, conn := range conns {
		want := 1
		for want <= numClients {
			_, frame := readFrame(t, conn)
			if frame == `{"Add":1}` {
				continue
			}
			require.Equal(t, fmt.Sprintf(`{"value":%d}`, want), frame, "client %d", i)
			want++
		}
	}
}

func TestServerShutdownRefusesNewClients(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, env.srv.Shutdown(ctx))

	// The httptest listener still accepts, but the server no longer starts
	// pumps, so the hub forgets the client and the socket is dropped.
	conn, _, err := dial(env.wsURL, testOriginURL)
	if err == nil {
		defer conn.Close()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
		_, _, err = conn.ReadMessage()
		assert.Error(t, err)
	}
	env.waitForClients(t, 0)
	assert.False(t, env.srv.startClient(NewClient(nil, env.hub, "127.0.0.1:1", nil, quietLogger())))
}
