package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/muse254/counter-simple-websockets/internal/broadcast"
	"github.com/muse254/counter-simple-websockets/internal/codec"
	"github.com/muse254/counter-simple-websockets/internal/state"
)

const (
	testTimeout   = 2 * time.Second
	testOriginURL = "http://localhost:8080"
)

type testEnv struct {
	hub     *broadcast.Hub[*state.Counter]
	srv     *Server
	ts      *httptest.Server
	baseURL string
	wsURL   string
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

// newTestEnv starts a hub and an httptest server around it. Everything is
// torn down when the test ends.
func newTestEnv(t *testing.T, cfg *Config) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = NewConfig()
	}

	hub, err := broadcast.NewHub(state.NewCounter(), codec.Counter{}, broadcast.WithLogger(quietLogger()))
	require.NoError(t, err)
	go hub.Run(t.Context())

	srv := New(cfg, hub, quietLogger())
	ts := httptest.NewServer(srv.Routes())

	t.Cleanup(func() {
		_ = hub.Shutdown(testTimeout)
		ts.Close()
	})

	return &testEnv{
		hub:     hub,
		srv:     srv,
		ts:      ts,
		baseURL: ts.URL,
		wsURL:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

// dial connects to url with the given Origin header ("" for none).
func dial(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: testTimeout}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// connect dials the WebSocket endpoint and consumes the initial snapshot,
// which must equal wantSnapshot.
func (e *testEnv) connect(t *testing.T, wantSnapshot string) *websocket.Conn {
	t.Helper()
	conn, _, err := dial(e.wsURL, testOriginURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	expectText(t, conn, wantSnapshot)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) (int, string) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
	messageType, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	return messageType, string(payload)
}

func expectText(t *testing.T, conn *websocket.Conn, want string) {
	t.Helper()
	messageType, got := readFrame(t, conn)
	require.Equal(t, websocket.TextMessage, messageType)
	require.Equal(t, want, got)
}

func sendText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(text)))
}

// waitForClients blocks until the hub has exactly n registered clients.
func (e *testEnv) waitForClients(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.hub.Stats().Clients == n
	}, testTimeout, 5*time.Millisecond)
}
