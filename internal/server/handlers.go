// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, state reads and the built-in counter page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/gorilla/websocket"
)

// handleWebSocket upgrades the request, announces the new client to the hub
// and only then starts its pumps, so the hub always sees Connect before any
// Message or Disconnect from that client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "err", err)
		return
	}

	client := NewClient(conn, s.hub, r.RemoteAddr, s.cfg, s.logger.WithPrefix("client"))
	if err := s.hub.Connect(client.ID(), client); err != nil {
		s.logger.Warn("Hub refused connection", "addr", r.RemoteAddr, "err", err)
		_ = client.Close()
		return
	}

	if !s.startClient(client) {
		s.logger.Info("Server shutting down; dropping connection", "addr", r.RemoteAddr)
		_ = s.hub.Disconnect(client.ID())
		_ = client.Close()
	}
}

// handleRoot serves WebSocket upgrades on "/" for clients that connect to the
// bare host, and the health text otherwise.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWebSocket(w, r)
		return
	}
	HealthHandler(w, r)
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "Counter server is running!")
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.hub.Stats()); err != nil {
		s.logger.Warn("Error writing stats response", "err", err)
	}
}

// handleState serves the last broadcast snapshot with a content hash ETag.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snapshot := s.hub.Snapshot()
	etag := `"` + strconv.FormatUint(xxhash.Sum64(snapshot), 16) + `"`

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(snapshot); err != nil {
		s.logger.Warn("Error writing state response", "err", err)
	}
}

// handleCounterPage serves a page with Add, Subtract and Reset buttons that
// talks to the WebSocket endpoint.
func (s *Server) handleCounterPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, counterPage); err != nil {
		s.logger.Warn("Error writing HTML response", "err", err)
	}
}

const counterPage = `<!DOCTYPE html>
<html>
<head>
    <title>Shared Counter</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #counter { font-size: 2em; margin: 10px 0; }
        #log {
            border: 1px solid #ccc;
            height: 200px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Shared Counter</h1>
    <div id="status" class="status disconnected">Disconnected</div>
    <div id="counter">Counter: ?</div>
    <div>
        <button id="adder">Add</button>
        <button id="subtractor">Subtract</button>
        <button id="reseter">Reset</button>
    </div>
    <div id="log"></div>

    <script>
        const counter = document.getElementById('counter');
        const statusDiv = document.getElementById('status');
        const logDiv = document.getElementById('log');
        const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
        const ws = new WebSocket(scheme + location.host + '/ws');

        function log(text) {
            const line = document.createElement('div');
            line.textContent = text;
            logDiv.appendChild(line);
            logDiv.scrollTop = logDiv.scrollHeight;
        }

        ws.onopen = function() {
            statusDiv.textContent = 'Connected';
            statusDiv.className = 'status connected';
        };

        ws.onclose = function() {
            statusDiv.textContent = 'Disconnected';
            statusDiv.className = 'status disconnected';
        };

        ws.onmessage = function(event) {
            log(event.data);
            try {
                const state = JSON.parse(event.data);
                if (state !== null && typeof state.value === 'number') {
                    counter.textContent = 'Counter: ' + state.value;
                }
            } catch (e) {}
        };

        function send(transition) {
            if (ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify(transition));
            }
        }

        document.getElementById('adder').onclick = function() { send({Add: 1}); };
        document.getElementById('subtractor').onclick = function() { send({Subtract: 1}); };
        document.getElementById('reseter').onclick = function() { send('Reset'); };
    </script>
</body>
</html>`
