package broadcast

import (
	"github.com/muse254/counter-simple-websockets/internal/codec"
	"github.com/muse254/counter-simple-websockets/internal/registry"
)

// Event is one of Connect, Disconnect or Message.
type Event interface {
	event()
}

// Connect announces a new session and its send capability.
type Connect struct {
	ID   registry.ID
	Conn registry.Conn
}

// Disconnect announces the end of a session.
type Disconnect struct {
	ID registry.ID
}

// Message carries one frame received from a session.
type Message struct {
	ID    registry.ID
	Frame codec.Frame
}

func (Connect) event()    {}
func (Disconnect) event() {}
func (Message) event()    {}

func (h *Hub[M]) handle(ev Event) {
	switch ev := ev.(type) {
	case Connect:
		h.handleConnect(ev)
	case Disconnect:
		h.handleDisconnect(ev)
	case Message:
		h.handleMessage(ev)
	default:
		h.logger.Error("Unknown event", "type", ev)
	}
}

// handleConnect sends the current snapshot to the new client before adding it
// to the fan-out set.
func (h *Hub[M]) handleConnect(ev Connect) {
	if ev.Conn == nil {
		h.logger.Warn("Received nil connection; skipping", "client", ev.ID)
		return
	}

	if err := ev.Conn.Send(codec.Text(*h.snapshot.Load())); err != nil {
		h.logger.Warn("Failed to send initial state", "client", ev.ID, "err", err)
	}

	h.registry.Register(ev.ID, ev.Conn)
	h.clients.Store(int64(h.registry.Len()))
	h.logger.Info("Client connected", "client", ev.ID, "clients", h.registry.Len())
}

func (h *Hub[M]) handleDisconnect(ev Disconnect) {
	if _, ok := h.registry.Unregister(ev.ID); !ok {
		h.logger.Debug("Disconnect for unknown client", "client", ev.ID)
		return
	}
	h.clients.Store(int64(h.registry.Len()))
	h.logger.Info("Client disconnected", "client", ev.ID, "clients", h.registry.Len())
}

// handleMessage applies text frames as transitions when they decode as one,
// then always echoes the original frame to its sender.
func (h *Hub[M]) handleMessage(ev Message) {
	h.messages.Add(1)
	h.logger.Debug("Received message", "client", ev.ID, "type", ev.Frame.Type)

	if ev.Frame.IsText() {
		h.transitionAndBroadcast(ev.ID, ev.Frame.Payload)
	} else {
		h.logger.Warn("Message format expected was text", "client", ev.ID, "type", ev.Frame.Type)
		h.sendTo(ev.ID, codec.Text([]byte(TextExpected)))
	}

	h.sendTo(ev.ID, ev.Frame)
}

func (h *Hub[M]) transitionAndBroadcast(id registry.ID, payload []byte) {
	t, err := h.codec.Decode(payload)
	if err != nil {
		h.logger.Info("Received message", "client", id, "text", string(payload))
		h.logger.Debug("Message is not a transition", "client", id, "reason", err)
		return
	}

	if err := h.machine.Apply(t); err != nil {
		h.logger.Error("Failed to apply transition", "client", id, "transition", t.Kind(), "err", err)
		return
	}
	h.revision.Store(h.machine.Revision())

	encoded, err := h.codec.Encode(h.machine)
	if err != nil {
		h.logger.Error("Failed to encode state", "client", id, "revision", h.machine.Revision(), "err", err)
		return
	}
	h.snapshot.Store(&encoded)

	failed := h.registry.Broadcast(codec.Text(encoded))
	h.broadcasts.Add(1)
	for target, err := range failed {
		h.logger.Warn("Failed to deliver state", "client", target, "err", err)
	}
	h.logger.Debug("Broadcast state", "client", id, "transition", t.Kind(),
		"revision", h.machine.Revision(), "recipients", h.registry.Len()-len(failed))
}

func (h *Hub[M]) sendTo(id registry.ID, f codec.Frame) {
	if err := h.registry.SendTo(id, f); err != nil {
		h.logger.Warn("Failed to reply", "client", id, "err", err)
	}
}
