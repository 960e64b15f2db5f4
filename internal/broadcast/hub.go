// Package broadcast runs the single event loop that owns the application
// state and the connection registry.
//
// Transport goroutines never touch either resource directly. They submit
// Connect, Disconnect and Message events through the Hub, which processes them
// one at a time, so every client sees state changes in the same order.
package broadcast

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/muse254/counter-simple-websockets/internal/codec"
	"github.com/muse254/counter-simple-websockets/internal/registry"
	"github.com/muse254/counter-simple-websockets/internal/state"
)

// TextExpected is sent to a client that delivered a non-text frame.
const TextExpected = "Message format expected was text"

// ErrHubStopped is returned when an event is submitted after the hub stopped.
var ErrHubStopped = errors.New("broadcast hub stopped")

// Codec translates between wire payloads and a machine of type M.
type Codec[M state.Machine] interface {
	Decode(raw []byte) (state.Transition, error)
	Encode(m M) ([]byte, error)
}

// Stats is a point-in-time view of the hub counters.
type Stats struct {
	Clients    int    `json:"clients"`
	Revision   uint64 `json:"revision"`
	Messages   uint64 `json:"messages"`
	Broadcasts uint64 `json:"broadcasts"`
}

// Option customizes a Hub.
type Option func(*options)

type options struct {
	logger *log.Logger
}

// WithLogger sets the logger used by the hub.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Hub drives a state machine from an ordered stream of connection events and
// fans every new state out to all registered connections.
type Hub[M state.Machine] struct {
	machine  M
	codec    Codec[M]
	registry *registry.Registry
	events   chan Event
	logger   *log.Logger

	// Written by Run only; read by Stats and Snapshot from any goroutine.
	snapshot   atomic.Pointer[[]byte]
	clients    atomic.Int64
	revision   atomic.Uint64
	messages   atomic.Uint64
	broadcasts atomic.Uint64

	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHub creates a hub around machine. The initial snapshot is encoded
// immediately so a bad codec fails here rather than on the first connect.
func NewHub[M state.Machine](machine M, c Codec[M], opts ...Option) (*Hub[M], error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.Default().WithPrefix("hub")
	}

	initial, err := c.Encode(machine)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub[M]{
		machine:  machine,
		codec:    c,
		registry: registry.New(),
		events:   make(chan Event),
		logger:   o.logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	h.snapshot.Store(&initial)
	h.revision.Store(machine.Revision())
	return h, nil
}

// Run processes events until ctx is done or Shutdown is called. On exit every
// registered connection is closed. Run must be called exactly once.
func (h *Hub[M]) Run(ctx context.Context) {
	h.started.Store(true)
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdownClients()
			return
		case <-h.ctx.Done():
			h.shutdownClients()
			return
		case ev := <-h.events:
			h.handle(ev)
		}
	}
}

// Connect queues a Connect event for conn.
func (h *Hub[M]) Connect(id registry.ID, conn registry.Conn) error {
	return h.submit(Connect{ID: id, Conn: conn})
}

// Disconnect queues a Disconnect event for id.
func (h *Hub[M]) Disconnect(id registry.ID) error {
	return h.submit(Disconnect{ID: id})
}

// Deliver queues a Message event carrying a frame received from id.
func (h *Hub[M]) Deliver(id registry.ID, f codec.Frame) error {
	return h.submit(Message{ID: id, Frame: f})
}

func (h *Hub[M]) submit(ev Event) error {
	select {
	case h.events <- ev:
		return nil
	case <-h.ctx.Done():
		return ErrHubStopped
	case <-h.done:
		return ErrHubStopped
	}
}

// Stats returns the current counters.
func (h *Hub[M]) Stats() Stats {
	return Stats{
		Clients:    int(h.clients.Load()),
		Revision:   h.revision.Load(),
		Messages:   h.messages.Load(),
		Broadcasts: h.broadcasts.Load(),
	}
}

// Snapshot returns the most recently broadcast state encoding.
func (h *Hub[M]) Snapshot() []byte {
	return bytes.Clone(*h.snapshot.Load())
}

// Shutdown stops Run and waits for it to close every connection, or until
// timeout elapses. A hub whose Run never started stops immediately; a later
// Run returns at once.
func (h *Hub[M]) Shutdown(timeout time.Duration) error {
	h.logger.Info("Initiating hub shutdown")
	h.cancel()

	if !h.started.Load() {
		h.logger.Info("Hub was not running")
		return nil
	}

	select {
	case <-h.done:
		h.logger.Info("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("Hub shutdown timeout reached", "timeout", timeout)
		return context.DeadlineExceeded
	}
}

// Done is closed once Run has returned.
func (h *Hub[M]) Done() <-chan struct{} {
	return h.done
}

func (h *Hub[M]) shutdownClients() {
	n, err := h.registry.CloseAll()
	h.clients.Store(0)
	if err != nil {
		h.logger.Warn("Errors while closing clients", "err", err)
	}
	h.logger.Info("Closed client connections", "count", n)
}
