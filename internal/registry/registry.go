// Package registry maps live connection identifiers to the handles used to
// deliver frames to them.
//
// A Registry is owned by the broadcast loop and is not safe for concurrent
// use. Membership is driven purely by connect and disconnect events; there is
// no reconciliation.
package registry

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/muse254/counter-simple-websockets/internal/codec"
)

// ErrSendFailed wraps every delivery failure returned by SendTo.
var ErrSendFailed = errors.New("send failed")

// ID identifies one client session. IDs are random and never reused.
type ID = uuid.UUID

// NewID returns a fresh connection identifier.
func NewID() ID {
	return uuid.New()
}

// Conn is the send capability of one remote peer.
type Conn interface {
	// Send queues f for delivery without waiting for the peer.
	Send(f codec.Frame) error
	// Close tears down the underlying transport.
	Close() error
}

// Registry is the set of connections that receive broadcasts.
type Registry struct {
	conns map[ID]Conn
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{conns: make(map[ID]Conn)}
}

// Register inserts or replaces the handle for id.
func (r *Registry) Register(id ID, c Conn) {
	r.conns[id] = c
}

// Unregister removes id and returns the handle it held. Removing an absent id
// is a no-op.
func (r *Registry) Unregister(id ID) (Conn, bool) {
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	return c, ok
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id ID) bool {
	_, ok := r.conns[id]
	return ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.conns)
}

// ForEach calls fn for every registered connection in unspecified order.
// fn must not register or unregister anything.
func (r *Registry) ForEach(fn func(id ID, c Conn)) {
	for id, c := range r.conns {
		fn(id, c)
	}
}

// SendTo delivers f to id only. Sending to an id that is no longer
// registered does nothing.
func (r *Registry) SendTo(id ID, f codec.Frame) error {
	c, ok := r.conns[id]
	if !ok {
		return nil
	}
	if err := c.Send(f); err != nil {
		return fmt.Errorf("%w to %s: %w", ErrSendFailed, id, err)
	}
	return nil
}

// Broadcast sends f to every registered connection and returns the delivery
// failures keyed by id. A failure never stops the pass.
func (r *Registry) Broadcast(f codec.Frame) map[ID]error {
	var failed map[ID]error
	r.ForEach(func(id ID, c Conn) {
		if err := c.Send(f); err != nil {
			if failed == nil {
				failed = make(map[ID]error)
			}
			failed[id] = err
		}
	})
	return failed
}

// CloseAll closes every registered transport and empties the registry.
// It returns the number of connections closed and the joined close errors.
func (r *Registry) CloseAll() (int, error) {
	var errs []error
	n := len(r.conns)
	for id, c := range r.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
		delete(r.conns, id)
	}
	return n, errors.Join(errs...)
}
