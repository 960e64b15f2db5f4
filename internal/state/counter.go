package state

// Transition tags as they appear on the wire.
const (
	KindAdd      = "Add"
	KindSubtract = "Subtract"
	KindReset    = "Reset"
)

// Add increases the counter by Amount.
type Add struct{ Amount int64 }

// Subtract decreases the counter by Amount.
type Subtract struct{ Amount int64 }

// Reset sets the counter back to zero.
type Reset struct{}

func (Add) Kind() string      { return KindAdd }
func (Subtract) Kind() string { return KindSubtract }
func (Reset) Kind() string    { return KindReset }

// Counter is a signed integer shared by every client.
//
// Arithmetic wraps around on int64 overflow; no transition is ever refused
// for being out of range.
type Counter struct {
	Value int64 `json:"value"`

	revision uint64
}

// NewCounter returns a counter at zero.
func NewCounter() *Counter {
	return &Counter{}
}

// Apply implements Machine.
func (c *Counter) Apply(t Transition) error {
	switch t := t.(type) {
	case Add:
		c.Value += t.Amount
	case Subtract:
		c.Value -= t.Amount
	case Reset:
		c.Value = 0
	default:
		return &Conflict{Transition: t, Reason: "unsupported transition"}
	}
	c.revision++
	return nil
}

// Revision implements Machine.
func (c *Counter) Revision() uint64 {
	return c.revision
}

// Snapshot returns a copy of the current value. The copy carries no revision.
func (c *Counter) Snapshot() Counter {
	return Counter{Value: c.Value}
}
