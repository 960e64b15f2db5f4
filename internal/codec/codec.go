// Package codec converts between raw WebSocket payloads and the typed values
// of package state.
//
// Transitions use an externally tagged JSON form: {"Add":1}, {"Subtract":3}
// and "Reset" (or {"Reset":null}). States are plain objects: {"value":-2}.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/muse254/counter-simple-websockets/internal/state"
)

// ErrNotTransition is returned by DecodeTransition for any payload that does
// not match the transition schema. It is informational, never fatal.
var ErrNotTransition = errors.New("not a transition")

var jsonNull = []byte("null")

// DecodeTransition parses raw as one of the counter transitions.
func DecodeTransition(raw []byte) (state.Transition, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrNotTransition)
	}

	if raw[0] == '"' {
		var tag string
		if err := json.Unmarshal(raw, &tag); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotTransition, err)
		}
		if tag != state.KindReset {
			return nil, fmt.Errorf("%w: unknown unit tag %q", ErrNotTransition, tag)
		}
		return state.Reset{}, nil
	}

	tag, body, err := splitTagged(raw)
	if err != nil {
		return nil, err
	}
	return decodeTagged(tag, body)
}

// splitTagged walks a {"Tag":body} object token by token. Duplicate or
// additional keys are rejected rather than resolved last-wins.
func splitTagged(raw []byte) (string, json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrNotTransition, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return "", nil, fmt.Errorf("%w: expected an object, got %v", ErrNotTransition, tok)
	}
	if !dec.More() {
		return "", nil, fmt.Errorf("%w: expected exactly one tag, got none", ErrNotTransition)
	}

	tok, err = dec.Token()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrNotTransition, err)
	}
	tag, ok := tok.(string)
	if !ok {
		return "", nil, fmt.Errorf("%w: unexpected key %v", ErrNotTransition, tok)
	}

	var body json.RawMessage
	if err := dec.Decode(&body); err != nil {
		return "", nil, fmt.Errorf("%w: %s body: %v", ErrNotTransition, tag, err)
	}
	if dec.More() {
		return "", nil, fmt.Errorf("%w: expected exactly one tag after %q", ErrNotTransition, tag)
	}

	if tok, err = dec.Token(); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrNotTransition, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '}' {
		return "", nil, fmt.Errorf("%w: unterminated object", ErrNotTransition)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return "", nil, fmt.Errorf("%w: trailing data after object", ErrNotTransition)
	}
	return tag, body, nil
}

func decodeTagged(tag string, body json.RawMessage) (state.Transition, error) {
	switch tag {
	case state.KindAdd:
		n, err := decodeAmount(tag, body)
		if err != nil {
			return nil, err
		}
		return state.Add{Amount: n}, nil
	case state.KindSubtract:
		n, err := decodeAmount(tag, body)
		if err != nil {
			return nil, err
		}
		return state.Subtract{Amount: n}, nil
	case state.KindReset:
		if !bytes.Equal(bytes.TrimSpace(body), jsonNull) {
			return nil, fmt.Errorf("%w: %s takes no fields", ErrNotTransition, tag)
		}
		return state.Reset{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown tag %q", ErrNotTransition, tag)
	}
}

func decodeAmount(tag string, body json.RawMessage) (int64, error) {
	if bytes.Equal(bytes.TrimSpace(body), jsonNull) {
		return 0, fmt.Errorf("%w: %s requires an amount", ErrNotTransition, tag)
	}
	var n int64
	if err := json.Unmarshal(body, &n); err != nil {
		return 0, fmt.Errorf("%w: %s amount: %v", ErrNotTransition, tag, err)
	}
	return n, nil
}

// EncodeTransition renders t in the same form DecodeTransition accepts.
func EncodeTransition(t state.Transition) ([]byte, error) {
	switch t := t.(type) {
	case state.Add:
		return json.Marshal(map[string]int64{state.KindAdd: t.Amount})
	case state.Subtract:
		return json.Marshal(map[string]int64{state.KindSubtract: t.Amount})
	case state.Reset:
		return json.Marshal(state.KindReset)
	default:
		return nil, fmt.Errorf("encode transition: unsupported type %T", t)
	}
}

// EncodeState renders the full counter snapshot.
func EncodeState(c state.Counter) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

// DecodeState parses a snapshot produced by EncodeState.
func DecodeState(raw []byte) (state.Counter, error) {
	var c state.Counter
	if err := json.Unmarshal(raw, &c); err != nil {
		return state.Counter{}, fmt.Errorf("decode state: %w", err)
	}
	return c, nil
}

// Counter adapts the package functions to a *state.Counter machine.
type Counter struct{}

// Decode parses a counter transition.
func (Counter) Decode(raw []byte) (state.Transition, error) {
	return DecodeTransition(raw)
}

// Encode renders the current value of m.
func (Counter) Encode(m *state.Counter) ([]byte, error) {
	return EncodeState(m.Snapshot())
}
