package codec

// FrameType distinguishes text from binary WebSocket payloads.
type FrameType int

const (
	FrameText FrameType = iota + 1
	FrameBinary
)

func (t FrameType) String() string {
	switch t {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Frame is one message as it travels between a client and the loop.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Text wraps payload in a text frame.
func Text(payload []byte) Frame {
	return Frame{Type: FrameText, Payload: payload}
}

// Binary wraps payload in a binary frame.
func Binary(payload []byte) Frame {
	return Frame{Type: FrameBinary, Payload: payload}
}

// IsText reports whether f carries text.
func (f Frame) IsText() bool {
	return f.Type == FrameText
}
