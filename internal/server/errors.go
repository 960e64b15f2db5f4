package server

import (
	"errors"
	"strings"
)

var (
	// ErrSendQueueFull is returned by Client.Send when the peer is not keeping
	// up. The client closes itself before returning it.
	ErrSendQueueFull = errors.New("client send queue full")
	// ErrClientClosed is returned by Client.Send after the client shut down.
	ErrClientClosed = errors.New("client closed")
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
