// Package server is the WebSocket transport and HTTP surface of the counter
// service.
//
// Each accepted WebSocket becomes a Client whose read pump turns frames into
// hub events and whose write pump drains the frames the hub queues for it.
// The hub itself lives in package broadcast; this package never touches the
// application state directly.
package server
