// Package websocket owns the live client connections: the registry that
// tracks and broadcasts to them, the per-connection writer, the inbound
// message router, and the HTTP upgrade handler.
package websocket

import (
	"net"
	"time"
)

// Conn is the part of *websocket.Conn the registry needs. Only the
// connection's writer goroutine writes; only its router goroutine reads.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	RemoteAddr() net.Addr
	Close() error
}
