package websocket

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/tutulonan/rsspulse/internal/adapter/metrics"
)

var errFakeClosed = errors.New("fake connection closed")

// fakeConn records text frames. failAfter > 0 makes every text write after
// that many succeed fail; block makes text writes hang until Close.
type fakeConn struct {
	mu          sync.Mutex
	frames      [][]byte
	closeFrames [][]byte
	pings       int
	failAfter   int
	block       bool

	incoming  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return errFakeClosed
	default:
	}

	f.mu.Lock()
	switch messageType {
	case websocket.PingMessage:
		f.pings++
		f.mu.Unlock()
		return nil
	case websocket.CloseMessage:
		f.closeFrames = append(f.closeFrames, data)
		f.mu.Unlock()
		return nil
	}

	if f.block {
		f.mu.Unlock()
		<-f.closed
		return errFakeClosed
	}
	if f.failAfter > 0 && len(f.frames) >= f.failAfter {
		f.mu.Unlock()
		return errors.New("broken pipe")
	}
	f.frames = append(f.frames, data)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-f.incoming:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, errFakeClosed
	}
}

func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}
func (f *fakeConn) RemoteAddr() net.Addr              { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// messages decodes every recorded text frame.
func (f *fakeConn) messages(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]map[string]any, 0, len(f.frames))
	for _, frame := range f.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(frame, &m))
		out = append(out, m)
	}
	return out
}

func (f *fakeConn) events(t *testing.T) []string {
	t.Helper()
	var events []string
	for _, m := range f.messages(t) {
		events = append(events, m["event"].(string))
	}
	return events
}

func newTestMetrics() *metrics.WebSocketMetrics {
	return metrics.NewWebSocketMetrics(prometheus.NewRegistry())
}
