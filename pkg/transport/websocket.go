package transport

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haivivi/ecostream/pkg/stream"
)

// DefaultWriteTimeout bounds a single WebSocket write.
const DefaultWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketSink sends events as JSON envelopes, one per text message.
type WebSocketSink struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	WriteTimeout time.Duration
	err          error
}

// NewWebSocketSink wraps conn.
func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{conn: conn, WriteTimeout: DefaultWriteTimeout}
}

// Emit implements stream.Sink.
func (s *WebSocketSink) Emit(ev stream.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	if s.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
	}
	if s.err = s.conn.WriteJSON(NewEnvelope(ev)); s.err != nil {
		slog.Debug("transport: websocket write failed", "error", s.err)
	}
}

// Close sends a normal close frame.
func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.conn.Close()
}

// Err returns the first write error.
func (s *WebSocketSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
