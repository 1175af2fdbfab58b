package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/haivivi/ecostream/pkg/stream"
)

// DefaultHeartbeat is the keepalive interval of SSE responses.
const DefaultHeartbeat = 15 * time.Second

// SSESink writes events as Server-Sent Events. It is safe for concurrent
// use; the first write error is kept and later writes are skipped.
type SSESink struct {
	mu  sync.Mutex
	w   io.Writer
	f   http.Flusher
	seq int
	err error
}

// NewSSESink prepares w for an event stream.
func NewSSESink(w http.ResponseWriter) (*SSESink, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &SSESink{w: w, f: f}, nil
}

// Emit implements stream.Sink.
func (s *SSESink) Emit(ev stream.Event) {
	env := NewEnvelope(ev)
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("transport: encode event", "type", env.Type, "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	s.seq++
	_, s.err = fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", s.seq, env.EventName(), data)
	s.flush()
}

// Comment writes an SSE comment line.
func (s *SSESink) Comment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	_, s.err = fmt.Fprintf(s.w, ": %s\n\n", text)
	s.flush()
	return s.err
}

func (s *SSESink) flush() {
	if s.err == nil && s.f != nil {
		s.f.Flush()
	}
}

// Err returns the first write error.
func (s *SSESink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Heartbeat writes a keepalive comment every interval until ctx is done or
// a write fails.
func (s *SSESink) Heartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.Comment("ping"); err != nil {
				slog.Debug("transport: heartbeat stopped", "error", err)
				return
			}
		}
	}
}
