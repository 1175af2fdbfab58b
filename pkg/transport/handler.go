package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haivivi/ecostream/pkg/stream"
)

// Handler serves chat turns. POST /v1/chat streams Server-Sent Events; the
// same path upgraded to WebSocket reads the ChatRequest as the first
// message and accepts {"type":"cancel"} afterwards.
//
// Routes:
//
//	/v1/chat                 chat turn (SSE or WebSocket)
//	POST /v1/chat/{id}/cancel  cancel an active run
//	GET /v1/streams          active run ids
//	GET /healthz             liveness
type Handler struct {
	Pipeline     *Pipeline
	Orchestrator *stream.Orchestrator

	// GuardTimeout is the wait for the first chunk before GuardMessage is
	// sent. Zero uses DefaultGuardTimeout.
	GuardTimeout time.Duration
	// Heartbeat is the SSE keepalive interval.
	Heartbeat time.Duration

	once sync.Once
	mux  *http.ServeMux
	bg   sync.WaitGroup
}

func (h *Handler) routes() {
	h.mux = http.NewServeMux()
	h.mux.HandleFunc("/v1/chat", h.handleChat)
	h.mux.HandleFunc("POST /v1/chat/{id}/cancel", h.handleCancel)
	h.mux.HandleFunc("GET /v1/streams", h.handleStreams)
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.once.Do(h.routes)
	h.mux.ServeHTTP(w, r)
}

// Wait blocks until every background finalization has finished.
func (h *Handler) Wait() {
	h.bg.Wait()
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		h.handleWebSocket(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var cr ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&cr); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(cr.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	sink, err := NewSSESink(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hbCtx, stopHeartbeat := context.WithCancel(r.Context())
	var hb sync.WaitGroup
	hb.Go(func() { sink.Heartbeat(hbCtx, h.Heartbeat) })
	defer hb.Wait()
	defer stopHeartbeat()

	h.serve(r.Context(), cr, sink)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("transport: websocket upgrade failed", "error", err)
		return
	}
	sink := NewWebSocketSink(conn)
	defer sink.Close()

	var cr ChatRequest
	if err := conn.ReadJSON(&cr); err != nil || strings.TrimSpace(cr.Text) == "" {
		sink.Emit(stream.Error{Err: errors.New("transport: invalid chat request")})
		return
	}

	ctx, cancel := context.WithCancelCause(r.Context())
	defer cancel(nil)
	go func() {
		for {
			var msg struct {
				Type string `json:"type"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				cancel(err)
				return
			}
			if msg.Type == "cancel" {
				cancel(stream.ErrCancelled)
			}
		}
	}()
	h.serve(ctx, cr, sink)
}

// serve runs one turn into sink and finalizes it in the background.
func (h *Handler) serve(ctx context.Context, cr ChatRequest, sink stream.Sink) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	p := h.Pipeline
	if p == nil {
		p = &Pipeline{}
	}
	req, _ := p.Prepare(ctx, cr)

	guard := NewGuard(sink, h.GuardTimeout, cancel)
	defer guard.Stop()
	sess, err := h.Orchestrator.Run(ctx, req, guard)
	if err != nil {
		if guard.Tripped() {
			return
		}
		if errors.Is(err, stream.ErrAborted) {
			slog.Info("transport: run aborted", "stream", req.StreamID, "cause", context.Cause(ctx))
			return
		}
		slog.Error("transport: run failed", "stream", req.StreamID, "error", err)
		return
	}

	fctx := context.WithoutCancel(ctx)
	h.bg.Go(func() {
		res, err := sess.Finalize(fctx)
		if err != nil {
			slog.Warn("transport: finalize failed", "stream", sess.ID, "error", err)
			return
		}
		slog.Debug("transport: finalized", "stream", sess.ID, "block", res.BlockStatus)
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	reg := h.Orchestrator.Registry
	if reg == nil || !reg.Cancel(r.PathValue("id")) {
		http.Error(w, "stream not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStreams(w http.ResponseWriter, r *http.Request) {
	ids := []string{}
	if reg := h.Orchestrator.Registry; reg != nil {
		ids = reg.Active()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"streams": ids}); err != nil {
		slog.Error("transport: encode streams", "error", err)
	}
}
