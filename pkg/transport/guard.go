package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haivivi/ecostream/pkg/stream"
)

// Guard defaults. DefaultGuardTimeout outlasts the stream guard plus the
// slowest leg of the hedged fallback with default options.
const (
	DefaultGuardTimeout = 12 * time.Second
	GuardMessage        = "Desculpe, não consegui enviar uma resposta a tempo. Pode tentar novamente em instantes?"
)

// Guard is a Sink that answers on its own when no chunk was delivered in
// time. It then sends GuardMessage and a done event, cancels the run with
// ErrGuardTimeout and drops everything the run emits afterwards.
type Guard struct {
	sink   stream.Sink
	cancel context.CancelCauseFunc

	mu        sync.Mutex
	timer     *time.Timer
	delivered bool
	tripped   bool
}

// NewGuard arms a guard over sink. cancel may be nil.
func NewGuard(sink stream.Sink, timeout time.Duration, cancel context.CancelCauseFunc) *Guard {
	if timeout <= 0 {
		timeout = DefaultGuardTimeout
	}
	g := &Guard{sink: sink, cancel: cancel}
	g.timer = time.AfterFunc(timeout, g.trip)
	return g
}

func (g *Guard) trip() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.delivered || g.tripped {
		return
	}
	g.tripped = true
	slog.Warn("transport: guard timeout, sending fallback message")
	g.sink.Emit(stream.Chunk{Delta: GuardMessage})
	g.sink.Emit(stream.Control{Name: stream.ControlDone, Meta: stream.DoneMeta{
		FinishReason: stream.FinishError,
		Fallback:     true,
		Reason:       "transport_guard",
		Length:       len([]rune(GuardMessage)),
	}})
	if g.cancel != nil {
		g.cancel(ErrGuardTimeout)
	}
}

// Emit implements stream.Sink.
func (g *Guard) Emit(ev stream.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tripped {
		return
	}
	if _, ok := ev.(stream.Chunk); ok && !g.delivered {
		g.delivered = true
		g.timer.Stop()
	}
	g.sink.Emit(ev)
}

// Stop disarms the guard.
func (g *Guard) Stop() {
	g.timer.Stop()
}

// Tripped reports whether the guard answered in place of the run.
func (g *Guard) Tripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tripped
}
