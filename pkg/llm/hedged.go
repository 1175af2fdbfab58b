package llm

import (
	"context"
	"time"

	"github.com/haivivi/ecostream/pkg/hedge"
)

// Hedged defaults.
const (
	DefaultMainTimeout   = 9 * time.Second
	DefaultMiniTimeout   = 5500 * time.Millisecond
	DefaultMiniMaxTokens = 420
	DefaultCutover       = 2500 * time.Millisecond
)

// Hedged is a Completer that races a main-model completion against a
// smaller model started after Cutover.
type Hedged struct {
	Completer Completer

	// MainModel and MiniModel override Request.Model for each leg. An
	// empty MainModel keeps the request model.
	MainModel string
	MiniModel string

	MainTimeout   time.Duration
	MiniTimeout   time.Duration
	MiniMaxTokens int
	Cutover       time.Duration
}

// Complete implements Completer.
func (h *Hedged) Complete(ctx context.Context, req Request) (*Completion, error) {
	main := req
	if h.MainModel != "" {
		main.Model = h.MainModel
	}
	main.Timeout = orDefault(h.MainTimeout, DefaultMainTimeout)

	primary := func(ctx context.Context) (*Completion, error) {
		return h.Completer.Complete(ctx, main)
	}
	var fallback hedge.Func[*Completion]
	if h.MiniModel != "" && h.MiniModel != main.Model {
		mini := req
		mini.Model = h.MiniModel
		mini.Timeout = orDefault(h.MiniTimeout, DefaultMiniTimeout)
		limit := h.MiniMaxTokens
		if limit <= 0 {
			limit = DefaultMiniMaxTokens
		}
		if mini.MaxTokens <= 0 || mini.MaxTokens > limit {
			mini.MaxTokens = limit
		}
		fallback = func(ctx context.Context) (*Completion, error) {
			return h.Completer.Complete(ctx, mini)
		}
	}
	return hedge.Do(ctx, primary, fallback, orDefault(h.Cutover, DefaultCutover))
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
