package stream

import (
	"context"
	"sync"

	"github.com/haivivi/ecostream/pkg/finalize"
	"github.com/haivivi/ecostream/pkg/llm"
	"github.com/haivivi/ecostream/pkg/techblock"
)

// Session is the outcome of a completed run.
type Session struct {
	ID           string
	Text         string
	FinishReason string
	Usage        *llm.Usage
	Model        string
	Fallback     bool
	// Reason is the fallback reason, empty when the stream succeeded.
	Reason string
	// Block is the technical block, nil when it was skipped, missing or
	// late.
	Block       *techblock.Block
	MemorySaved bool
	Marks       LatencyMarks

	req       Request
	finalizer *finalize.Finalizer
	pre       *finalize.Precomputed
	apology   bool

	once   sync.Once
	result *finalize.Result
	err    error
}

// Finalize builds the final result of the run, reusing the normalized
// text and block of the run. It runs once; later calls return the first
// result.
func (s *Session) Finalize(ctx context.Context) (*finalize.Result, error) {
	s.once.Do(func() {
		f := s.finalizer
		if f == nil {
			f = &finalize.Finalizer{}
		}
		var tokens int64
		if s.Usage != nil {
			tokens = s.Usage.TotalTokens
		}
		s.result, s.err = f.Finalize(ctx, finalize.Params{
			Raw:                s.Text,
			UserMessage:        s.req.Text,
			UserName:           s.req.UserName,
			HasAssistantBefore: s.req.HasAssistantBefore,
			UserID:             s.req.UserID,
			StreamID:           s.ID,
			MessageID:          s.req.MessageID,
			Guest:              s.req.Guest,
			Mode:               finalize.ModeFull,
			StartedAt:          s.Marks.LLMStart,
			Model:              s.Model,
			FinishReason:       s.FinishReason,
			Tokens:             tokens,
			SkipBlock:          s.apology,
			Fallback:           s.Fallback,
			MemorySaved:        s.MemorySaved,
			Decision:           s.req.Decision,
			SelectedModules:    s.req.SelectedModules,
			Precomputed:        s.pre,
		})
	})
	return s.result, s.err
}
