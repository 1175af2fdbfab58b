// Package stream runs one assistant reply from prompt to done.
//
// The Orchestrator streams the model answer through a word-boundary
// Buffer, falls back to a synchronous completion when the stream stalls
// or fails before producing text, runs the technical-block side pipeline
// and always ends with exactly one done event preceded by at least one
// chunk. Every step is driven by a single goroutine per run; the State
// machine rejects the transitions that would otherwise race.
package stream

import (
	"errors"
	"time"

	"github.com/haivivi/ecostream/pkg/decision"
	"github.com/haivivi/ecostream/pkg/llm"
)

// Sentinel errors.
var (
	// ErrAborted is returned by Run when the caller cancelled the run.
	ErrAborted = errors.New("stream: aborted")

	// ErrIllegalTransition is returned by Machine.Transition.
	ErrIllegalTransition = errors.New("stream: illegal state transition")

	// ErrCancelled is the cancellation cause set by Registry.Cancel.
	ErrCancelled = errors.New("stream: cancelled by client")

	// ErrSuperseded is the cancellation cause of a run replaced by a newer
	// run with the same id.
	ErrSuperseded = errors.New("stream: superseded")
)

// Options tune a run. Zero or negative fields take the defaults of
// DefaultOptions.
type Options struct {
	Model     string
	MaxTokens int

	// Temperature is sent as is, zero included. Nil uses the default.
	Temperature *float64

	// FirstTokenTimeout and GuardTimeout trigger the fallback when no
	// token arrived in time.
	FirstTokenTimeout time.Duration
	GuardTimeout      time.Duration
	// ModelTimeout bounds the streamed request and the fallback request.
	ModelTimeout time.Duration

	FlushSize     int
	FlushInterval time.Duration

	// BlockPending emits meta_pending; BlockDeadline abandons the block.
	BlockPending  time.Duration
	BlockDeadline time.Duration

	// Apology is the chunk sent when no reply could be produced.
	Apology string
}

// DefaultOptions returns the default run options.
func DefaultOptions() Options {
	return Options{
		Temperature:       llm.Ptr(0.6),
		MaxTokens:         1200,
		FirstTokenTimeout: 15 * time.Second,
		GuardTimeout:      2 * time.Second,
		ModelTimeout:      30 * time.Second,
		FlushSize:         50,
		FlushInterval:     100 * time.Millisecond,
		BlockPending:      time.Second,
		BlockDeadline:     5 * time.Second,
		Apology:           "Desculpa, não consegui responder agora. Pode tentar de novo?",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Temperature == nil {
		o.Temperature = d.Temperature
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = d.MaxTokens
	}
	if o.FirstTokenTimeout <= 0 {
		o.FirstTokenTimeout = d.FirstTokenTimeout
	}
	if o.GuardTimeout <= 0 {
		o.GuardTimeout = d.GuardTimeout
	}
	if o.ModelTimeout <= 0 {
		o.ModelTimeout = d.ModelTimeout
	}
	if o.FlushSize <= 0 {
		o.FlushSize = d.FlushSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = d.FlushInterval
	}
	if o.BlockPending <= 0 {
		o.BlockPending = d.BlockPending
	}
	if o.BlockDeadline <= 0 {
		o.BlockDeadline = d.BlockDeadline
	}
	if o.Apology == "" {
		o.Apology = d.Apology
	}
	return o
}

// Request is one user turn.
type Request struct {
	// StreamID identifies the run. Empty gets a fresh uuid.
	StreamID  string
	UserID    string
	UserName  string
	MessageID string
	Guest     bool

	// HasAssistantBefore is true when the assistant already spoke in
	// this conversation.
	HasAssistantBefore bool

	// Text is the user message.
	Text string
	// Messages is the conversation. When empty, Text is sent alone.
	Messages     []llm.Message
	SystemPrompt string

	Decision        decision.Result
	SelectedModules []string
	Marks           LatencyMarks
}

func (r Request) messages() []llm.Message {
	var out []llm.Message
	if r.SystemPrompt != "" {
		out = append(out, llm.System(r.SystemPrompt))
	}
	if len(r.Messages) == 0 {
		return append(out, llm.User(r.Text))
	}
	return append(out, r.Messages...)
}
