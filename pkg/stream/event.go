package stream

import (
	"strings"
	"sync"
	"time"

	"github.com/haivivi/ecostream/pkg/llm"
)

// Control event names.
const (
	ControlPromptReady = "prompt_ready"
	ControlFirstToken  = "first_token"
	ControlReconnect   = "reconnect"
	ControlMetaPending = "meta_pending"
	ControlMeta        = "meta"
	ControlMemorySaved = "memory_saved"
	ControlDone        = "done"
)

// Finish reasons set by the orchestrator.
const (
	FinishFallbackFull = "fallback_full"
	FinishError        = "error"
)

// Fallback reasons.
const (
	ReasonFirstTokenTimeout = "first_token_timeout"
	ReasonGuardTimeout      = "guard_timeout"
	ReasonEmptyStream       = "empty_stream"
	ReasonProviderError     = "provider_error"
)

// Event is a Control, a Chunk or an Error.
type Event interface {
	isEvent()
}

// Control is a non-text event. Meta depends on Name.
type Control struct {
	Name string
	Meta any
}

// Chunk is a piece of reply text. Index starts at 0 and increases by one
// per chunk.
type Chunk struct {
	Delta string
	Index int
}

// Error reports a failure that left the reply without content.
type Error struct {
	Err error
}

func (Control) isEvent() {}
func (Chunk) isEvent()   {}
func (Error) isEvent()   {}

// DoneMeta is the payload of the done control event.
type DoneMeta struct {
	FinishReason string       `json:"finishReason"`
	Usage        *llm.Usage   `json:"usage,omitempty"`
	Model        string       `json:"modelo,omitempty"`
	Length       int          `json:"length"`
	Fallback     bool         `json:"fallback,omitempty"`
	Reason       string       `json:"reason,omitempty"`
	Timings      LatencyMarks `json:"timings"`
}

// ReconnectMeta is the payload of the reconnect control event.
type ReconnectMeta struct {
	Attempt int `json:"attempt"`
}

// MemorySavedMeta is the payload of the memory_saved control event.
type MemorySavedMeta struct {
	MemoryID    string `json:"memoriaId"`
	First       bool   `json:"primeiraMemoriaSignificativa"`
	Intensidade int    `json:"intensidade"`
}

// Sink receives the events of a run, in order, from a single goroutine.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

// Emit implements Sink.
func (f SinkFunc) Emit(ev Event) { f(ev) }

// Recorder is a Sink that keeps every event.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Chunks returns the recorded chunks.
func (r *Recorder) Chunks() []Chunk {
	var out []Chunk
	for _, ev := range r.Events() {
		if c, ok := ev.(Chunk); ok {
			out = append(out, c)
		}
	}
	return out
}

// Text concatenates the recorded chunks.
func (r *Recorder) Text() string {
	var sb strings.Builder
	for _, c := range r.Chunks() {
		sb.WriteString(c.Delta)
	}
	return sb.String()
}

// Controls returns the recorded control events named name.
func (r *Recorder) Controls(name string) []Control {
	var out []Control
	for _, ev := range r.Events() {
		if c, ok := ev.(Control); ok && c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// LatencyMarks are the timestamps of a run.
type LatencyMarks struct {
	ContextBuildStart time.Time `json:"contextBuildStart,omitzero"`
	ContextBuildEnd   time.Time `json:"contextBuildEnd,omitzero"`
	LLMStart          time.Time `json:"llmStart,omitzero"`
	LLMEnd            time.Time `json:"llmEnd,omitzero"`
}

func mark(field *time.Time, t time.Time) {
	if field.IsZero() {
		*field = t
	}
}

// MarkContextBuildStart records the start of prompt building. Each mark is
// set once; later calls are ignored.
func (m *LatencyMarks) MarkContextBuildStart(t time.Time) { mark(&m.ContextBuildStart, t) }

// MarkContextBuildEnd records the end of prompt building.
func (m *LatencyMarks) MarkContextBuildEnd(t time.Time) { mark(&m.ContextBuildEnd, t) }

// MarkLLMStart records the model request start.
func (m *LatencyMarks) MarkLLMStart(t time.Time) { mark(&m.LLMStart, t) }

// MarkLLMEnd records the end of the model request.
func (m *LatencyMarks) MarkLLMEnd(t time.Time) { mark(&m.LLMEnd, t) }
