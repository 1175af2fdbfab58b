// Package transport delivers orchestrator events to clients over
// Server-Sent Events or WebSocket.
package transport

import (
	"errors"

	"github.com/haivivi/ecostream/pkg/jsontime"
	"github.com/haivivi/ecostream/pkg/stream"
)

// Sentinel errors.
var (
	// ErrStreamingUnsupported is returned when the response writer cannot
	// flush.
	ErrStreamingUnsupported = errors.New("transport: streaming unsupported")

	// ErrGuardTimeout is the cancellation cause of a run the guard gave
	// up on.
	ErrGuardTimeout = errors.New("transport: no reply in time")
)

// Envelope types.
const (
	TypeControl = "control"
	TypeChunk   = "chunk"
	TypeError   = "error"
)

// Envelope is the JSON shape of an event on the wire.
type Envelope struct {
	Type  string         `json:"type"`
	Name  string         `json:"name,omitempty"`
	Meta  any            `json:"meta,omitempty"`
	Delta string         `json:"delta,omitempty"`
	Index *int           `json:"index,omitempty"`
	Error string         `json:"error,omitempty"`
	Time  jsontime.Milli `json:"ts"`
}

// NewEnvelope converts ev.
func NewEnvelope(ev stream.Event) Envelope {
	env := Envelope{Time: jsontime.Now()}
	switch ev := ev.(type) {
	case stream.Control:
		env.Type, env.Name, env.Meta = TypeControl, ev.Name, ev.Meta
	case stream.Chunk:
		idx := ev.Index
		env.Type, env.Delta, env.Index = TypeChunk, ev.Delta, &idx
	case stream.Error:
		env.Type = TypeError
		if ev.Err != nil {
			env.Error = ev.Err.Error()
		}
	}
	return env
}

// EventName is the SSE event name of env: the control name for controls,
// the type otherwise.
func (env Envelope) EventName() string {
	if env.Type == TypeControl && env.Name != "" {
		return env.Name
	}
	return env.Type
}
