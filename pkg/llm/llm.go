// Package llm adapts chat-completion providers to the streaming callback
// contract used by the orchestrator.
//
// A Provider streams one completion through Callbacks: text chunks,
// control frames (reconnect, done) and non-fatal errors. Stream returns
// nil once done has been delivered, or the error that ended the stream.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Sentinel errors.
var (
	// ErrEmptyCompletion is returned when a provider produced no content.
	ErrEmptyCompletion = errors.New("llm: empty completion")

	// ErrMalformedFrame wraps a streamed frame that could not be decoded.
	// It is reported through Callbacks.OnError and the frame is skipped.
	ErrMalformedFrame = errors.New("llm: malformed frame")
)

// Role is the author of a message.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant returns an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// Request describes one completion.
type Request struct {
	Model       string
	Messages    []Message
	// Temperature is omitted from the request when nil.
	Temperature *float64
	MaxTokens   int
	// JSON asks for a JSON object response.
	JSON bool
	// Timeout bounds the request. Zero uses the provider default.
	Timeout time.Duration
}

// Usage is the token accounting of a completion.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// ControlKind names a control frame.
type ControlKind string

// Control kinds.
const (
	ControlReconnect ControlKind = "reconnect"
	ControlDone      ControlKind = "done"
)

// Control is a non-text frame of a stream.
type Control struct {
	Kind         ControlKind
	Attempt      int
	FinishReason string
	Model        string
	Usage        Usage
}

// Callbacks receive the frames of a stream. Nil callbacks are ignored.
type Callbacks struct {
	OnChunk   func(text string)
	OnControl func(c Control)
	OnError   func(err error)
}

func (cb Callbacks) chunk(s string) {
	if cb.OnChunk != nil && s != "" {
		cb.OnChunk(s)
	}
}

func (cb Callbacks) control(c Control) {
	if cb.OnControl != nil {
		cb.OnControl(c)
	}
}

func (cb Callbacks) fail(err error) {
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

// Completion is a non-streamed result.
type Completion struct {
	Content      string
	Model        string
	FinishReason string
	Usage        Usage
}

// Completer produces a full completion in one call.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (*Completion, error)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (*Completion, error) {
	return f(ctx, req)
}

// Provider streams and completes chat requests.
type Provider interface {
	Completer
	Stream(ctx context.Context, req Request, cb Callbacks) error
}

// ProviderError is an error reported by the provider API.
type ProviderError struct {
	Model   string
	Status  int
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("llm: %s: status %d: %s", e.Model, e.Status, e.Message)
	}
	return fmt.Sprintf("llm: %s: %s", e.Model, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func withTimeout(ctx context.Context, d, def time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = def
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
