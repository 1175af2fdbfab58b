// Package persist holds the collaborators a finished reply is handed to:
// the memory saver and the analytics tracker.
package persist

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Sentinel errors.
var (
	// ErrInvalidRecord is returned for a record without user or text.
	ErrInvalidRecord = errors.New("persist: invalid memory record")
)

// MemoryRecord is one significant exchange worth remembering.
type MemoryRecord struct {
	ID        string         `msgpack:"id" json:"id"`
	UserID    string         `msgpack:"user_id" json:"userId"`
	MessageID string         `msgpack:"message_id,omitempty" json:"messageId,omitempty"`
	Text      string         `msgpack:"text" json:"text"`
	Summary   string         `msgpack:"summary,omitempty" json:"summary,omitempty"`
	Emotion   string         `msgpack:"emotion,omitempty" json:"emotion,omitempty"`
	Category  string         `msgpack:"category,omitempty" json:"category,omitempty"`
	Intensity int            `msgpack:"intensity" json:"intensity"`
	Tags      []string       `msgpack:"tags" json:"tags"`
	Domain    string         `msgpack:"domain,omitempty" json:"domain,omitempty"`
	Origin    string         `msgpack:"origin,omitempty" json:"origin,omitempty"`
	Meta      map[string]any `msgpack:"meta,omitempty" json:"meta,omitempty"`
	CreatedAt time.Time      `msgpack:"created_at" json:"createdAt"`
}

// SaveResult reports the outcome of a save.
type SaveResult struct {
	Saved bool   `json:"saved"`
	ID    string `json:"id,omitempty"`
	// IsFirst is true for the first record ever stored for the user.
	IsFirst bool `json:"isFirst"`
}

// MemorySaver stores memory records.
type MemorySaver interface {
	Save(ctx context.Context, rec MemoryRecord) (SaveResult, error)
}

// MemorySaverFunc adapts a function to MemorySaver.
type MemorySaverFunc func(ctx context.Context, rec MemoryRecord) (SaveResult, error)

// Save implements MemorySaver.
func (f MemorySaverFunc) Save(ctx context.Context, rec MemoryRecord) (SaveResult, error) {
	return f(ctx, rec)
}

// MessageEvent describes a delivered reply.
type MessageEvent struct {
	UserID       string
	StreamID     string
	Model        string
	FinishReason string
	BlockStatus  string
	Length       int
	Tokens       int64
	Latency      time.Duration
	Fallback     bool
}

// BlockEvent describes the technical block of a reply.
type BlockEvent struct {
	UserID    string
	StreamID  string
	Status    string
	Intensity int
	Emotion   string
	Elapsed   time.Duration
}

// SlowEvent reports a stage that took longer than expected.
type SlowEvent struct {
	UserID   string
	StreamID string
	Stage    string
	Elapsed  time.Duration
}

// Tracker receives analytics events. Implementations must not block.
type Tracker interface {
	TrackMessage(ctx context.Context, ev MessageEvent)
	TrackTechBlock(ctx context.Context, ev BlockEvent)
	TrackSlowResponse(ctx context.Context, ev SlowEvent)
}

// Nop is a Tracker that discards everything.
type Nop struct{}

func (Nop) TrackMessage(context.Context, MessageEvent)   {}
func (Nop) TrackTechBlock(context.Context, BlockEvent)   {}
func (Nop) TrackSlowResponse(context.Context, SlowEvent) {}

// LogTracker writes events to a slog.Logger.
type LogTracker struct {
	Logger *slog.Logger
}

func (t LogTracker) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// TrackMessage implements Tracker.
func (t LogTracker) TrackMessage(ctx context.Context, ev MessageEvent) {
	t.logger().InfoContext(ctx, "persist: message",
		"user", ev.UserID, "stream", ev.StreamID, "model", ev.Model,
		"finish_reason", ev.FinishReason, "block", ev.BlockStatus, "length", ev.Length,
		"tokens", ev.Tokens, "latency", ev.Latency, "fallback", ev.Fallback)
}

// TrackTechBlock implements Tracker.
func (t LogTracker) TrackTechBlock(ctx context.Context, ev BlockEvent) {
	t.logger().InfoContext(ctx, "persist: technical block",
		"user", ev.UserID, "stream", ev.StreamID, "status", ev.Status,
		"intensity", ev.Intensity, "emotion", ev.Emotion, "elapsed", ev.Elapsed)
}

// TrackSlowResponse implements Tracker.
func (t LogTracker) TrackSlowResponse(ctx context.Context, ev SlowEvent) {
	t.logger().WarnContext(ctx, "persist: slow response",
		"user", ev.UserID, "stream", ev.StreamID, "stage", ev.Stage, "elapsed", ev.Elapsed)
}
