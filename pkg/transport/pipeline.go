package transport

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/haivivi/ecostream/pkg/decision"
	"github.com/haivivi/ecostream/pkg/llm"
	"github.com/haivivi/ecostream/pkg/prompt"
	"github.com/haivivi/ecostream/pkg/stream"
)

// ChatRequest is the body of a chat call.
type ChatRequest struct {
	StreamID  string        `json:"streamId,omitempty"`
	UserID    string        `json:"userId,omitempty"`
	UserName  string        `json:"userName,omitempty"`
	MessageID string        `json:"messageId,omitempty"`
	Guest     bool          `json:"guest,omitempty"`
	Text      string        `json:"text"`
	History   []llm.Message `json:"history,omitempty"`
}

// Pipeline turns a ChatRequest into an orchestrator request: it decides,
// selects the prompt modules and builds the messages.
type Pipeline struct {
	// Engine runs the decision. Nil uses the default detectors.
	Engine *decision.Engine
	// Selector builds the system prompt. Nil sends no system prompt.
	Selector *prompt.Selector
}

// Prepare builds the request for cr. A module selection failure is logged
// and the turn continues without a system prompt.
func (p *Pipeline) Prepare(ctx context.Context, cr ChatRequest) (req stream.Request, sel *prompt.Selection) {
	req = stream.Request{
		StreamID:  cr.StreamID,
		UserID:    cr.UserID,
		UserName:  cr.UserName,
		MessageID: cr.MessageID,
		Guest:     cr.Guest,
		Text:      strings.TrimSpace(cr.Text),
	}
	req.Marks.MarkContextBuildStart(time.Now())
	defer func() { req.Marks.MarkContextBuildEnd(time.Now()) }()

	for _, m := range cr.History {
		if m.Role == llm.RoleAssistant {
			req.HasAssistantBefore = true
		}
	}
	if len(cr.History) > 0 {
		req.Messages = append(append([]llm.Message(nil), cr.History...), llm.User(req.Text))
	}

	if p.Engine != nil {
		req.Decision = p.Engine.Decide(req.Text)
	} else {
		req.Decision = decision.Decide(req.Text)
	}
	if p.Selector == nil {
		return req, nil
	}
	sel, err := p.Selector.Select(ctx, req.Text, req.Decision)
	if err != nil {
		slog.Warn("transport: module selection failed", "error", err)
		return req, nil
	}
	req.SystemPrompt = sel.Prompt()
	for _, m := range sel.Regular {
		req.SelectedModules = append(req.SelectedModules, m.Name)
	}
	for _, m := range sel.Footers {
		req.SelectedModules = append(req.SelectedModules, m.Name)
	}
	slog.Debug("transport: prompt ready",
		"intensity", req.Decision.Intensity,
		"modules", len(req.SelectedModules),
		"tokens", sel.Tokens(),
	)
	return req, sel
}
