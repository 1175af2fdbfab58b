package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/genai"
)

var _ Provider = (*Gemini)(nil)

// Gemini is a Provider backed by the Google Gemini API.
type Gemini struct {
	Client *genai.Client

	// FallbackModel is retried once when a request fails before any
	// content was delivered.
	FallbackModel string

	// Timeout bounds Complete. Zero uses DefaultCompleteTimeout.
	Timeout time.Duration
}

// NewGemini creates a Gemini provider using apiKey.
func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: gemini client: %w", err)
	}
	return &Gemini{Client: client}, nil
}

// Stream implements Provider.
func (g *Gemini) Stream(ctx context.Context, req Request, cb Callbacks) error {
	delivered, err := g.stream(ctx, req, cb)
	if err == nil || delivered || ctx.Err() != nil || g.FallbackModel == "" || g.FallbackModel == req.Model {
		return err
	}
	slog.Warn("llm: gemini stream failed, retrying with fallback model",
		"model", req.Model, "fallback", g.FallbackModel, "error", err)
	req.Model = g.FallbackModel
	_, err = g.stream(ctx, req, cb)
	return err
}

func (g *Gemini) stream(ctx context.Context, req Request, cb Callbacks) (delivered bool, err error) {
	cfg, contents, err := geminiConvRequest(req)
	if err != nil {
		return false, err
	}
	done := Control{Kind: ControlDone, Model: req.Model}
	for resp, err := range g.Client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
		if err != nil {
			return delivered, geminiConvError(req.Model, err)
		}
		if resp.UsageMetadata != nil {
			done.Usage = geminiConvUsage(resp.UsageMetadata)
		}
		if resp.ModelVersion != "" {
			done.Model = resp.ModelVersion
		}
		if len(resp.Candidates) == 0 {
			continue
		}
		c := resp.Candidates[0]
		if c.Content != nil {
			for _, p := range c.Content.Parts {
				if p.Text != "" {
					delivered = true
					cb.chunk(p.Text)
				}
			}
		}
		if c.FinishReason != "" && c.FinishReason != genai.FinishReasonUnspecified {
			done.FinishReason = geminiFinishReason(c.FinishReason)
		}
	}
	if done.FinishReason == "" {
		done.FinishReason = "stop"
	}
	cb.control(done)
	return delivered, nil
}

// Complete implements Completer.
func (g *Gemini) Complete(ctx context.Context, req Request) (*Completion, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.Timeout
	}
	c, err := g.complete(ctx, req, timeout)
	if err == nil || ctx.Err() != nil || g.FallbackModel == "" || g.FallbackModel == req.Model {
		return c, err
	}
	req.Model = g.FallbackModel
	return g.complete(ctx, req, timeout)
}

func (g *Gemini) complete(ctx context.Context, req Request, timeout time.Duration) (*Completion, error) {
	ctx, cancel := withTimeout(ctx, timeout, DefaultCompleteTimeout)
	defer cancel()

	cfg, contents, err := geminiConvRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := g.Client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, geminiConvError(req.Model, err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates from %s", ErrEmptyCompletion, req.Model)
	}
	content := strings.TrimSpace(resp.Text())
	if content == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCompletion, req.Model)
	}
	out := &Completion{
		Content:      content,
		Model:        req.Model,
		FinishReason: geminiFinishReason(resp.Candidates[0].FinishReason),
	}
	if resp.UsageMetadata != nil {
		out.Usage = geminiConvUsage(resp.UsageMetadata)
	}
	return out, nil
}

func geminiConvRequest(req Request) (*genai.GenerateContentConfig, []*genai.Content, error) {
	cfg := &genai.GenerateContentConfig{}
	var system []*genai.Part
	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, genai.NewPartFromText(m.Content))
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		return nil, nil, errors.New("llm: no contents")
	}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: system}
	}
	if req.Temperature != nil {
		cfg.Temperature = Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg, contents, nil
}

func geminiFinishReason(r genai.FinishReason) string {
	switch r {
	case genai.FinishReasonStop:
		return "stop"
	case genai.FinishReasonMaxTokens:
		return "length"
	case genai.FinishReasonSafety:
		return "content_filter"
	}
	return strings.ToLower(string(r))
}

func geminiConvUsage(u *genai.GenerateContentResponseUsageMetadata) Usage {
	return Usage{
		PromptTokens:     int64(u.PromptTokenCount),
		CompletionTokens: int64(u.CandidatesTokenCount),
		TotalTokens:      int64(u.TotalTokenCount),
	}
}

func geminiConvError(model string, err error) error {
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Model: model, Status: apiErr.HTTPCode(), Message: apiErr.Error(), Err: apiErr.Unwrap()}
	}
	return fmt.Errorf("llm: %s: %w", model, err)
}
