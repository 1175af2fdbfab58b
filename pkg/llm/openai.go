package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"
)

var _ Provider = (*OpenAI)(nil)

// DefaultCompleteTimeout bounds Complete when neither the request nor the
// provider sets a timeout.
const DefaultCompleteTimeout = 12 * time.Second

// OpenAI is a Provider for OpenAI-compatible chat completion APIs,
// including OpenRouter.
type OpenAI struct {
	Client *openai.Client

	// FallbackModel is retried once when a request fails before any
	// content was delivered.
	FallbackModel string

	// Timeout bounds Complete. Zero uses DefaultCompleteTimeout.
	Timeout time.Duration

	// ExtraFields are merged into every request body.
	ExtraFields map[string]any
}

// NewOpenAI creates a provider for the API at baseURL. An empty baseURL
// uses the client default.
func NewOpenAI(apiKey, baseURL string, opts ...option.RequestOption) *OpenAI {
	all := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		all = append(all, option.WithBaseURL(baseURL))
	}
	all = append(all, opts...)
	client := openai.NewClient(all...)
	return &OpenAI{Client: &client}
}

// Stream implements Provider. Frames are decoded one by one so that a
// malformed frame is reported and skipped instead of ending the stream.
func (o *OpenAI) Stream(ctx context.Context, req Request, cb Callbacks) error {
	delivered, err := o.stream(ctx, req, cb)
	if err == nil || delivered || !o.canFallback(ctx, req) {
		return err
	}
	slog.Warn("llm: stream failed, retrying with fallback model",
		"model", req.Model, "fallback", o.FallbackModel, "error", err)
	req.Model = o.FallbackModel
	_, err = o.stream(ctx, req, cb)
	return err
}

func (o *OpenAI) canFallback(ctx context.Context, req Request) bool {
	return ctx.Err() == nil && o.FallbackModel != "" && o.FallbackModel != req.Model
}

type oaiErrorFrame struct {
	Error *struct {
		Message string          `json:"message"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
}

func (o *OpenAI) stream(ctx context.Context, req Request, cb Callbacks) (delivered bool, err error) {
	params := o.params(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: param.NewOpt(true),
	}

	var raw *http.Response
	if err := o.Client.Post(ctx, "chat/completions", params, &raw, option.WithJSONSet("stream", true)); err != nil {
		return false, o.convError(req.Model, err)
	}
	dec := ssestream.NewDecoder(raw)
	if dec == nil {
		return false, &ProviderError{Model: req.Model, Message: "no stream body"}
	}
	defer dec.Close()

	var (
		done     = Control{Kind: ControlDone, Model: req.Model}
		attempts int
	)
	for dec.Next() {
		ev := dec.Event()
		switch ev.Type {
		case "reconnect":
			attempts++
			cb.control(Control{Kind: ControlReconnect, Attempt: attempts, Model: done.Model})
			continue
		case "error":
			return delivered, &ProviderError{Model: done.Model, Message: strings.TrimSpace(string(ev.Data))}
		}

		data := bytes.TrimSpace(ev.Data)
		if len(data) == 0 {
			continue
		}
		if bytes.HasPrefix(data, []byte("[DONE]")) {
			break
		}

		var ef oaiErrorFrame
		if json.Unmarshal(data, &ef) == nil && ef.Error != nil {
			return delivered, &ProviderError{
				Model:   done.Model,
				Status:  statusFromCode(ef.Error.Code),
				Message: ef.Error.Message,
			}
		}

		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			cb.fail(fmt.Errorf("%w: %v", ErrMalformedFrame, err))
			continue
		}
		if chunk.Model != "" {
			done.Model = chunk.Model
		}
		if chunk.Usage.TotalTokens > 0 {
			done.Usage = oaiConvUsage(&chunk.Usage)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if s := choice.Delta.Content; s != "" {
			delivered = true
			cb.chunk(s)
		}
		if choice.FinishReason != "" {
			done.FinishReason = string(choice.FinishReason)
		}
	}
	if err := dec.Err(); err != nil {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		return delivered, fmt.Errorf("llm: read stream: %w", err)
	}
	if done.FinishReason == "" {
		done.FinishReason = "stop"
	}
	cb.control(done)
	return delivered, nil
}

// Complete implements Completer.
func (o *OpenAI) Complete(ctx context.Context, req Request) (*Completion, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = o.Timeout
	}
	c, err := o.complete(ctx, req, timeout)
	if err == nil || !o.canFallback(ctx, req) {
		return c, err
	}
	slog.Warn("llm: completion failed, retrying with fallback model",
		"model", req.Model, "fallback", o.FallbackModel, "error", err)
	req.Model = o.FallbackModel
	return o.complete(ctx, req, timeout)
}

func (o *OpenAI) complete(ctx context.Context, req Request, timeout time.Duration) (*Completion, error) {
	ctx, cancel := withTimeout(ctx, timeout, DefaultCompleteTimeout)
	defer cancel()

	resp, err := o.Client.Chat.Completions.New(ctx, o.params(req))
	if err != nil {
		return nil, o.convError(req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices from %s", ErrEmptyCompletion, req.Model)
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, &ProviderError{Model: req.Model, Message: "refused: " + choice.Message.Refusal}
	}
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCompletion, req.Model)
	}
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return &Completion{
		Content:      content,
		Model:        model,
		FinishReason: string(choice.FinishReason),
		Usage:        oaiConvUsage(&resp.Usage),
	}, nil
}

func (o *OpenAI) params(req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: oaiConvMessages(req.Messages),
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}
	if len(o.ExtraFields) > 0 {
		params.SetExtraFields(o.ExtraFields)
	}
	return params
}

func oaiConvMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func oaiConvUsage(u *openai.CompletionUsage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func (o *OpenAI) convError(model string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{Model: model, Status: apiErr.StatusCode, Message: apiErr.Message, Err: err}
	}
	return fmt.Errorf("llm: %s: %w", model, err)
}

func statusFromCode(raw json.RawMessage) int {
	var n int
	if json.Unmarshal(raw, &n) == nil {
		return n
	}
	return 0
}
