package stream

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/haivivi/ecostream/pkg/finalize"
	"github.com/haivivi/ecostream/pkg/llm"
	"github.com/haivivi/ecostream/pkg/persist"
	"github.com/haivivi/ecostream/pkg/techblock"
)

// Orchestrator runs replies. Provider is required; everything else is
// optional.
type Orchestrator struct {
	Provider llm.Provider
	// Fallback produces the synchronous reply when streaming fails. Nil
	// uses Provider.
	Fallback  llm.Completer
	Extractor techblock.Extractor
	Saver     persist.MemorySaver
	Finalizer *finalize.Finalizer
	Registry  *Registry
	Options   Options
}

type frame struct {
	chunk   string
	control *llm.Control
	warn    error
}

type outcome struct {
	text     string
	finish   string
	model    string
	reason   string
	usage    *llm.Usage
	fallback bool
	apology  bool
}

type run struct {
	o    *Orchestrator
	opts Options
	req  Request
	sink Sink
	ctx  context.Context
	log  *slog.Logger

	machine    Machine
	buf        *Buffer
	text       strings.Builder
	index      int
	length     int
	marks      LatencyMarks
	stopStream context.CancelFunc

	block       *techblock.Block
	memorySaved bool
}

// Run streams the reply to req into sink. It returns once done has been
// emitted. When ctx is cancelled the run stops without emitting anything
// else and Run returns an error wrapping ErrAborted and the cause.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink Sink) (*Session, error) {
	if o.Provider == nil {
		return nil, errors.New("stream: Orchestrator.Provider is required")
	}
	var cancel context.CancelFunc
	if o.Registry != nil {
		req.StreamID, ctx, cancel = o.Registry.Register(ctx, req.StreamID)
	} else {
		if req.StreamID == "" {
			req.StreamID = uuid.NewString()
		}
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	r := &run{
		o:     o,
		opts:  o.Options.withDefaults(),
		req:   req,
		sink:  sink,
		ctx:   ctx,
		log:   slog.With("stream", req.StreamID),
		marks: req.Marks,
	}
	if r.opts.Model == "" {
		r.opts.Model = "default"
	}
	r.marks.MarkLLMStart(time.Now())
	r.emit(Control{Name: ControlPromptReady, Meta: r.marks})

	out, err := r.stream()
	if err != nil {
		return nil, err
	}
	pre, err := r.techBlock(out)
	if err != nil {
		return nil, err
	}
	return r.finish(out, pre)
}

func (r *run) emit(ev Event) {
	if r.ctx.Err() != nil || r.sink == nil {
		return
	}
	r.sink.Emit(ev)
}

func (r *run) chunk(s string) {
	if s == "" {
		return
	}
	r.emit(Chunk{Delta: s, Index: r.index})
	r.index++
	r.length += utf8.RuneCountInString(s)
}

func (r *run) aborted() error {
	_ = r.machine.Transition(Done)
	cause := context.Cause(r.ctx)
	r.log.Info("stream: aborted", "cause", cause)
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}

func (r *run) llmRequest() llm.Request {
	return llm.Request{
		Model:       r.opts.Model,
		Messages:    r.req.messages(),
		Temperature: r.opts.Temperature,
		MaxTokens:   r.opts.MaxTokens,
		Timeout:     r.opts.ModelTimeout,
	}
}

// stream runs the provider stream until it ends or a fallback is taken.
func (r *run) stream() (outcome, error) {
	streamCtx, stop := context.WithTimeout(r.ctx, r.opts.ModelTimeout)
	r.stopStream = stop
	defer stop()

	frames := make(chan frame, 16)
	ended := make(chan error, 1)
	send := func(f frame) {
		select {
		case frames <- f:
		case <-streamCtx.Done():
		}
	}
	go func() {
		ended <- r.o.Provider.Stream(streamCtx, r.llmRequest(), llm.Callbacks{
			OnChunk:   func(s string) { send(frame{chunk: s}) },
			OnControl: func(c llm.Control) { send(frame{control: &c}) },
			OnError:   func(err error) { send(frame{warn: err}) },
		})
	}()

	r.buf = NewBuffer(r.opts.FlushSize, r.opts.FlushInterval, time.Now())
	firstToken := time.NewTimer(r.opts.FirstTokenTimeout)
	defer firstToken.Stop()
	guard := time.NewTimer(r.opts.GuardTimeout)
	defer guard.Stop()
	tick := time.NewTicker(r.opts.FlushInterval)
	defer tick.Stop()

	var out outcome
	handle := func(f frame) {
		switch {
		case f.chunk != "":
			if r.text.Len() == 0 {
				firstToken.Stop()
				guard.Stop()
				if err := r.machine.Transition(Streaming); err != nil {
					r.log.Error("stream: first token", "error", err)
				}
				r.emit(Control{Name: ControlFirstToken})
			}
			r.text.WriteString(f.chunk)
			if s, ok := r.buf.Push(f.chunk, time.Now()); ok {
				r.chunk(s)
			}
		case f.control != nil && f.control.Kind == llm.ControlReconnect:
			r.emit(Control{Name: ControlReconnect, Meta: ReconnectMeta{Attempt: f.control.Attempt}})
		case f.control != nil && f.control.Kind == llm.ControlDone:
			out.finish = cmp.Or(f.control.FinishReason, out.finish)
			out.model = cmp.Or(f.control.Model, out.model)
			if f.control.Usage.TotalTokens > 0 {
				u := f.control.Usage
				out.usage = &u
			}
		case f.warn != nil:
			r.log.Debug("stream: frame dropped", "error", f.warn)
		}
	}

	for {
		select {
		case <-r.ctx.Done():
			return outcome{}, r.aborted()
		case <-firstToken.C:
			return r.fallback(ReasonFirstTokenTimeout, nil)
		case <-guard.C:
			return r.fallback(ReasonGuardTimeout, nil)
		case now := <-tick.C:
			if r.buf.Due(now) {
				r.chunk(r.buf.Flush(now))
			}
		case f := <-frames:
			handle(f)
		case err := <-ended:
			for drained := false; !drained; {
				select {
				case f := <-frames:
					handle(f)
				default:
					drained = true
				}
			}
			if r.ctx.Err() != nil {
				return outcome{}, r.aborted()
			}
			r.chunk(r.buf.Flush(time.Now()))
			if r.text.Len() == 0 {
				if err != nil {
					return r.fallback(ReasonProviderError, err)
				}
				return r.fallback(ReasonEmptyStream, nil)
			}
			if err != nil {
				r.log.Warn("stream: provider failed after content", "error", err)
				out.finish = FinishError
			}
			out.text = r.text.String()
			out.finish = cmp.Or(out.finish, "stop")
			out.model = cmp.Or(out.model, r.opts.Model)
			return out, nil
		}
	}
}

// fallback abandons the stream and produces the reply synchronously.
func (r *run) fallback(reason string, cause error) (outcome, error) {
	if err := r.machine.Transition(FallbackTriggered); err != nil {
		return outcome{}, err
	}
	r.stopStream()
	r.log.Warn("stream: fallback triggered", "reason", reason, "error", cause)

	var c llm.Completer = r.o.Provider
	if r.o.Fallback != nil {
		c = r.o.Fallback
	}
	comp, err := c.Complete(r.ctx, r.llmRequest())
	if r.ctx.Err() != nil {
		return outcome{}, r.aborted()
	}
	if err == nil && strings.TrimSpace(comp.Content) == "" {
		err = llm.ErrEmptyCompletion
	}
	if err != nil {
		r.log.Error("stream: fallback failed", "reason", reason, "error", err)
		if r.index == 0 {
			r.emit(Error{Err: errors.Join(cause, err)})
		}
		r.chunk(r.opts.Apology)
		return outcome{finish: FinishError, model: r.opts.Model, reason: reason, fallback: true, apology: true}, nil
	}

	r.chunk(comp.Content)
	out := outcome{
		text:     comp.Content,
		finish:   FinishFallbackFull,
		model:    cmp.Or(comp.Model, r.opts.Model),
		reason:   reason,
		fallback: true,
	}
	if comp.Usage.TotalTokens > 0 {
		u := comp.Usage
		out.usage = &u
	}
	return out, nil
}

// techBlock runs the side pipeline on the finished text and returns the
// work the finalizer can reuse.
func (r *run) techBlock(out outcome) (*finalize.Precomputed, error) {
	norm := finalize.Normalize(out.text, r.req.UserName, r.req.HasAssistantBefore, finalize.ModeFull)
	pre := &finalize.Precomputed{Normalized: &norm}
	if out.apology || r.o.Extractor == nil || !r.req.Decision.HasTechBlock {
		return pre, nil
	}

	// The extraction outlives the run so a late block can still be
	// persisted by the finalizer.
	blockCtx := context.WithoutCancel(r.ctx)
	full := make(chan *techblock.Block, 1)
	tee := techblock.ExtractorFunc(func(_ context.Context, in techblock.Input) (*techblock.Block, error) {
		b, err := r.o.Extractor.Extract(blockCtx, in)
		if b == nil {
			b = techblock.Blank()
		}
		full <- b
		return b, err
	})
	timers := techblock.Timers{Pending: r.opts.BlockPending, Deadline: r.opts.BlockDeadline}
	in := techblock.Input{UserMessage: r.req.Text, Reply: norm.BlockTarget}
	start := time.Now()
	block, err := techblock.Run(r.ctx, tee, in, timers, func() {
		r.log.Info("stream: technical block pending", "pending", timers.Pending, "deadline", timers.Deadline)
		r.emit(Control{Name: ControlMetaPending})
	})

	race := make(chan *techblock.Block, 1)
	pre.Race, pre.Full = race, full
	switch {
	case errors.Is(err, techblock.ErrDeadline):
		r.log.Warn("stream: technical block dropped after deadline", "deadline", timers.Deadline)
		race <- nil
		return pre, nil
	case err != nil:
		return nil, r.aborted()
	}
	race <- block
	r.block = block

	meta, ok := techblock.MetaPayload(block, norm.Cleaned)
	if !ok {
		r.log.Info("stream: technical block incomplete, meta not emitted", "elapsed", time.Since(start))
		return pre, nil
	}
	r.emit(Control{Name: ControlMeta, Meta: meta})
	r.saveMemory(block, meta)
	return pre, nil
}

func (r *run) saveMemory(block *techblock.Block, meta *techblock.Meta) {
	if r.o.Saver == nil || r.req.Guest || r.req.UserID == "" || meta.Intensidade < finalize.MemoryMinIntensity {
		return
	}
	res, err := r.o.Saver.Save(r.ctx, persist.MemoryRecord{
		UserID:    r.req.UserID,
		MessageID: r.req.MessageID,
		Text:      r.req.Text,
		Summary:   meta.Resumo,
		Emotion:   meta.Emocao,
		Category:  meta.Categoria,
		Intensity: meta.Intensidade,
		Tags:      meta.Tags,
		Domain:    cmp.Or(block.DominioVida, r.req.Decision.Domain),
		Origin:    "streaming_block",
	})
	if err != nil {
		r.log.Warn("stream: save memory failed", "error", err)
		return
	}
	if !res.Saved {
		return
	}
	r.memorySaved = true
	r.emit(Control{Name: ControlMemorySaved, Meta: MemorySavedMeta{
		MemoryID:    res.ID,
		First:       res.IsFirst,
		Intensidade: meta.Intensidade,
	}})
}

func (r *run) finish(out outcome, pre *finalize.Precomputed) (*Session, error) {
	if r.ctx.Err() != nil {
		return nil, r.aborted()
	}
	if err := r.machine.Transition(Done); err != nil {
		return nil, err
	}
	r.marks.MarkLLMEnd(time.Now())
	r.emit(Control{Name: ControlDone, Meta: DoneMeta{
		FinishReason: out.finish,
		Usage:        out.usage,
		Model:        out.model,
		Length:       r.length,
		Fallback:     out.fallback,
		Reason:       out.reason,
		Timings:      r.marks,
	}})
	return &Session{
		ID:           r.req.StreamID,
		Text:         out.text,
		FinishReason: out.finish,
		Usage:        out.usage,
		Model:        out.model,
		Fallback:     out.fallback,
		Reason:       out.reason,
		Block:        r.block,
		MemorySaved:  r.memorySaved,
		Marks:        r.marks,
		req:          r.req,
		finalizer:    r.o.Finalizer,
		pre:          pre,
		apology:      out.apology,
	}, nil
}
