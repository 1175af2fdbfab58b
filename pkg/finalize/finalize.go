// Package finalize turns a raw model reply into the result returned to the
// caller and hands the exchange to persistence in the background.
//
// Finalize never fails because of the technical block, the memory saver or
// the tracker: those are awaited with bounded waits or run detached, and
// their failures are logged.
package finalize

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haivivi/ecostream/pkg/decision"
	"github.com/haivivi/ecostream/pkg/persist"
	"github.com/haivivi/ecostream/pkg/techblock"
)

// Defaults.
const (
	DefaultBlockTimeout = time.Second
	DefaultTrackDelay   = 2500 * time.Millisecond

	// MemoryMinIntensity is the intensity from which an exchange is saved.
	MemoryMinIntensity = 7

	unknownEmotion = "indefinida"
)

// BlockStatus reports what happened to the technical block.
type BlockStatus string

// Block statuses.
const (
	BlockReady   BlockStatus = "ready"
	BlockMissing BlockStatus = "missing"
	BlockPending BlockStatus = "pending"
	BlockSkipped BlockStatus = "skipped"
)

// Precomputed carries work the orchestrator already started, so Finalize
// does not repeat it.
type Precomputed struct {
	Normalized *Normalized
	// Race and Full are the channels returned by techblock.Race.
	Race <-chan *techblock.Block
	Full <-chan *techblock.Block
}

// Params is the input of Finalize.
type Params struct {
	Raw                string
	UserMessage        string
	UserName           string
	HasAssistantBefore bool

	UserID    string
	StreamID  string
	MessageID string
	Guest     bool

	Mode         Mode
	StartedAt    time.Time
	Model        string
	FinishReason string
	Tokens       int64
	SkipBlock    bool
	Fallback     bool
	// MemorySaved reports that the exchange was already saved while
	// streaming, so the background task does not save it again.
	MemorySaved bool

	Decision        decision.Result
	SelectedModules []string

	Precomputed *Precomputed
}

// Result is the finalized reply.
type Result struct {
	Message     string           `json:"message"`
	Intensidade int              `json:"intensidade"`
	Resumo      string           `json:"resumo"`
	Emocao      string           `json:"emocao"`
	Tags        []string         `json:"tags"`
	Categoria   string           `json:"categoria,omitempty"`
	BlockStatus BlockStatus      `json:"blockStatus"`
	Block       *techblock.Block `json:"-"`
	Meta        map[string]any   `json:"meta,omitempty"`
}

// Finalizer finalizes replies. The zero value finalizes text only.
type Finalizer struct {
	Extractor techblock.Extractor
	Saver     persist.MemorySaver
	Tracker   persist.Tracker

	// BlockTimeout bounds the wait for the block in full mode. Zero does
	// not wait.
	BlockTimeout time.Duration
	// TrackDelay is the latency above which a reply is tracked as slow.
	TrackDelay time.Duration

	bg errgroup.Group
}

// New returns a Finalizer with default timings.
func New(ex techblock.Extractor, saver persist.MemorySaver, tracker persist.Tracker) *Finalizer {
	return &Finalizer{
		Extractor:    ex,
		Saver:        saver,
		Tracker:      tracker,
		BlockTimeout: DefaultBlockTimeout,
		TrackDelay:   DefaultTrackDelay,
	}
}

func (f *Finalizer) tracker() persist.Tracker {
	if f.Tracker != nil {
		return f.Tracker
	}
	return persist.Nop{}
}

// Finalize builds the result of a reply. In full mode it waits up to
// BlockTimeout for the technical block; in fast mode the block is left
// pending. Persistence always runs in the background on a context that
// outlives ctx.
func (f *Finalizer) Finalize(ctx context.Context, p Params) (*Result, error) {
	if p.StartedAt.IsZero() {
		p.StartedAt = time.Now()
	}
	if p.Mode == "" {
		p.Mode = ModeFull
	}

	var norm Normalized
	if p.Precomputed != nil && p.Precomputed.Normalized != nil {
		norm = *p.Precomputed.Normalized
	} else {
		norm = Normalize(p.Raw, p.UserName, p.HasAssistantBefore, p.Mode)
	}

	buildBlock := p.Decision.HasTechBlock && !p.SkipBlock
	var race, full <-chan *techblock.Block
	if buildBlock {
		if p.Precomputed != nil && p.Precomputed.Full != nil {
			race, full = p.Precomputed.Race, p.Precomputed.Full
			if race == nil {
				race = full
			}
		} else if f.Extractor != nil {
			race, full = techblock.Race(context.WithoutCancel(ctx), f.Extractor,
				techblock.Input{UserMessage: p.UserMessage, Reply: norm.BlockTarget}, f.BlockTimeout)
		}
	}

	status := BlockSkipped
	var block *techblock.Block
	switch {
	case !buildBlock:
	case p.Mode == ModeFast:
		status = BlockPending
		f.tracker().TrackTechBlock(ctx, persist.BlockEvent{UserID: p.UserID, StreamID: p.StreamID, Status: string(BlockPending)})
	case race == nil:
		status = BlockMissing
	default:
		select {
		case block = <-race:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		status = BlockMissing
		if block != nil && !block.IsEmpty() {
			block = EnsureBlock(block, p.Decision, norm.Cleaned)
			status = BlockReady
		} else {
			block = nil
		}
	}

	res := &Result{
		Message:     norm.Cleaned,
		Intensidade: p.Decision.Intensity,
		Resumo:      norm.Cleaned,
		Emocao:      unknownEmotion,
		Tags:        []string{},
		BlockStatus: status,
	}
	if block != nil {
		res.Block = block
		res.Resumo = block.AnaliseResumo
		res.Emocao = block.EmocaoPrincipal
		res.Tags = block.Tags
		res.Categoria = block.Categoria
	}

	elapsed := time.Since(p.StartedAt)
	res.Meta = map[string]any{
		"debug_trace": map[string]any{
			"intensity":       p.Decision.Intensity,
			"openness":        p.Decision.Openness,
			"isVulnerable":    p.Decision.IsVulnerable,
			"vivaSteps":       p.Decision.VivaSteps,
			"saveMemory":      p.Decision.SaveMemory,
			"hasTechBlock":    p.Decision.HasTechBlock,
			"selectedModules": p.SelectedModules,
			"latencyMs":       elapsed.Milliseconds(),
		},
	}

	tr := f.tracker()
	if p.Mode == ModeFull && elapsed > f.trackDelay() {
		tr.TrackSlowResponse(ctx, persist.SlowEvent{UserID: p.UserID, StreamID: p.StreamID, Stage: "finalize", Elapsed: elapsed})
	}
	tr.TrackMessage(ctx, persist.MessageEvent{
		UserID:       p.UserID,
		StreamID:     p.StreamID,
		Model:        p.Model,
		FinishReason: p.FinishReason,
		BlockStatus:  string(status),
		Length:       len([]rune(norm.Cleaned)),
		Tokens:       p.Tokens,
		Latency:      elapsed,
		Fallback:     p.Fallback,
	})

	bgCtx := context.WithoutCancel(ctx)
	f.bg.Go(func() error {
		f.persist(bgCtx, p, norm, block, full)
		return nil
	})
	return res, nil
}

func (f *Finalizer) trackDelay() time.Duration {
	if f.TrackDelay > 0 {
		return f.TrackDelay
	}
	return DefaultTrackDelay
}

// Wait blocks until every background persistence task has finished.
func (f *Finalizer) Wait() {
	_ = f.bg.Wait()
}

func (f *Finalizer) persist(ctx context.Context, p Params, norm Normalized, block *techblock.Block, full <-chan *techblock.Block) {
	if block == nil && full != nil {
		start := time.Now()
		b := <-full
		status := "empty"
		if b != nil && !b.IsEmpty() {
			block = EnsureBlock(b, p.Decision, norm.Cleaned)
			status = "success"
		}
		f.tracker().TrackTechBlock(ctx, persist.BlockEvent{
			UserID: p.UserID, StreamID: p.StreamID, Status: status,
			Intensity: p.Decision.Intensity, Elapsed: time.Since(start),
		})
	}

	if f.Saver == nil || p.Guest || p.UserID == "" || p.MemorySaved {
		return
	}
	if !p.Decision.SaveMemory || p.Decision.Intensity < MemoryMinIntensity {
		return
	}
	rec := MemoryRecordFor(p, norm, block)
	out, err := f.Saver.Save(ctx, rec)
	if err != nil {
		slog.Warn("finalize: save memory failed", "user", p.UserID, "error", err)
		return
	}
	slog.Debug("finalize: memory saved", "user", p.UserID, "id", out.ID, "first", out.IsFirst)
}

// MemoryRecordFor builds the memory record of an exchange. block may be nil.
func MemoryRecordFor(p Params, norm Normalized, block *techblock.Block) persist.MemoryRecord {
	rec := persist.MemoryRecord{
		UserID:    p.UserID,
		MessageID: p.MessageID,
		Text:      p.UserMessage,
		Summary:   norm.Cleaned,
		Intensity: p.Decision.Intensity,
		Tags:      append([]string(nil), p.Decision.Tags...),
		Domain:    p.Decision.Domain,
		Origin:    "finalize",
	}
	if strings.TrimSpace(rec.Text) == "" {
		rec.Text = norm.Cleaned
	}
	if block != nil {
		rec.Summary = block.AnaliseResumo
		rec.Emotion = block.EmocaoPrincipal
		rec.Category = block.Categoria
		if len(block.Tags) > 0 {
			rec.Tags = block.Tags
		}
		if block.DominioVida != "" {
			rec.Domain = block.DominioVida
		}
	}
	return rec
}

// EnsureBlock fills the gaps of a block with values derived from the
// decision and the delivered text. The input is not modified.
func EnsureBlock(b *techblock.Block, dec decision.Result, cleaned string) *techblock.Block {
	out := b.Clone()
	if out == nil {
		out = techblock.Blank()
	}
	out.EmocaoPrincipal = strings.TrimSpace(out.EmocaoPrincipal)
	if out.EmocaoPrincipal == "" {
		out.EmocaoPrincipal = unknownEmotion
	}
	out.Intensidade = dec.Intensity
	tags := make([]string, 0, len(out.Tags))
	for _, t := range out.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	out.Tags = tags
	out.DominioVida = strings.TrimSpace(out.DominioVida)
	out.PadraoComportamental = strings.TrimSpace(out.PadraoComportamental)
	out.NivelAbertura = OpennessLabel(dec.Openness)
	out.AnaliseResumo = strings.TrimSpace(out.AnaliseResumo)
	if out.AnaliseResumo == "" {
		out.AnaliseResumo = cleaned
	}
	out.Categoria = strings.TrimSpace(out.Categoria)
	return out
}

// OpennessLabel names an openness level.
func OpennessLabel(openness int) string {
	switch {
	case openness >= 3:
		return "alto"
	case openness == 2:
		return "médio"
	}
	return "baixo"
}
