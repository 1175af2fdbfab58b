package stream

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/haivivi/ecostream/pkg/decision"
	"github.com/haivivi/ecostream/pkg/finalize"
	"github.com/haivivi/ecostream/pkg/llm"
	"github.com/haivivi/ecostream/pkg/persist"
	"github.com/haivivi/ecostream/pkg/techblock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scripted is a Provider that replays tokens.
type scripted struct {
	delay    time.Duration
	tokens   []string
	controls []llm.Control
	hang     bool
	err      error

	complete func(ctx context.Context, req llm.Request) (*llm.Completion, error)

	mu       sync.Mutex
	requests []llm.Request
}

func (p *scripted) Stream(ctx context.Context, req llm.Request, cb llm.Callbacks) error {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, tok := range p.tokens {
		cb.OnChunk(tok)
	}
	for _, c := range p.controls {
		cb.OnControl(c)
	}
	if p.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.err
}

func (p *scripted) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	if p.complete == nil {
		return nil, errors.New("no completion scripted")
	}
	return p.complete(ctx, req)
}

func completeWith(text string) func(context.Context, llm.Request) (*llm.Completion, error) {
	return func(context.Context, llm.Request) (*llm.Completion, error) {
		return &llm.Completion{Content: text, Model: "sync-model"}, nil
	}
}

// kinds renders the event sequence as "chunk", "error" or the control name.
func kinds(rec *Recorder) []string {
	var out []string
	for _, ev := range rec.Events() {
		switch ev := ev.(type) {
		case Control:
			out = append(out, ev.Name)
		case Chunk:
			out = append(out, "chunk")
		case Error:
			out = append(out, "error")
		}
	}
	return out
}

func doneMeta(t *testing.T, rec *Recorder) DoneMeta {
	t.Helper()
	done := rec.Controls(ControlDone)
	if len(done) != 1 {
		t.Fatalf("got %d done events, want 1", len(done))
	}
	meta, ok := done[0].Meta.(DoneMeta)
	if !ok {
		t.Fatalf("done meta is %T", done[0].Meta)
	}
	return meta
}

// checkFraming verifies that the run starts with prompt_ready, ends with a
// single done and delivers at least one chunk.
func checkFraming(t *testing.T, rec *Recorder) {
	t.Helper()
	ks := kinds(rec)
	if len(ks) < 3 {
		t.Fatalf("events = %v", ks)
	}
	if ks[0] != ControlPromptReady {
		t.Errorf("first event = %s, want prompt_ready", ks[0])
	}
	if ks[len(ks)-1] != ControlDone {
		t.Errorf("last event = %s, want done", ks[len(ks)-1])
	}
	if !slices.Contains(ks, "chunk") {
		t.Errorf("no chunk before done: %v", ks)
	}
	for i, c := range rec.Chunks() {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
	}
}

func TestRunStreams(t *testing.T) {
	p := &scripted{
		tokens: []string{"Oi", ", tudo", " bem?", " Estou", " aqui."},
		controls: []llm.Control{{
			Kind: llm.ControlDone, FinishReason: "stop", Model: "m1",
			Usage: llm.Usage{PromptTokens: 8, CompletionTokens: 4, TotalTokens: 12},
		}},
	}
	o := &Orchestrator{Provider: p, Options: Options{Model: "m1"}}
	rec := &Recorder{}
	sess, err := o.Run(context.Background(), Request{Text: "oi", SystemPrompt: "sys"}, rec)
	if err != nil {
		t.Fatal(err)
	}
	checkFraming(t, rec)

	want := "Oi, tudo bem? Estou aqui."
	if rec.Text() != want || sess.Text != want {
		t.Errorf("text = %q / %q, want %q", rec.Text(), sess.Text, want)
	}
	if got := len(rec.Controls(ControlFirstToken)); got != 1 {
		t.Errorf("first_token events = %d", got)
	}
	meta := doneMeta(t, rec)
	if meta.FinishReason != "stop" || meta.Fallback || meta.Model != "m1" {
		t.Errorf("done meta = %+v", meta)
	}
	if meta.Usage == nil || meta.Usage.TotalTokens != 12 {
		t.Errorf("usage = %+v", meta.Usage)
	}
	if meta.Length != len([]rune(want)) {
		t.Errorf("length = %d", meta.Length)
	}
	if meta.Timings.LLMStart.IsZero() || meta.Timings.LLMEnd.IsZero() {
		t.Errorf("timings not marked: %+v", meta.Timings)
	}
	if sess.ID == "" {
		t.Error("session id not assigned")
	}

	req := p.requests[0]
	if len(req.Messages) != 2 || req.Messages[0].Role != llm.RoleSystem || req.Messages[1].Content != "oi" {
		t.Errorf("messages = %+v", req.Messages)
	}
	if req.Temperature == nil || *req.Temperature != 0.6 || req.MaxTokens != 1200 {
		t.Errorf("request defaults = %+v", req)
	}
}

func TestRunFallback(t *testing.T) {
	tests := []struct {
		name   string
		p      *scripted
		opts   Options
		reason string
	}{
		{
			name:   "empty stream",
			p:      &scripted{},
			reason: ReasonEmptyStream,
		},
		{
			name:   "provider error",
			p:      &scripted{err: errors.New("connection reset")},
			reason: ReasonProviderError,
		},
		{
			name:   "guard timeout",
			p:      &scripted{hang: true},
			opts:   Options{GuardTimeout: 20 * time.Millisecond},
			reason: ReasonGuardTimeout,
		},
		{
			name:   "first token timeout",
			p:      &scripted{hang: true},
			opts:   Options{GuardTimeout: time.Hour, FirstTokenTimeout: 20 * time.Millisecond},
			reason: ReasonFirstTokenTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.p.complete = completeWith("Resposta completa.")
			o := &Orchestrator{Provider: tt.p, Options: tt.opts}
			rec := &Recorder{}
			sess, err := o.Run(context.Background(), Request{Text: "oi"}, rec)
			if err != nil {
				t.Fatal(err)
			}
			checkFraming(t, rec)
			if got := rec.Text(); got != "Resposta completa." {
				t.Errorf("text = %q", got)
			}
			meta := doneMeta(t, rec)
			if meta.FinishReason != FinishFallbackFull || !meta.Fallback || meta.Reason != tt.reason {
				t.Errorf("done meta = %+v", meta)
			}
			if !sess.Fallback || sess.Model != "sync-model" {
				t.Errorf("session = %+v", sess)
			}
		})
	}
}

// lateProvider hangs past the guard, then delivers tokens while the
// fallback completion is still running.
type lateProvider struct {
	tokenDelay    time.Duration
	completeDelay time.Duration
}

func (p *lateProvider) Stream(_ context.Context, _ llm.Request, cb llm.Callbacks) error {
	time.Sleep(p.tokenDelay)
	cb.OnChunk("tarde ")
	cb.OnChunk("demais.")
	return nil
}

func (p *lateProvider) Complete(ctx context.Context, _ llm.Request) (*llm.Completion, error) {
	select {
	case <-time.After(p.completeDelay):
		return &llm.Completion{Content: "Resposta completa.", Model: "sync-model"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRunIgnoresTokensAfterGuard(t *testing.T) {
	p := &lateProvider{tokenDelay: 40 * time.Millisecond, completeDelay: 80 * time.Millisecond}
	o := &Orchestrator{Provider: p, Options: Options{GuardTimeout: 20 * time.Millisecond, FirstTokenTimeout: time.Hour}}
	rec := &Recorder{}
	if _, err := o.Run(context.Background(), Request{Text: "oi"}, rec); err != nil {
		t.Fatal(err)
	}
	want := []string{ControlPromptReady, "chunk", ControlDone}
	if got := kinds(rec); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if got := rec.Text(); got != "Resposta completa." {
		t.Errorf("text = %q", got)
	}
	if meta := doneMeta(t, rec); meta.Reason != ReasonGuardTimeout || !meta.Fallback {
		t.Errorf("done meta = %+v", meta)
	}
}

func TestRunBuffersLateFirstToken(t *testing.T) {
	p := &scripted{delay: 300 * time.Millisecond, tokens: []string{"ab", "cd ", "ef"}}
	o := &Orchestrator{Provider: p}
	rec := &Recorder{}
	if _, err := o.Run(context.Background(), Request{Text: "oi"}, rec); err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, c := range rec.Chunks() {
		got = append(got, c.Delta)
	}
	if want := []string{"abcd ", "ef"}; !slices.Equal(got, want) {
		t.Errorf("chunks = %q, want %q", got, want)
	}
}

func TestRunTemperature(t *testing.T) {
	tests := []struct {
		name string
		in   *float64
		want float64
	}{
		{"default", nil, 0.6},
		{"zero kept", llm.Ptr(0.0), 0},
		{"explicit", llm.Ptr(1.1), 1.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scripted{tokens: []string{"ok."}}
			o := &Orchestrator{Provider: p, Options: Options{Temperature: tt.in}}
			if _, err := o.Run(context.Background(), Request{Text: "oi"}, &Recorder{}); err != nil {
				t.Fatal(err)
			}
			got := p.requests[0].Temperature
			if got == nil || *got != tt.want {
				t.Errorf("temperature = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunNegativeOptions(t *testing.T) {
	p := &scripted{tokens: []string{"Oi, ", "tudo bem?"}}
	o := &Orchestrator{Provider: p, Options: Options{
		FlushInterval: -time.Millisecond,
		FlushSize:     -1,
		GuardTimeout:  -time.Second,
		MaxTokens:     -5,
	}}
	rec := &Recorder{}
	if _, err := o.Run(context.Background(), Request{Text: "oi"}, rec); err != nil {
		t.Fatal(err)
	}
	checkFraming(t, rec)
	if rec.Text() != "Oi, tudo bem?" {
		t.Errorf("text = %q", rec.Text())
	}
	if got := p.requests[0].MaxTokens; got != 1200 {
		t.Errorf("max tokens = %d", got)
	}
}

func TestOptionsDefaults(t *testing.T) {
	d := DefaultOptions()
	tests := []struct {
		name string
		in   Options
	}{
		{"zero", Options{}},
		{"negative", Options{
			MaxTokens:         -1,
			FirstTokenTimeout: -1,
			GuardTimeout:      -1,
			ModelTimeout:      -1,
			FlushSize:         -1,
			FlushInterval:     -1,
			BlockPending:      -1,
			BlockDeadline:     -1,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.withDefaults()
			if got.MaxTokens != d.MaxTokens || got.FirstTokenTimeout != d.FirstTokenTimeout ||
				got.GuardTimeout != d.GuardTimeout || got.ModelTimeout != d.ModelTimeout ||
				got.FlushSize != d.FlushSize || got.FlushInterval != d.FlushInterval ||
				got.BlockPending != d.BlockPending || got.BlockDeadline != d.BlockDeadline {
				t.Errorf("withDefaults = %+v", got)
			}
			if got.Temperature == nil || *got.Temperature != *d.Temperature {
				t.Errorf("temperature = %v", got.Temperature)
			}
		})
	}
}

func TestRunSeparateFallbackCompleter(t *testing.T) {
	var called bool
	o := &Orchestrator{
		Provider: &scripted{},
		Fallback: llm.CompleterFunc(func(context.Context, llm.Request) (*llm.Completion, error) {
			called = true
			return &llm.Completion{Content: "ok"}, nil
		}),
	}
	rec := &Recorder{}
	if _, err := o.Run(context.Background(), Request{Text: "oi"}, rec); err != nil {
		t.Fatal(err)
	}
	if !called || rec.Text() != "ok" {
		t.Errorf("called = %v, text = %q", called, rec.Text())
	}
}

func TestRunFallbackFailure(t *testing.T) {
	boom := errors.New("model down")
	p := &scripted{complete: func(context.Context, llm.Request) (*llm.Completion, error) { return nil, boom }}
	o := &Orchestrator{Provider: p, Options: Options{Apology: "Desculpa."}}
	rec := &Recorder{}
	sess, err := o.Run(context.Background(), Request{Text: "oi"}, rec)
	if err != nil {
		t.Fatal(err)
	}
	checkFraming(t, rec)
	want := []string{ControlPromptReady, "error", "chunk", ControlDone}
	if got := kinds(rec); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	ev := rec.Events()[1].(Error)
	if !errors.Is(ev.Err, boom) {
		t.Errorf("error event = %v", ev.Err)
	}
	if rec.Text() != "Desculpa." {
		t.Errorf("text = %q", rec.Text())
	}
	if meta := doneMeta(t, rec); meta.FinishReason != FinishError || !meta.Fallback {
		t.Errorf("done meta = %+v", meta)
	}

	res, err := sess.Finalize(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Message != finalize.DefaultReply || res.BlockStatus != finalize.BlockSkipped {
		t.Errorf("finalized = %+v", res)
	}
}

func TestRunErrorAfterContent(t *testing.T) {
	p := &scripted{tokens: []string{"Oi. ", "Tudo"}, err: errors.New("stream broke")}
	o := &Orchestrator{Provider: p}
	rec := &Recorder{}
	sess, err := o.Run(context.Background(), Request{Text: "oi"}, rec)
	if err != nil {
		t.Fatal(err)
	}
	checkFraming(t, rec)
	if slices.Contains(kinds(rec), "error") {
		t.Error("error event emitted after content")
	}
	if rec.Text() != "Oi. Tudo" {
		t.Errorf("text = %q", rec.Text())
	}
	meta := doneMeta(t, rec)
	if meta.FinishReason != FinishError || meta.Fallback {
		t.Errorf("done meta = %+v", meta)
	}
	if sess.FinishReason != FinishError {
		t.Errorf("finish = %q", sess.FinishReason)
	}
}

func TestRunReconnect(t *testing.T) {
	p := &scripted{
		tokens:   []string{"ok "},
		controls: []llm.Control{{Kind: llm.ControlReconnect, Attempt: 1}},
	}
	rec := &Recorder{}
	if _, err := (&Orchestrator{Provider: p}).Run(context.Background(), Request{Text: "oi"}, rec); err != nil {
		t.Fatal(err)
	}
	rc := rec.Controls(ControlReconnect)
	if len(rc) != 1 || rc[0].Meta.(ReconnectMeta).Attempt != 1 {
		t.Errorf("reconnect events = %+v", rc)
	}
}

func TestRunAbort(t *testing.T) {
	reg := NewRegistry()
	p := &scripted{tokens: []string{"Oi "}, hang: true}
	o := &Orchestrator{Provider: p, Registry: reg}

	rec := &Recorder{}
	sink := SinkFunc(func(ev Event) {
		rec.Emit(ev)
		if c, ok := ev.(Control); ok && c.Name == ControlFirstToken {
			reg.Cancel("s1")
		}
	})
	sess, err := o.Run(context.Background(), Request{StreamID: "s1", Text: "oi"}, sink)
	if !errors.Is(err, ErrAborted) || !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v", err)
	}
	if sess != nil {
		t.Error("aborted run returned a session")
	}
	want := []string{ControlPromptReady, ControlFirstToken}
	if got := kinds(rec); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if active := reg.Active(); len(active) != 0 {
		t.Errorf("active = %v", active)
	}
}

func TestRunAbortByContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &scripted{hang: true}
	rec := &Recorder{}
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := (&Orchestrator{Provider: p}).Run(ctx, Request{Text: "oi"}, rec)
	if !errors.Is(err, ErrAborted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if got := kinds(rec); !slices.Equal(got, []string{ControlPromptReady}) {
		t.Errorf("events = %v", got)
	}
}

func TestRunRequiresProvider(t *testing.T) {
	if _, err := (&Orchestrator{}).Run(context.Background(), Request{}, &Recorder{}); err == nil {
		t.Error("expected error")
	}
}

type savedRecords struct {
	mu   sync.Mutex
	recs []persist.MemoryRecord
}

func (s *savedRecords) Save(_ context.Context, rec persist.MemoryRecord) (persist.SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return persist.SaveResult{Saved: true, ID: "mem-1", IsFirst: len(s.recs) == 1}, nil
}

func (s *savedRecords) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

func sampleBlock() *techblock.Block {
	return &techblock.Block{
		EmocaoPrincipal: "tristeza",
		Intensidade:     8,
		Tags:            []string{"trabalho", "cansaço"},
		Categoria:       "emocional",
		AnaliseResumo:   "Cansaço com o trabalho.",
	}
}

func blockExtractor(delay time.Duration, b *techblock.Block) techblock.Extractor {
	return techblock.ExtractorFunc(func(context.Context, techblock.Input) (*techblock.Block, error) {
		time.Sleep(delay)
		return b.Clone(), nil
	})
}

func techRequest() Request {
	return Request{
		UserID:   "u1",
		UserName: "Ana Souza",
		Text:     "estou muito cansada do trabalho",
		Decision: decision.Result{Intensity: 8, HasTechBlock: true, SaveMemory: true},
	}
}

func TestRunTechBlock(t *testing.T) {
	saver := &savedRecords{}
	fin := finalize.New(nil, saver, nil)
	o := &Orchestrator{
		Provider:  &scripted{tokens: []string{"Sinto muito, Ana. ", "Estou aqui."}},
		Extractor: blockExtractor(0, sampleBlock()),
		Saver:     saver,
		Finalizer: fin,
	}
	rec := &Recorder{}
	sess, err := o.Run(context.Background(), techRequest(), rec)
	if err != nil {
		t.Fatal(err)
	}
	checkFraming(t, rec)

	ks := kinds(rec)
	meta, saved, done := slices.Index(ks, ControlMeta), slices.Index(ks, ControlMemorySaved), slices.Index(ks, ControlDone)
	if meta < 0 || saved < meta || done < saved {
		t.Fatalf("events = %v", ks)
	}
	m := rec.Controls(ControlMeta)[0].Meta.(*techblock.Meta)
	if m.Emocao != "tristeza" || m.Intensidade != 8 || len(m.Tags) != 2 {
		t.Errorf("meta = %+v", m)
	}
	ms := rec.Controls(ControlMemorySaved)[0].Meta.(MemorySavedMeta)
	if ms.MemoryID != "mem-1" || !ms.First || ms.Intensidade != 8 {
		t.Errorf("memory_saved = %+v", ms)
	}
	if !sess.MemorySaved || sess.Block == nil {
		t.Errorf("session = %+v", sess)
	}

	res, err := sess.Finalize(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	fin.Wait()
	if res.BlockStatus != finalize.BlockReady || res.Emocao != "tristeza" {
		t.Errorf("finalized = %+v", res)
	}
	if again, _ := sess.Finalize(context.Background()); again != res {
		t.Error("Finalize is not memoized")
	}
	if got := saver.count(); got != 1 {
		t.Errorf("saves = %d, want 1", got)
	}
}

func TestRunTechBlockGuestNotSaved(t *testing.T) {
	saver := &savedRecords{}
	req := techRequest()
	req.Guest = true
	o := &Orchestrator{
		Provider:  &scripted{tokens: []string{"Estou aqui."}},
		Extractor: blockExtractor(0, sampleBlock()),
		Saver:     saver,
	}
	rec := &Recorder{}
	if _, err := o.Run(context.Background(), req, rec); err != nil {
		t.Fatal(err)
	}
	if len(rec.Controls(ControlMeta)) != 1 || len(rec.Controls(ControlMemorySaved)) != 0 {
		t.Errorf("events = %v", kinds(rec))
	}
	if saver.count() != 0 {
		t.Error("guest memory saved")
	}
}

func TestRunTechBlockPending(t *testing.T) {
	o := &Orchestrator{
		Provider:  &scripted{tokens: []string{"Estou aqui."}},
		Extractor: blockExtractor(80*time.Millisecond, sampleBlock()),
		Options:   Options{BlockPending: 10 * time.Millisecond, BlockDeadline: time.Second},
	}
	rec := &Recorder{}
	if _, err := o.Run(context.Background(), techRequest(), rec); err != nil {
		t.Fatal(err)
	}
	ks := kinds(rec)
	pending, meta := slices.Index(ks, ControlMetaPending), slices.Index(ks, ControlMeta)
	if pending < 0 || meta < pending {
		t.Errorf("events = %v", ks)
	}
}

func TestRunTechBlockDeadline(t *testing.T) {
	fin := finalize.New(nil, nil, nil)
	o := &Orchestrator{
		Provider:  &scripted{tokens: []string{"Estou aqui."}},
		Extractor: blockExtractor(80*time.Millisecond, sampleBlock()),
		Finalizer: fin,
		Options:   Options{BlockPending: time.Hour, BlockDeadline: 10 * time.Millisecond},
	}
	rec := &Recorder{}
	sess, err := o.Run(context.Background(), techRequest(), rec)
	if err != nil {
		t.Fatal(err)
	}
	checkFraming(t, rec)
	if len(rec.Controls(ControlMeta)) != 0 {
		t.Error("meta emitted after deadline")
	}
	if sess.Block != nil {
		t.Error("late block kept on session")
	}
	res, err := sess.Finalize(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	fin.Wait()
	if res.BlockStatus != finalize.BlockMissing {
		t.Errorf("block status = %s", res.BlockStatus)
	}
	// Let the abandoned extraction log and exit.
	time.Sleep(20 * time.Millisecond)
}

func TestRunSkipsBlockWithoutDecision(t *testing.T) {
	var calls int
	ex := techblock.ExtractorFunc(func(context.Context, techblock.Input) (*techblock.Block, error) {
		calls++
		return sampleBlock(), nil
	})
	o := &Orchestrator{Provider: &scripted{tokens: []string{"ok"}}, Extractor: ex}
	if _, err := o.Run(context.Background(), Request{Text: "oi"}, &Recorder{}); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Errorf("extractor called %d times", calls)
	}
}

func TestBuffer(t *testing.T) {
	start := time.Unix(0, 0)
	b := NewBuffer(10, 100*time.Millisecond, start)

	if _, ok := b.Push("Ol", start); ok {
		t.Error("flushed mid-word")
	}
	if out, ok := b.Push("á ", start); !ok || out != "Olá " {
		t.Errorf("Push at boundary = %q, %v", out, ok)
	}
	if _, ok := b.Push("abcdefghi", start); ok {
		t.Error("flushed below size")
	}
	if out, ok := b.Push("jk", start); !ok || out != "abcdefghijk" {
		t.Errorf("Push at size = %q, %v", out, ok)
	}
	b.Push("x", start)
	if b.Due(start.Add(50 * time.Millisecond)) {
		t.Error("due before interval")
	}
	if !b.Due(start.Add(100 * time.Millisecond)) {
		t.Error("not due after interval")
	}
	if out := b.Flush(start); out != "x" || b.Len() != 0 {
		t.Errorf("Flush = %q, len %d", out, b.Len())
	}
	if b.Due(start.Add(time.Hour)) {
		t.Error("empty buffer is due")
	}

	// The interval runs from the first buffered token, not from the
	// previous flush.
	late := start.Add(300 * time.Millisecond)
	if _, ok := b.Push("ab", late); ok {
		t.Error("late first token flushed alone")
	}
	if b.Due(late.Add(50 * time.Millisecond)) {
		t.Error("due before interval from first token")
	}
	if !b.Due(late.Add(100 * time.Millisecond)) {
		t.Error("not due after interval from first token")
	}
}

func TestIsBoundary(t *testing.T) {
	for _, r := range " \n.,!?;:-—" {
		if !IsBoundary(r) {
			t.Errorf("IsBoundary(%q) = false", r)
		}
	}
	for _, r := range "aZ9é" {
		if IsBoundary(r) {
			t.Errorf("IsBoundary(%q) = true", r)
		}
	}
}

func TestMachine(t *testing.T) {
	tests := []struct {
		path []State
		ok   bool
	}{
		{[]State{Streaming, Done}, true},
		{[]State{Streaming, FallbackTriggered, Done}, true},
		{[]State{FallbackTriggered, Done}, true},
		{[]State{Done}, true},
		{[]State{Streaming, Streaming}, false},
		{[]State{FallbackTriggered, Streaming}, false},
		{[]State{FallbackTriggered, FallbackTriggered}, false},
		{[]State{Done, Done}, false},
		{[]State{Done, Streaming}, false},
	}
	for _, tt := range tests {
		var m Machine
		var err error
		for _, s := range tt.path {
			if err = m.Transition(s); err != nil {
				break
			}
		}
		if (err == nil) != tt.ok {
			t.Errorf("path %v: err = %v, want ok %v", tt.path, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("path %v: err = %v", tt.path, err)
		}
	}
}

func TestStateString(t *testing.T) {
	names := []string{"starting", "streaming", "fallback_triggered", "done"}
	for i, want := range names {
		if got := State(i).String(); got != want {
			t.Errorf("State(%d) = %s, want %s", i, got, want)
		}
	}
	b, _ := FallbackTriggered.MarshalJSON()
	if string(b) != `"fallback_triggered"` {
		t.Errorf("MarshalJSON = %s", b)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	id, ctx, cancel := reg.Register(context.Background(), "")
	if id == "" {
		t.Fatal("no id assigned")
	}
	if got := reg.Active(); !slices.Equal(got, []string{id}) {
		t.Errorf("active = %v", got)
	}

	_, ctx2, cancel2 := reg.Register(context.Background(), id)
	defer cancel2()
	if !errors.Is(context.Cause(ctx), ErrSuperseded) {
		t.Errorf("older run cause = %v", context.Cause(ctx))
	}
	// Releasing the superseded run keeps the newer entry.
	cancel()
	if len(reg.Active()) != 1 {
		t.Errorf("active = %v", reg.Active())
	}

	if !reg.Cancel(id) {
		t.Error("Cancel of active run = false")
	}
	if !errors.Is(context.Cause(ctx2), ErrCancelled) {
		t.Errorf("cause = %v", context.Cause(ctx2))
	}
	if reg.Cancel(id) || reg.Cancel("missing") {
		t.Error("Cancel of inactive run = true")
	}

	reg.Register(context.Background(), "b")
	reg.Register(context.Background(), "a")
	if got := reg.Active(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("active = %v", got)
	}
	reg.Remove("a")
	reg.Cancel("b")
	if len(reg.Active()) != 0 {
		t.Errorf("active = %v", reg.Active())
	}
}

func TestLatencyMarks(t *testing.T) {
	var m LatencyMarks
	t1 := time.Unix(1, 0)
	m.MarkLLMStart(t1)
	m.MarkLLMStart(t1.Add(time.Second))
	if !m.LLMStart.Equal(t1) {
		t.Errorf("LLMStart = %v", m.LLMStart)
	}
}

func TestRequestMessages(t *testing.T) {
	r := Request{Text: "oi", Messages: []llm.Message{llm.User("a"), llm.Assistant("b"), llm.User("c")}}
	got := r.messages()
	var parts []string
	for _, m := range got {
		parts = append(parts, m.Content)
	}
	if strings.Join(parts, ",") != "a,b,c" {
		t.Errorf("messages = %v", parts)
	}
}
