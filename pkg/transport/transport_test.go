package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"

	"github.com/haivivi/ecostream/pkg/llm"
	"github.com/haivivi/ecostream/pkg/prompt"
	"github.com/haivivi/ecostream/pkg/stream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

type replay struct {
	tokens []string
	hang   bool
}

func (p *replay) Stream(ctx context.Context, _ llm.Request, cb llm.Callbacks) error {
	for _, tok := range p.tokens {
		cb.OnChunk(tok)
	}
	if p.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (p *replay) Complete(context.Context, llm.Request) (*llm.Completion, error) {
	return &llm.Completion{Content: "resposta"}, nil
}

func newHandler(p *replay, opts stream.Options) *Handler {
	return &Handler{
		Pipeline: &Pipeline{},
		Orchestrator: &stream.Orchestrator{
			Provider: p,
			Registry: stream.NewRegistry(),
			Options:  opts,
		},
	}
}

func TestNewEnvelope(t *testing.T) {
	tests := []struct {
		name string
		ev   stream.Event
		want string
	}{
		{"control", stream.Control{Name: "done", Meta: map[string]int{"length": 3}}, `{"type":"control","name":"done","meta":{"length":3}`},
		{"chunk", stream.Chunk{Delta: "oi", Index: 0}, `{"type":"chunk","delta":"oi","index":0`},
		{"error", stream.Error{Err: errors.New("boom")}, `{"type":"error","error":"boom"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(NewEnvelope(tt.ev))
			if err != nil {
				t.Fatal(err)
			}
			if !strings.HasPrefix(string(data), tt.want) {
				t.Errorf("envelope = %s, want prefix %s", data, tt.want)
			}
		})
	}
	if got := NewEnvelope(stream.Control{Name: "meta"}).EventName(); got != "meta" {
		t.Errorf("EventName = %q", got)
	}
	if got := NewEnvelope(stream.Chunk{}).EventName(); got != TypeChunk {
		t.Errorf("EventName = %q", got)
	}
}

func TestSSESink(t *testing.T) {
	w := httptest.NewRecorder()
	sink, err := NewSSESink(w)
	if err != nil {
		t.Fatal(err)
	}
	sink.Emit(stream.Chunk{Delta: "oi", Index: 0})
	sink.Emit(stream.Control{Name: stream.ControlDone})
	if err := sink.Comment("ping"); err != nil {
		t.Fatal(err)
	}

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	body := w.Body.String()
	for _, want := range []string{"id: 1\nevent: chunk\ndata: ", `"delta":"oi"`, "id: 2\nevent: done\n", ": ping\n\n"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

type noFlush struct{ http.ResponseWriter }

func TestSSESinkRequiresFlusher(t *testing.T) {
	if _, err := NewSSESink(noFlush{httptest.NewRecorder()}); !errors.Is(err, ErrStreamingUnsupported) {
		t.Errorf("err = %v", err)
	}
}

func TestGuardTrips(t *testing.T) {
	rec := &stream.Recorder{}
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	g := NewGuard(rec, 20*time.Millisecond, cancel)
	defer g.Stop()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("guard did not trip")
	}
	if !errors.Is(context.Cause(ctx), ErrGuardTimeout) {
		t.Errorf("cause = %v", context.Cause(ctx))
	}
	if !g.Tripped() || rec.Text() != GuardMessage {
		t.Errorf("tripped = %v, text = %q", g.Tripped(), rec.Text())
	}
	if len(rec.Controls(stream.ControlDone)) != 1 {
		t.Error("no done event")
	}
	g.Emit(stream.Chunk{Delta: "late"})
	if strings.Contains(rec.Text(), "late") {
		t.Error("event forwarded after trip")
	}
}

func TestGuardDisarmedByChunk(t *testing.T) {
	rec := &stream.Recorder{}
	g := NewGuard(rec, 20*time.Millisecond, nil)
	g.Emit(stream.Control{Name: stream.ControlPromptReady})
	g.Emit(stream.Chunk{Delta: "oi"})
	time.Sleep(50 * time.Millisecond)
	if g.Tripped() || rec.Text() != "oi" {
		t.Errorf("tripped = %v, text = %q", g.Tripped(), rec.Text())
	}
}

func post(t *testing.T, srv *httptest.Server, body string) (int, string) {
	t.Helper()
	resp, err := srv.Client().Post(srv.URL+"/v1/chat", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(data)
}

func TestHandlerSSE(t *testing.T) {
	h := newHandler(&replay{tokens: []string{"Oi, ", "tudo bem?"}}, stream.Options{})
	defer h.Wait()
	srv := httptest.NewServer(h)
	defer srv.Close()

	code, body := post(t, srv, `{"text":"oi","userId":"u1"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d: %s", code, body)
	}
	for _, want := range []string{"event: prompt_ready", "event: chunk", `"delta":"Oi, "`, "event: done"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
	last := strings.LastIndex(body, "event: ")
	if !strings.HasPrefix(body[last:], "event: done") {
		t.Errorf("last event is not done:\n%s", body[last:])
	}
}

func TestHandlerGuard(t *testing.T) {
	h := newHandler(&replay{hang: true}, stream.Options{GuardTimeout: time.Hour, FirstTokenTimeout: time.Hour})
	h.GuardTimeout = 30 * time.Millisecond
	defer h.Wait()
	srv := httptest.NewServer(h)
	defer srv.Close()

	_, body := post(t, srv, `{"text":"oi"}`)
	if !strings.Contains(body, GuardMessage) || !strings.Contains(body, "transport_guard") {
		t.Errorf("body:\n%s", body)
	}
	if n := strings.Count(body, "event: done"); n != 1 {
		t.Errorf("done events = %d", n)
	}
}

func TestHandlerBadRequest(t *testing.T) {
	h := newHandler(&replay{}, stream.Options{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	if code, _ := post(t, srv, `{"text":"  "}`); code != http.StatusBadRequest {
		t.Errorf("blank text status = %d", code)
	}
	if code, _ := post(t, srv, `not json`); code != http.StatusBadRequest {
		t.Errorf("bad json status = %d", code)
	}
	resp, err := srv.Client().Get(srv.URL + "/v1/chat")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d", resp.StatusCode)
	}
}

func TestHandlerStreamsAndCancel(t *testing.T) {
	h := newHandler(&replay{}, stream.Options{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/v1/chat/missing/cancel", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cancel status = %d", resp.StatusCode)
	}

	resp, err = srv.Client().Get(srv.URL + "/v1/streams")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		Streams []string `json:"streams"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Streams == nil || len(out.Streams) != 0 {
		t.Errorf("streams = %v", out.Streams)
	}
}

func TestHandlerWebSocket(t *testing.T) {
	h := newHandler(&replay{tokens: []string{"Olá ", "de novo."}}, stream.Options{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/chat", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	resp.Body.Close()

	if err := conn.WriteJSON(ChatRequest{Text: "oi"}); err != nil {
		t.Fatal(err)
	}
	var text strings.Builder
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read: %v", err)
		}
		if env.Type == TypeChunk {
			text.WriteString(env.Delta)
		}
		if env.Name == stream.ControlDone {
			break
		}
	}
	if text.String() != "Olá de novo." {
		t.Errorf("text = %q", text.String())
	}
}

func TestPipelinePrepare(t *testing.T) {
	fsys := fstest.MapFS{
		"developer_prompt.txt": {Data: []byte("Você é a Eco.")},
	}
	p := &Pipeline{Selector: prompt.NewSelector(prompt.NewFSCatalog(fsys, prompt.CatalogOptions{}), nil)}
	req, sel := p.Prepare(context.Background(), ChatRequest{
		Text:    "  estou muito triste  ",
		History: []llm.Message{llm.User("oi"), llm.Assistant("olá")},
	})
	if sel == nil {
		t.Fatal("no selection")
	}
	if req.Text != "estou muito triste" || !req.HasAssistantBefore {
		t.Errorf("request = %+v", req)
	}
	if len(req.Messages) != 3 || req.Messages[2].Content != "estou muito triste" {
		t.Errorf("messages = %+v", req.Messages)
	}
	if !strings.Contains(req.SystemPrompt, "Você é a Eco.") {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if len(req.SelectedModules) == 0 || req.SelectedModules[0] != prompt.DeveloperPrompt {
		t.Errorf("modules = %v", req.SelectedModules)
	}
	if req.Decision.Intensity == 0 {
		t.Errorf("decision = %+v", req.Decision)
	}
	if req.Marks.ContextBuildStart.IsZero() || req.Marks.ContextBuildEnd.IsZero() {
		t.Errorf("marks = %+v", req.Marks)
	}
}
