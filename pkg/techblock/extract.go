package techblock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/itchyny/gojq"
	"github.com/kaptinlin/jsonrepair"

	"github.com/haivivi/ecostream/pkg/llm"
)

// ErrNoJSON is returned when a model answer contains no JSON object.
var ErrNoJSON = errors.New("techblock: no json object in answer")

// Input is the exchange a block is extracted from.
type Input struct {
	UserMessage string
	Reply       string
}

// Extractor produces the technical block of an exchange. Implementations
// return a non-nil block even when they fail; the error is informative.
type Extractor interface {
	Extract(ctx context.Context, in Input) (*Block, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, in Input) (*Block, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(ctx context.Context, in Input) (*Block, error) {
	return f(ctx, in)
}

// Default extraction settings.
const (
	DefaultDetailedTimeout = 4 * time.Second
	DefaultCompactTimeout  = 3500 * time.Millisecond
	extractTemperature     = 0.2
	extractMaxTokens       = 480
)

var (
	// DefaultPrimaryModels are tried with the detailed prompt first.
	DefaultPrimaryModels = []string{"openai/gpt-5.0", "openai/gpt-5.0-mini"}
	// DefaultFallbackModels are tried with the compact prompt only.
	DefaultFallbackModels = []string{"openai/gpt-5-chat", "openai/gpt-5-mini"}
)

// LLMExtractor asks a side model for the block. Attempts run in order
// until one yields a non-empty block: every primary model with the
// detailed prompt then the compact one, then every fallback model with the
// compact prompt.
type LLMExtractor struct {
	Completer llm.Completer

	PrimaryModels  []string
	FallbackModels []string

	DetailedTimeout time.Duration
	CompactTimeout  time.Duration
}

type attempt struct {
	model    string
	detailed bool
}

func (e *LLMExtractor) attempts() []attempt {
	primary := e.PrimaryModels
	if len(primary) == 0 {
		primary = DefaultPrimaryModels
	}
	fallback := e.FallbackModels
	if len(fallback) == 0 {
		fallback = DefaultFallbackModels
	}
	var out []attempt
	seen := make(map[attempt]bool)
	add := func(a attempt) {
		if a.model == "" || seen[a] {
			return
		}
		seen[a] = true
		out = append(out, a)
	}
	for _, m := range primary {
		add(attempt{model: m, detailed: true})
		add(attempt{model: m})
	}
	for _, m := range fallback {
		add(attempt{model: m})
	}
	return out
}

// Extract implements Extractor.
func (e *LLMExtractor) Extract(ctx context.Context, in Input) (*Block, error) {
	var errs []error
	for _, a := range e.attempts() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		b, err := e.try(ctx, a, in)
		if err != nil {
			slog.Debug("techblock: attempt failed", "model", a.model, "detailed", a.detailed, "error", err)
			errs = append(errs, err)
			continue
		}
		if b.IsEmpty() {
			continue
		}
		return b, nil
	}
	return Blank(), errors.Join(errs...)
}

func (e *LLMExtractor) try(ctx context.Context, a attempt, in Input) (*Block, error) {
	prompt, timeout := compactPrompt(in), orDefault(e.CompactTimeout, DefaultCompactTimeout)
	if a.detailed {
		prompt, timeout = detailedPrompt(in), orDefault(e.DetailedTimeout, DefaultDetailedTimeout)
	}
	resp, err := e.Completer.Complete(ctx, llm.Request{
		Model:       a.model,
		Messages:    []llm.Message{llm.User(prompt)},
		Temperature: llm.Ptr(extractTemperature),
		MaxTokens:   extractMaxTokens,
		JSON:        true,
		Timeout:     timeout,
	})
	if err != nil {
		return nil, err
	}
	return Parse(resp.Content)
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

const targetJSON = `{
  "emocao_principal": "string | null",
  "intensidade": 0,
  "tags": ["string"],
  "dominio_vida": "trabalho | relacoes | familia | saude | financas | autoestima | outro | null",
  "padrao_comportamental": "string | null",
  "nivel_abertura": "baixo | médio | alto",
  "categoria": "string | null",
  "analise_resumo": "string | null",
  "tema_recorrente": "string | null",
  "evolucao_temporal": "string | null",
  "impacto_resposta_estimado": "abriu | fechou | neutro | null",
  "sugestao_proximo_passo": "string | null",
  "modo_hibrido_acionado": false,
  "tipo_referencia": "abertura | durante | emocao_intensa | null"
}`

func detailedPrompt(in Input) string {
	var sb strings.Builder
	sb.WriteString("Extraia e retorne apenas o JSON abaixo, sem texto extra, a partir da conversa.\n\n")
	sb.WriteString("Resposta da assistente:\n\"\"\"\n")
	sb.WriteString(in.Reply)
	sb.WriteString("\n\"\"\"\n\nMensagem do usuário:\n\"\"\"\n")
	sb.WriteString(in.UserMessage)
	sb.WriteString("\n\"\"\"\n\nJSON alvo:\n")
	sb.WriteString(targetJSON)
	if s := schemaText(); s != "" {
		sb.WriteString("\n\nEsquema:\n")
		sb.WriteString(s)
	}
	sb.WriteString("\n\nintensidade é um inteiro de 0 a 10. Use null quando não souber.")
	return sb.String()
}

func compactPrompt(in Input) string {
	oneLine := strings.Join(strings.Fields(targetJSON), " ")
	return fmt.Sprintf("Retorne SOMENTE este JSON válido: %s\n\nMensagem: %q\nResposta: %q\n\nSe não souber algum campo, use null, [], \"\" ou 0.",
		oneLine, in.UserMessage, in.Reply)
}

var jsonObjectRe = regexp.MustCompile(`\{[\s\S]*\}`)

// stringFields are the free-text fields of Block.
var stringFields = []string{
	"emocao_principal",
	"dominio_vida",
	"padrao_comportamental",
	"nivel_abertura",
	"categoria",
	"analise_resumo",
	"tema_recorrente",
	"evolucao_temporal",
	"impacto_resposta_estimado",
	"sugestao_proximo_passo",
	"tipo_referencia",
}

// normalizeQuery reshapes an arbitrary decoded answer into the Block
// layout: unwraps arrays and wrapper objects, drops unknown fields and
// coerces every known field to its type.
func normalizeQuery() string {
	var sb strings.Builder
	sb.WriteString(`def clean: if type == "string" then (gsub("^\\s+|\\s+$"; "") | if . == "" then null else . end) else null end;
def obj: if type == "object" then . else {} end;
(if type == "array" then (.[0] // {}) else . end) | obj
| (if (.bloco_tecnico | type) == "object" then .bloco_tecnico elif (.bloco | type) == "object" then .bloco else . end)
| {
`)
	for _, f := range stringFields {
		fmt.Fprintf(&sb, "  %s: (.%s | clean),\n", f, f)
	}
	sb.WriteString(`  intensidade: (.intensidade | (if type == "number" then . elif type == "string" then (tonumber? // 0) else 0 end) | round | if . < 0 then 0 elif . > 10 then 10 else . end),
  tags: (.tags | if type == "array" then [.[] | clean | select(. != null)] elif type == "string" then [split(",")[] | clean | select(. != null)] else [] end),
  modo_hibrido_acionado: (.modo_hibrido_acionado == true)
}
| with_entries(select(.value != null))`)
	return sb.String()
}

var normalizer = sync.OnceValues(func() (*gojq.Code, error) {
	q, err := gojq.Parse(normalizeQuery())
	if err != nil {
		return nil, fmt.Errorf("techblock: parse normalizer: %w", err)
	}
	return gojq.Compile(q)
})

// Parse extracts a block from a model answer. The first JSON object in
// the text is decoded, repaired when malformed, and normalized. An answer
// that decodes to an empty block yields Blank.
func Parse(text string) (*Block, error) {
	raw := jsonObjectRe.FindString(text)
	if raw == "" {
		return nil, ErrNoJSON
	}
	var v any
	if err := unmarshalJSON([]byte(raw), &v); err != nil {
		return nil, err
	}
	code, err := normalizer()
	if err != nil {
		return nil, err
	}
	iter := code.Run(v)
	out, ok := iter.Next()
	if !ok {
		return nil, ErrNoJSON
	}
	if err, ok := out.(error); ok {
		return nil, fmt.Errorf("techblock: normalize: %w", err)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	var b Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("techblock: decode: %w", err)
	}
	return sanitize(&b), nil
}

func sanitize(b *Block) *Block {
	if b.IsEmpty() {
		return Blank()
	}
	b.Intensidade = min(max(b.Intensidade, 0), MaxIntensity)
	if b.Tags == nil {
		b.Tags = []string{}
	}
	return b
}

// unmarshalJSON decodes data, repairing it once if it is malformed.
func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return err
	}
	repaired, rerr := jsonrepair.JSONRepair(string(data))
	if rerr != nil {
		return fmt.Errorf("techblock: repair json: %w", err)
	}
	return json.Unmarshal([]byte(repaired), v)
}
