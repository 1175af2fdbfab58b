package prompt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/haivivi/ecostream/pkg/decision"
)

// DeveloperPrompt is always the first module.
const DeveloperPrompt = "developer_prompt.txt"

// MinimalVitalSet is appended to every selection.
var MinimalVitalSet = []string{
	"sistema_identidade.txt",
	"formato_resposta.txt",
	"usomemorias.txt",
	"tecnico_bloco_memoria.txt",
	"metodo_viva_enxuto.txt",
}

// Footer modules driven by late-bound flags.
const (
	MemoryStitchingFooter  = "MEMORIA_COSTURA_REGRAS.txt"
	PatternSynthesisFooter = "SINTETIZADOR_PADRAO.txt"
)

// Selector assembles the module selection for a turn.
type Selector struct {
	Catalog Catalog
	Matrix  *Matrix
}

// NewSelector creates a Selector. A nil matrix uses DefaultMatrix.
func NewSelector(c Catalog, m *Matrix) *Selector {
	if m == nil {
		m = DefaultMatrix()
	}
	return &Selector{Catalog: c, Matrix: m}
}

// Selection is the result of Select.
type Selection struct {
	Base BaseSelection
	// Intent holds the modules added for an explicit user intent.
	Intent []string
	// Requested is the full ordered list asked from the catalog.
	Requested []string
	Applied
}

// Select runs base selection, adds intent, footer and pinned modules, loads
// them from the catalog and applies front-matter gating.
func (s *Selector) Select(ctx context.Context, text string, dec decision.Result) (*Selection, error) {
	base := s.Matrix.SelectBase(dec)
	intent := InferIntentModules(text)

	var footers []string
	if dec.Flags.UseMemories {
		footers = append(footers, MemoryStitchingFooter)
	}
	if dec.Flags.PatternSynthesis {
		footers = append(footers, PatternSynthesisFooter)
	}

	requested := []string{DeveloperPrompt}
	requested = append(requested, base.Names...)
	requested = append(requested, intent...)
	requested = append(requested, footers...)
	requested = append(requested, MinimalVitalSet...)
	requested = uniq(requested)

	cands, err := s.Catalog.Load(ctx, requested)
	if err != nil {
		return nil, fmt.Errorf("prompt: load modules: %w", err)
	}
	for i := range cands {
		if slices.Contains(footers, cands[i].Name) && cands[i].Meta.InjectAs == "" {
			cands[i].Meta.InjectAs = SourceFooter
		}
	}

	applied := ApplyFrontMatter(dec, requested, cands)
	debug := slices.Clone(base.Debug)
	for _, id := range intent {
		debug = append(debug, DebugEntry{ID: id, Source: SourceIntent, Activated: true})
	}
	for _, id := range footers {
		debug = append(debug, DebugEntry{ID: id, Source: SourceFooter, Activated: true})
	}
	applied.Debug = append(debug, applied.Debug...)

	return &Selection{
		Base:      base,
		Intent:    intent,
		Requested: requested,
		Applied:   applied,
	}, nil
}

// Prompt joins the regular and footer module texts with blank lines.
func (s *Selection) Prompt() string {
	var parts []string
	for _, p := range s.Regular {
		if t := strings.TrimSpace(p.Text); t != "" {
			parts = append(parts, t)
		}
	}
	for _, p := range s.Footers {
		if t := strings.TrimSpace(p.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Hash returns the hex sha256 of Prompt, usable as a cache key.
func (s *Selection) Hash() string {
	sum := sha256.Sum256([]byte(s.Prompt()))
	return hex.EncodeToString(sum[:])
}

// Tokens returns the estimated token count of Prompt.
func (s *Selection) Tokens() int {
	return EstimateTokens(s.Prompt())
}
