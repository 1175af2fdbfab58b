package prompt

import (
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/haivivi/ecostream/pkg/decision"
	"github.com/haivivi/ecostream/pkg/rule"
)

// LevelSpec lists the modules of one conversation level: Specific names plus
// every module of the Inherit layers.
type LevelSpec struct {
	Specific []string
	Inherit  []string
}

// Condition adds a module when Rule passes.
type Condition struct {
	Description string
	Rule        string
}

// Matrix is the declarative module catalog used by base selection.
type Matrix struct {
	Layers       map[string][]string
	ByLevel      map[int]LevelSpec
	MinIntensity map[string]int
	Conditions   map[string]Condition
	Priority     []string

	rules    map[string]*rule.Rule
	priority map[string]int
}

// NewMatrix compiles the condition rules of m. Rules that fail to compile
// are logged and never fire.
func NewMatrix(m Matrix) *Matrix {
	out := m
	out.rules = make(map[string]*rule.Rule, len(m.Conditions))
	for _, name := range slices.Sorted(maps.Keys(m.Conditions)) {
		r, err := rule.Compile(m.Conditions[name].Rule)
		if err != nil {
			slog.Warn("prompt: condition disabled", "module", name, "error", err)
			continue
		}
		out.rules[name] = r
	}
	out.priority = make(map[string]int, len(m.Priority))
	for i, name := range m.Priority {
		if _, ok := out.priority[name]; !ok {
			out.priority[name] = i
		}
	}
	return &out
}

// BaseSelection is the output of SelectBase.
type BaseSelection struct {
	Level     int
	Intensity int
	// Raw is the level's module set before gating.
	Raw []string
	// Names is the gated set ordered by priority.
	Names []string
	// Cut lists modules removed by intensity gates as "<name> [min=N]".
	Cut   []string
	Debug []DebugEntry
}

// unlistedPriority ranks modules absent from the priority list.
const unlistedPriority = 999

// SelectBase picks the base modules for dec.
func (m *Matrix) SelectBase(dec decision.Result) BaseSelection {
	level := min(max(dec.Openness, 1), 3)
	sel := BaseSelection{Level: level, Intensity: dec.Intensity}

	if level == 1 {
		names := uniq(m.ByLevel[1].Specific)
		sel.Raw = slices.Clone(names)
		sel.Names = m.sortByPriority(names)
		for _, id := range names {
			sel.Debug = append(sel.Debug, DebugEntry{ID: id, Source: SourceBase, Activated: true})
		}
		return sel
	}

	spec := m.ByLevel[level]
	raw := slices.Clone(spec.Specific)
	for _, layer := range spec.Inherit {
		raw = append(raw, m.Layers[layer]...)
	}
	raw = uniq(raw)
	sel.Raw = slices.Clone(raw)

	dbg := newDebugLog()
	for _, id := range raw {
		dbg.set(DebugEntry{ID: id, Source: SourceBase, Activated: true})
	}

	gated := make(map[string]bool, len(raw))
	for _, id := range raw {
		gated[id] = true
	}

	for _, id := range slices.Sorted(maps.Keys(m.MinIntensity)) {
		if !gated[id] {
			continue
		}
		minInt := m.MinIntensity[id]
		th := minInt
		if dec.Intensity < minInt {
			delete(gated, id)
			sel.Cut = append(sel.Cut, id+" [min="+strconv.Itoa(minInt)+"]")
			dbg.set(DebugEntry{ID: id, Source: SourceIntensity, Activated: false, Threshold: &th})
			continue
		}
		dbg.set(DebugEntry{ID: id, Source: SourceIntensity, Activated: true, Threshold: &th})
	}

	for _, id := range slices.Sorted(maps.Keys(m.rules)) {
		r := m.rules[id]
		passed := r.Eval(dec)
		if passed {
			gated[id] = true
		}
		dbg.set(DebugEntry{
			ID:        id,
			Source:    SourceRule,
			Activated: gated[id],
			Rule:      r.String(),
			Signals:   r.Signals(dec),
		})
	}

	sel.Names = m.sortByPriority(slices.Collect(maps.Keys(gated)))
	sel.Debug = dbg.entries()
	return sel
}

func (m *Matrix) rank(name string) int {
	if i, ok := m.priority[name]; ok {
		return i
	}
	return unlistedPriority
}

func (m *Matrix) sortByPriority(names []string) []string {
	out := uniq(names)
	slices.SortStableFunc(out, func(a, b string) int {
		if ra, rb := m.rank(a), m.rank(b); ra != rb {
			return ra - rb
		}
		return strings.Compare(a, b)
	})
	return out
}

// debugLog keeps one entry per module, in first-insertion order.
type debugLog struct {
	order []string
	byID  map[string]DebugEntry
}

func newDebugLog() *debugLog {
	return &debugLog{byID: make(map[string]DebugEntry)}
}

func (l *debugLog) set(e DebugEntry) {
	if _, ok := l.byID[e.ID]; !ok {
		l.order = append(l.order, e.ID)
	}
	l.byID[e.ID] = e
}

func (l *debugLog) entries() []DebugEntry {
	out := make([]DebugEntry, len(l.order))
	for i, id := range l.order {
		out[i] = l.byID[id]
	}
	return out
}

func uniq(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// DefaultMatrix returns the built-in module matrix.
func DefaultMatrix() *Matrix {
	const (
		midOrExtreme = "((intensidade>=2 && intensidade<=6) || intensidade>=8) && nivel>=2 && !pedido_pratico"
	)
	return NewMatrix(Matrix{
		Layers: map[string][]string{
			"core": {
				"IDENTIDADE.txt",
				"MODULACAO_TOM_REGISTRO.txt",
				"ENCERRAMENTO_SENSIVEL.txt",
			},
			"emotional": {},
			"advanced": {
				"ESCALA_ABERTURA_1a3.txt",
				"ESCALA_INTENSIDADE_0a10.txt",
				"METODO_VIVA_ENXUTO.txt",
				"BLOCO_TECNICO_MEMORIA.txt",
			},
		},
		ByLevel: map[int]LevelSpec{
			1: {Specific: []string{
				"NV1_CORE.txt",
				"IDENTIDADE_MINI.txt",
				"ANTISALDO_MIN.txt",
				"ESCALA_ABERTURA_1a3.txt",
			}},
			2: {Inherit: []string{"core", "advanced"}},
			3: {Inherit: []string{"core", "advanced"}},
		},
		MinIntensity: map[string]int{
			"BLOCO_TECNICO_MEMORIA.txt": 7,
			"METODO_VIVA_ENXUTO.txt":    7,
		},
		Conditions: map[string]Condition{
			"ESCALA_ABERTURA_1a3.txt": {
				Description: "Openness map 1-3 to calibrate tone and pace",
				Rule:        "nivel>=1",
			},
			"ESCALA_INTENSIDADE_0a10.txt": {
				Description: "Intensity map for turns with emotion in play",
				Rule:        "nivel>=1",
			},
			"METODO_VIVA_ENXUTO.txt": {
				Description: "Clear emotion (>=7) with openness >=2, outside greetings, factual or practical asks, fatigue and venting",
				Rule:        "intensidade>=7 && nivel>=2 && !pedido_pratico && !saudacao && !factual && !cansaco && !desabafo",
			},
			"BLOCO_TECNICO_MEMORIA.txt": {
				Description: "Technical block at the end when emotion >=7",
				Rule:        "intensidade>=7",
			},
			"ENCERRAMENTO_SENSIVEL.txt": {
				Description: "Soft close on assent, pause or energy drop",
				Rule:        "nivel>=1",
			},
			"eco_heuristica_disponibilidade.txt": {
				Description: "Availability heuristic",
				Rule:        "(intensidade<=2 || intensidade>=8) && nivel>=2 && !pedido_pratico",
			},
			"eco_heuristica_excesso_confianca.txt": {
				Description: "Overconfidence",
				Rule:        midOrExtreme,
			},
			"eco_heuristica_ilusao_validade.txt": {
				Description: "Illusion of validity",
				Rule:        midOrExtreme,
			},
			"heuristica_ilusao_compreensao.txt": {
				Description: "Illusion of understanding",
				Rule:        midOrExtreme,
			},
		},
		Priority: []string{
			"NV1_CORE.txt",
			"IDENTIDADE_MINI.txt",
			"ANTISALDO_MIN.txt",
			"ESCALA_ABERTURA_1a3.txt",
			"ESCALA_INTENSIDADE_0a10.txt",
			"PRINCIPIOS_CHAVE.txt",
			"IDENTIDADE.txt",
			"ECO_ESTRUTURA_DE_RESPOSTA.txt",
			"MODULACAO_TOM_REGISTRO.txt",
			"MEMORIAS_CONTEXTO.txt",
			"ENCERRAMENTO_SENSIVEL.txt",
			"METODO_VIVA_ENXUTO.txt",
			"BLOCO_TECNICO_MEMORIA.txt",
		},
	})
}
