package decision

import (
	"slices"
)

// Flags is the fixed set of boolean signals derived from one user message.
//
// A Flags value is produced once per turn and treated as immutable. The two
// late-bound fields (UseMemories, PatternSynthesis) are set on copies via
// WithMemories and WithPatternSynthesis.
type Flags struct {
	Curiosidade         bool `json:"curiosidade"`
	PedidoPratico       bool `json:"pedido_pratico"`
	DuvidaClassificacao bool `json:"duvida_classificacao"`
	Saudacao            bool `json:"saudacao"`
	Factual             bool `json:"factual"`
	Cansaco             bool `json:"cansaco"`
	Desabafo            bool `json:"desabafo"`
	Urgencia            bool `json:"urgencia"`
	EmocaoAltaLinguagem bool `json:"emocao_alta_linguagem"`
	Crise               bool `json:"crise"`

	Vergonha        bool `json:"vergonha"`
	Vulnerabilidade bool `json:"vulnerabilidade"`
	DefesasAtivas   bool `json:"defesas_ativas"`
	Combate         bool `json:"combate"`
	Evitamento      bool `json:"evitamento"`
	Autocritica     bool `json:"autocritica"`
	CulpaMarcada    bool `json:"culpa_marcada"`
	Catastrofizacao bool `json:"catastrofizacao"`

	// Cognitive heuristics, usually fed by a similarity lookup (see Priors).
	Ancoragem                   bool `json:"ancoragem"`
	CausasSuperamEstatisticas   bool `json:"causas_superam_estatisticas"`
	CertezaEmocional            bool `json:"certeza_emocional"`
	ExcessoIntuicaoEspecialista bool `json:"excesso_intuicao_especialista"`
	IgnoraRegressaoMedia        bool `json:"ignora_regressao_media"`

	// Crisis sub-detectors. Crise is their disjunction.
	Ideacao            bool `json:"ideacao"`
	Desespero          bool `json:"desespero"`
	Vazio              bool `json:"vazio"`
	Autodesvalorizacao bool `json:"autodesvalorizacao"`

	UseMemories      bool `json:"useMemories"`
	PatternSynthesis bool `json:"patternSynthesis"`
}

// Priors carries heuristic flags reported by an external lookup. They are
// OR-ed into the detected flags.
type Priors struct {
	Ancoragem                   bool
	CausasSuperamEstatisticas   bool
	CertezaEmocional            bool
	ExcessoIntuicaoEspecialista bool
	IgnoraRegressaoMedia        bool
}

type flagField struct {
	name string
	ptr  func(*Flags) *bool
}

// flagFields is the authoritative name table. Order is the declaration
// order of Flags and is used wherever a stable listing is needed.
var flagFields = []flagField{
	{"curiosidade", func(f *Flags) *bool { return &f.Curiosidade }},
	{"pedido_pratico", func(f *Flags) *bool { return &f.PedidoPratico }},
	{"duvida_classificacao", func(f *Flags) *bool { return &f.DuvidaClassificacao }},
	{"saudacao", func(f *Flags) *bool { return &f.Saudacao }},
	{"factual", func(f *Flags) *bool { return &f.Factual }},
	{"cansaco", func(f *Flags) *bool { return &f.Cansaco }},
	{"desabafo", func(f *Flags) *bool { return &f.Desabafo }},
	{"urgencia", func(f *Flags) *bool { return &f.Urgencia }},
	{"emocao_alta_linguagem", func(f *Flags) *bool { return &f.EmocaoAltaLinguagem }},
	{"crise", func(f *Flags) *bool { return &f.Crise }},
	{"vergonha", func(f *Flags) *bool { return &f.Vergonha }},
	{"vulnerabilidade", func(f *Flags) *bool { return &f.Vulnerabilidade }},
	{"defesas_ativas", func(f *Flags) *bool { return &f.DefesasAtivas }},
	{"combate", func(f *Flags) *bool { return &f.Combate }},
	{"evitamento", func(f *Flags) *bool { return &f.Evitamento }},
	{"autocritica", func(f *Flags) *bool { return &f.Autocritica }},
	{"culpa_marcada", func(f *Flags) *bool { return &f.CulpaMarcada }},
	{"catastrofizacao", func(f *Flags) *bool { return &f.Catastrofizacao }},
	{"ancoragem", func(f *Flags) *bool { return &f.Ancoragem }},
	{"causas_superam_estatisticas", func(f *Flags) *bool { return &f.CausasSuperamEstatisticas }},
	{"certeza_emocional", func(f *Flags) *bool { return &f.CertezaEmocional }},
	{"excesso_intuicao_especialista", func(f *Flags) *bool { return &f.ExcessoIntuicaoEspecialista }},
	{"ignora_regressao_media", func(f *Flags) *bool { return &f.IgnoraRegressaoMedia }},
	{"ideacao", func(f *Flags) *bool { return &f.Ideacao }},
	{"desespero", func(f *Flags) *bool { return &f.Desespero }},
	{"vazio", func(f *Flags) *bool { return &f.Vazio }},
	{"autodesvalorizacao", func(f *Flags) *bool { return &f.Autodesvalorizacao }},
	{"useMemories", func(f *Flags) *bool { return &f.UseMemories }},
	{"patternSynthesis", func(f *Flags) *bool { return &f.PatternSynthesis }},
}

// flagAliases maps English names onto their canonical flag.
var flagAliases = map[string]string{
	"shame":           "vergonha",
	"vulnerability":   "vulnerabilidade",
	"active_defenses": "defesas_ativas",
	"avoidance":       "evitamento",
	"self_criticism":  "autocritica",
	"guilt":           "culpa_marcada",
	"catastrophizing": "catastrofizacao",
}

var flagIndex = func() map[string]int {
	m := make(map[string]int, len(flagFields)+len(flagAliases))
	for i, f := range flagFields {
		m[f.name] = i
	}
	for alias, canonical := range flagAliases {
		m[alias] = m[canonical]
	}
	return m
}()

// IsFlagName reports whether name is a flag name or alias.
func IsFlagName(name string) bool {
	_, ok := flagIndex[name]
	return ok
}

// FlagNames returns every canonical flag name in declaration order.
func FlagNames() []string {
	names := make([]string, len(flagFields))
	for i, f := range flagFields {
		names[i] = f.name
	}
	return names
}

// Lookup returns the value of the named flag. ok is false for unknown names.
func (f Flags) Lookup(name string) (value, ok bool) {
	i, ok := flagIndex[name]
	if !ok {
		return false, false
	}
	return *flagFields[i].ptr(&f), true
}

// set assigns the named flag; unknown names are ignored.
func (f *Flags) set(name string, v bool) {
	if i, ok := flagIndex[name]; ok {
		*flagFields[i].ptr(f) = v
	}
}

// Names returns the canonical names of all true flags, sorted.
func (f Flags) Names() []string {
	var names []string
	for _, ff := range flagFields {
		if *ff.ptr(&f) {
			names = append(names, ff.name)
		}
	}
	slices.Sort(names)
	return names
}

// Map returns every canonical flag as a name/value map.
func (f Flags) Map() map[string]bool {
	m := make(map[string]bool, len(flagFields))
	for _, ff := range flagFields {
		m[ff.name] = *ff.ptr(&f)
	}
	return m
}

// WithMemories returns a copy with UseMemories set.
func (f Flags) WithMemories(v bool) Flags {
	f.UseMemories = v
	return f
}

// WithPatternSynthesis returns a copy with PatternSynthesis set.
func (f Flags) WithPatternSynthesis(v bool) Flags {
	f.PatternSynthesis = v
	return f
}

func (f *Flags) applyPriors(p Priors) {
	f.Ancoragem = f.Ancoragem || p.Ancoragem
	f.CausasSuperamEstatisticas = f.CausasSuperamEstatisticas || p.CausasSuperamEstatisticas
	f.CertezaEmocional = f.CertezaEmocional || p.CertezaEmocional
	f.ExcessoIntuicaoEspecialista = f.ExcessoIntuicaoEspecialista || p.ExcessoIntuicaoEspecialista
	f.IgnoraRegressaoMedia = f.IgnoraRegressaoMedia || p.IgnoraRegressaoMedia
}
