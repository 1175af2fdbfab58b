package decision

import (
	"slices"
	"strconv"
	"strings"
)

// Result is the decision for one inbound message. It is created once and
// read by every downstream stage; use the With* methods to derive copies.
type Result struct {
	Intensity    int      `json:"intensity"`
	Openness     int      `json:"openness"`
	IsVulnerable bool     `json:"isVulnerable"`
	HasTechBlock bool     `json:"hasTechBlock"`
	SaveMemory   bool     `json:"saveMemory"`
	VivaSteps    []string `json:"vivaSteps"`
	Tags         []string `json:"tags"`
	// Domain is empty when no life domain was detected.
	Domain string `json:"domain,omitempty"`
	Flags  Flags  `json:"flags"`
	Debug  Debug  `json:"debug"`
}

// Debug lists the signals that produced a Result.
type Debug struct {
	IntensitySignals     []string `json:"intensitySignals,omitempty"`
	VulnerabilitySignals []string `json:"vulnerabilitySignals,omitempty"`
}

// Option customizes a single Decide call.
type Option func(*decideOptions)

type decideOptions struct {
	priors    Priors
	techBlock *bool
}

// WithPriors merges heuristic flags from an external lookup.
func WithPriors(p Priors) Option {
	return func(o *decideOptions) { o.priors = p }
}

// WithTechBlock overrides whether the technical block pipeline should run.
// By default it runs whenever the memory threshold is reached.
func WithTechBlock(v bool) Option {
	return func(o *decideOptions) { o.techBlock = &v }
}

// Engine holds a compiled detector set.
type Engine struct {
	flags      []compiled
	emotions   []compiled
	amplifiers []compiled
	contexts   []compiled
	intense    []compiled
	vulnerable []compiled
	domains    []compiled
}

// Detectors groups the detector lists an Engine is built from.
type Detectors struct {
	Flags         []Detector
	Emotions      []Detector
	Amplifiers    []Detector
	Contexts      []Detector
	Intense       []Detector
	Vulnerability []Detector
	Domains       []Detector
}

// DefaultDetectors returns the built-in detector lists.
func DefaultDetectors() Detectors {
	return Detectors{
		Flags:         FlagDetectors,
		Emotions:      EmotionDetectors,
		Amplifiers:    AmplifierDetectors,
		Contexts:      ContextDetectors,
		Intense:       IntenseTriggers,
		Vulnerability: VulnerabilityDetectors,
		Domains:       DomainDetectors,
	}
}

// NewEngine compiles ds. Invalid patterns are skipped.
func NewEngine(ds Detectors) *Engine {
	return &Engine{
		flags:      compileAll(ds.Flags),
		emotions:   compileAll(ds.Emotions),
		amplifiers: compileAll(ds.Amplifiers),
		contexts:   compileAll(ds.Contexts),
		intense:    compileAll(ds.Intense),
		vulnerable: compileAll(ds.Vulnerability),
		domains:    compileAll(ds.Domains),
	}
}

var defaultEngine = NewEngine(DefaultDetectors())

// Decide runs the default engine.
func Decide(text string, opts ...Option) Result {
	return defaultEngine.Decide(text, opts...)
}

// DetectFlags runs the default engine's flag detectors.
func DetectFlags(text string, priors Priors) Flags {
	return defaultEngine.DetectFlags(text, priors)
}

// DetectFlags evaluates every flag detector against the normalized text.
func (e *Engine) DetectFlags(text string, priors Priors) Flags {
	return e.detectFlags(Normalize(text), priors)
}

func (e *Engine) detectFlags(norm string, priors Priors) Flags {
	var f Flags
	for _, d := range e.flags {
		if d.match(norm) {
			f.set(d.label, true)
		}
	}
	f.Crise = f.Ideacao || f.Desespero || f.Vazio || f.Autodesvalorizacao
	f.applyPriors(priors)
	return f
}

// Decide derives the full Result for text.
func (e *Engine) Decide(text string, opts ...Option) Result {
	var o decideOptions
	for _, opt := range opts {
		opt(&o)
	}

	norm := Normalize(text)
	ir := e.intensity(text, norm)
	flags := e.detectFlags(norm, o.priors)
	vulnerable, vsignals := e.vulnerability(norm, flags)
	openness := Openness(text)

	res := Result{
		Intensity:    ir.score,
		Openness:     openness,
		IsVulnerable: vulnerable,
		SaveMemory:   ir.score >= MemoryThreshold,
		VivaSteps:    VivaSteps(openness),
		Tags:         sortedUnique(ir.families),
		Domain:       e.domain(norm),
		Flags:        flags,
		Debug: Debug{
			IntensitySignals:     ir.signals,
			VulnerabilitySignals: vsignals,
		},
	}
	res.HasTechBlock = res.SaveMemory
	if o.techBlock != nil {
		res.HasTechBlock = *o.techBlock
	}
	return res
}

func (e *Engine) vulnerability(norm string, f Flags) (bool, []string) {
	var signals []string
	if f.Vulnerabilidade {
		signals = append(signals, "flag:vulnerability")
	}
	if f.Vergonha {
		signals = append(signals, "flag:shame")
	}
	if f.CulpaMarcada {
		signals = append(signals, "flag:guilt")
	}
	if f.Autocritica {
		signals = append(signals, "flag:self_criticism")
	}
	if f.Crise {
		signals = append(signals, "flag:crisis")
	}
	for _, d := range e.vulnerable {
		if d.match(norm) {
			signals = append(signals, "lexical:"+d.label)
			break
		}
	}
	return len(signals) > 0, signals
}

func (e *Engine) domain(norm string) string {
	for _, d := range e.domains {
		if d.match(norm) {
			return d.label
		}
	}
	return ""
}

// VivaSteps returns the response method steps for an openness level.
func VivaSteps(openness int) []string {
	switch openness {
	case 3:
		return []string{"V", "I", "V", "A", "Pausa"}
	case 2:
		return []string{"V", "I", "A"}
	default:
		return []string{"V", "A"}
	}
}

func sortedUnique(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	out = slices.Compact(out)
	if out == nil {
		out = []string{}
	}
	return out
}

// WithFlags returns a copy of r carrying f.
func (r Result) WithFlags(f Flags) Result {
	r.Flags = f
	r.VivaSteps = slices.Clone(r.VivaSteps)
	r.Tags = slices.Clone(r.Tags)
	return r
}

// Number resolves the numeric rule identifiers.
func (r Result) Number(name string) (float64, bool) {
	switch name {
	case "intensidade", "intensity":
		return float64(r.Intensity), true
	case "nivel", "level", "openness":
		return float64(r.Openness), true
	}
	return 0, false
}

// Bool resolves boolean rule identifiers. Unknown names are false.
func (r Result) Bool(name string) bool {
	switch name {
	case "hasTechBlock":
		return r.HasTechBlock
	case "saveMemory":
		return r.SaveMemory
	case "isVulnerable", "vulnerable":
		return r.IsVulnerable
	}
	v, _ := r.Flags.Lookup(name)
	return v
}

// Snapshot returns the fields visible to rules and placeholders as a map,
// with every flag under its canonical name.
func (r Result) Snapshot() map[string]any {
	m := map[string]any{
		"intensity":        r.Intensity,
		"openness":         r.Openness,
		"isVulnerable":     r.IsVulnerable,
		"hasTechBlock":     r.HasTechBlock,
		"saveMemory":       r.SaveMemory,
		"useMemories":      r.Flags.UseMemories,
		"patternSynthesis": r.Flags.PatternSynthesis,
		"vivaSteps":        slices.Clone(r.VivaSteps),
		"tags":             slices.Clone(r.Tags),
		"domain":           r.Domain,
	}
	for name, v := range r.Flags.Map() {
		m[name] = v
	}
	return m
}

// Field returns the string form of a decision field for template
// placeholders. Arrays are joined with ", ", booleans render as true/false
// and unknown or empty fields as "".
func (r Result) Field(name string) string {
	switch name {
	case "intensity", "intensidade":
		return strconv.Itoa(r.Intensity)
	case "openness", "nivel", "level":
		return strconv.Itoa(r.Openness)
	case "isVulnerable":
		return boolString(r.IsVulnerable)
	case "hasTechBlock":
		return boolString(r.HasTechBlock)
	case "saveMemory":
		return boolString(r.SaveMemory)
	case "vivaSteps":
		return strings.Join(r.VivaSteps, ", ")
	case "tags":
		return strings.Join(r.Tags, ", ")
	case "domain":
		return r.Domain
	case "flags":
		return strings.Join(r.Flags.Names(), ", ")
	}
	if v, ok := r.Flags.Lookup(name); ok {
		return boolString(v)
	}
	return ""
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
