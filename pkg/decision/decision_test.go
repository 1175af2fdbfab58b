package decision

import (
	"slices"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  Olá,   Mundo  ", "ola, mundo"},
		{"Não AGUENTO\n\tmais", "nao aguento mais"},
		{"coração ação", "coracao acao"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsShortGreeting(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"   ", true},
		{"oi", true},
		{"bom dia!", true},
		{"olá", true},
		{"tudo bem por aí?", true},
		{"hoje eu acordei pensando em muitas coisas que aconteceram ontem", false},
	}
	for _, tt := range tests {
		if got := IsShortGreeting(tt.in); got != tt.want {
			t.Errorf("IsShortGreeting(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestOpenness(t *testing.T) {
	medium := strings.Repeat("palavra ", 20) // 160 runes
	long := strings.Repeat("palavra ", 45)   // 360 runes
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"greeting", "oi", 1},
		{"short", "hoje eu acordei pensando em muitas coisas que aconteceram", 1},
		{"medium", medium, 2},
		{"long", long, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Openness(tt.in); got != tt.want {
				t.Errorf("Openness = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIntensity(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"blank", "   ", 0},
		{"neutral", "oi", 3},
		{"sad work", "estou muito triste com o meu trabalho...", 8},
		{"intense without family", "entrei em pânico ontem", 7},
		{"amplifier only", "não aguento mais isso", 1},
		{"plain sadness", "me sinto triste", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Intensity(tt.in); got != tt.want {
				t.Errorf("Intensity(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestIntensityBounds(t *testing.T) {
	inputs := []string{
		"",
		"!!!!!!!!!!",
		"...",
		strings.Repeat("triste demais, muito triste, não aguento, tudo está errado!!! ... ", 20),
		strings.Repeat("a", 5000),
		"😀😀😀",
		"raiva medo culpa vergonha solidão desespero ansiedade no trabalho e no casamento!!!...",
	}
	for _, in := range inputs {
		res := Decide(in)
		if res.Intensity < 0 || res.Intensity > MaxIntensity {
			t.Errorf("Intensity(%q) = %d out of range", in, res.Intensity)
		}
		if res.Openness < 1 || res.Openness > 3 {
			t.Errorf("Openness(%q) = %d out of range", in, res.Openness)
		}
	}
}

func TestDecideDeterministic(t *testing.T) {
	in := "tenho vergonha de me abrir, me sinto culpado pelo que aconteceu no trabalho..."
	a := Decide(in)
	b := Decide(in)
	if a.Intensity != b.Intensity || a.Openness != b.Openness || !slices.Equal(a.Flags.Names(), b.Flags.Names()) {
		t.Fatalf("Decide not deterministic: %+v vs %+v", a, b)
	}
}

func TestDecideMemoryAndTechBlock(t *testing.T) {
	res := Decide("estou muito triste com o meu trabalho...")
	if !res.SaveMemory {
		t.Error("SaveMemory should be true at intensity >= 7")
	}
	if !res.HasTechBlock {
		t.Error("HasTechBlock should follow SaveMemory by default")
	}
	if res.Domain != "trabalho" {
		t.Errorf("Domain = %q, want trabalho", res.Domain)
	}
	if !slices.Equal(res.Tags, []string{"tristeza"}) {
		t.Errorf("Tags = %v, want [tristeza]", res.Tags)
	}

	res = Decide("oi", WithTechBlock(true))
	if !res.HasTechBlock {
		t.Error("WithTechBlock(true) should force HasTechBlock")
	}
	if res.SaveMemory {
		t.Error("SaveMemory should be false for a greeting")
	}
}

func TestCrisisIndependentOfIntensity(t *testing.T) {
	res := Decide("nao vejo jeito, quero acabar com tudo")
	if !res.Flags.Crise || !res.Flags.Ideacao {
		t.Fatalf("expected crise and ideacao, got %v", res.Flags.Names())
	}
	if res.Intensity != 3 {
		t.Errorf("Intensity = %d, want 3", res.Intensity)
	}
	if !res.IsVulnerable {
		t.Error("crisis should mark the message as vulnerable")
	}
}

func TestVivaSteps(t *testing.T) {
	tests := []struct {
		openness int
		want     []string
	}{
		{1, []string{"V", "A"}},
		{2, []string{"V", "I", "A"}},
		{3, []string{"V", "I", "V", "A", "Pausa"}},
	}
	for _, tt := range tests {
		if got := VivaSteps(tt.openness); !slices.Equal(got, tt.want) {
			t.Errorf("VivaSteps(%d) = %v, want %v", tt.openness, got, tt.want)
		}
	}
}

func TestFlagsLookupAndAliases(t *testing.T) {
	f := DetectFlags("tenho muita vergonha e evito falar disso", Priors{Ancoragem: true})
	for _, name := range []string{"vergonha", "shame", "evitamento", "avoidance", "ancoragem"} {
		v, ok := f.Lookup(name)
		if !ok || !v {
			t.Errorf("Lookup(%q) = %v, %v; want true, true", name, v, ok)
		}
	}
	if _, ok := f.Lookup("not_a_flag"); ok {
		t.Error("Lookup of unknown flag should report ok=false")
	}
	if !IsFlagName("guilt") || IsFlagName("intensidade") {
		t.Error("IsFlagName mismatch")
	}
}

func TestLateBoundFlagsCopy(t *testing.T) {
	res := Decide("oi")
	enriched := res.WithFlags(res.Flags.WithMemories(true).WithPatternSynthesis(true))
	if res.Flags.UseMemories || res.Flags.PatternSynthesis {
		t.Fatal("original result must not be mutated")
	}
	if !enriched.Bool("useMemories") || !enriched.Bool("patternSynthesis") {
		t.Error("enriched copy should expose late-bound flags")
	}
}

func TestInvalidDetectorDisabled(t *testing.T) {
	e := NewEngine(Detectors{
		Flags: []Detector{
			{Label: "vergonha", Pattern: `(unclosed`},
			{Label: "combate", Pattern: `brigar`},
		},
	})
	f := e.DetectFlags("quero brigar com vergonha", Priors{})
	if f.Vergonha {
		t.Error("invalid detector should never match")
	}
	if !f.Combate {
		t.Error("valid detector should still match")
	}
}

func TestResultField(t *testing.T) {
	res := Decide("estou muito triste com o meu trabalho...")
	tests := []struct {
		field string
		want  string
	}{
		{"intensity", "8"},
		{"openness", "1"},
		{"hasTechBlock", "true"},
		{"vivaSteps", "V, A"},
		{"tags", "tristeza"},
		{"domain", "trabalho"},
		{"unknown", ""},
	}
	for _, tt := range tests {
		if got := res.Field(tt.field); got != tt.want {
			t.Errorf("Field(%q) = %q, want %q", tt.field, got, tt.want)
		}
	}
}

func TestResultSnapshot(t *testing.T) {
	res := Decide("estou muito triste com o meu trabalho...")
	res = res.WithFlags(res.Flags.WithMemories(true))
	snap := res.Snapshot()
	if snap["intensity"] != res.Intensity || snap["hasTechBlock"] != true {
		t.Errorf("snapshot = %v", snap)
	}
	if snap["useMemories"] != true || snap["patternSynthesis"] != false {
		t.Errorf("late-bound flags = %v, %v", snap["useMemories"], snap["patternSynthesis"])
	}
	if snap["domain"] != "trabalho" {
		t.Errorf("domain = %v", snap["domain"])
	}
	if _, ok := snap["vergonha"]; !ok {
		t.Error("flags missing from snapshot")
	}
}
