package prompt

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/haivivi/ecostream/pkg/decision"
)

func intp(n int) *int { return &n }

func TestParseModule(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		body    string
		minInt  *int
		footer  bool
		dedupe  string
		wantErr bool
	}{
		{"plain", "just text", "just text", nil, false, "", false},
		{
			"front matter",
			"---\nminIntensity: 7\ninjectAs: footer\ndedupeKey: Viva\n---\nbody here",
			"body here", intp(7), true, "Viva", false,
		},
		{"crlf", "---\r\nminIntensity: 3\r\n---\r\nbody", "body", intp(3), false, "", false},
		{"empty header", "---\n---\nbody", "body", nil, false, "", false},
		{"unclosed", "---\nminIntensity: 7\nbody", "---\nminIntensity: 7\nbody", nil, false, "", false},
		{"bad yaml", "---\nminIntensity: [\n---\nbody", "", nil, false, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm, body, err := ParseModule([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if body != tt.body {
				t.Errorf("body = %q, want %q", body, tt.body)
			}
			if (fm.MinIntensity == nil) != (tt.minInt == nil) ||
				(fm.MinIntensity != nil && *fm.MinIntensity != *tt.minInt) {
				t.Errorf("MinIntensity = %v, want %v", fm.MinIntensity, tt.minInt)
			}
			if fm.IsFooter() != tt.footer {
				t.Errorf("IsFooter = %v, want %v", fm.IsFooter(), tt.footer)
			}
			if fm.DedupeKey != tt.dedupe {
				t.Errorf("DedupeKey = %q, want %q", fm.DedupeKey, tt.dedupe)
			}
		})
	}
}

func TestGate(t *testing.T) {
	dec := decision.Result{Intensity: 5, Openness: 2}
	dec.Flags.Vergonha = true
	tests := []struct {
		name   string
		fm     FrontMatter
		passes bool
		reason string
	}{
		{"no meta", FrontMatter{}, true, "pass"},
		{"min ok", FrontMatter{MinIntensity: intp(5)}, true, "pass"},
		{"min fail", FrontMatter{MinIntensity: intp(7)}, false, "minIntensity:7"},
		{"max fail", FrontMatter{MaxIntensity: intp(4)}, false, "maxIntensity:4"},
		{"openness fail", FrontMatter{OpennessIn: []int{1, 3}}, false, "opennessIn:1/3"},
		{"openness ok", FrontMatter{OpennessIn: []int{2}}, true, "pass"},
		{"vulnerability", FrontMatter{RequireVulnerability: true}, false, "requireVulnerability"},
		{"flags any ok", FrontMatter{FlagsAny: []string{"crise", "Vergonha"}}, true, "pass"},
		{"flags any fail", FrontMatter{FlagsAny: []string{"crise", "culpa_marcada"}}, false, "flagsAny:crise,culpa_marcada"},
		{
			"several",
			FrontMatter{MinIntensity: intp(8), OpennessIn: []int{3}, RequireVulnerability: true},
			false, "minIntensity:8|opennessIn:3|requireVulnerability",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			passes, reason, _ := tt.fm.Gate(dec)
			if passes != tt.passes || reason != tt.reason {
				t.Errorf("Gate = %v, %q; want %v, %q", passes, reason, tt.passes, tt.reason)
			}
		})
	}
}

func TestInterpolate(t *testing.T) {
	dec := decision.Result{
		Intensity:    8,
		Openness:     2,
		IsVulnerable: true,
		VivaSteps:    []string{"V", "I", "A"},
	}
	tests := []struct {
		in, want string
	}{
		{"Intensidade: {{ DEC.intensity }}", "Intensidade: 8"},
		{"{{DEC.openness}}/{{DEC.isVulnerable}}", "2/true"},
		{"passos: {{ DEC.vivaSteps }}", "passos: V, I, A"},
		{"[{{ DEC.nope }}]", "[]"},
		{"{{ other.intensity }}", "{{ other.intensity }}"},
	}
	for _, tt := range tests {
		if got := Interpolate(tt.in, dec); got != tt.want {
			t.Errorf("Interpolate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestApplyFrontMatterDedupeAndFooters(t *testing.T) {
	dec := decision.Result{Intensity: 8, Openness: 3}
	cands := []Candidate{
		{Name: "footer_a.txt", Text: "fa", Meta: FrontMatter{InjectAs: "footer"}},
		{Name: "a.txt", Text: "a", Meta: FrontMatter{DedupeKey: "X"}},
		{Name: "b.txt", Text: "b", Meta: FrontMatter{DedupeKey: "x"}},
		{Name: "c.txt", Text: "c {{ DEC.intensity }}"},
		{Name: "footer_b.txt", Text: "fb", Meta: FrontMatter{InjectAs: "Footer"}},
		{Name: "gated.txt", Text: "g", Meta: FrontMatter{MaxIntensity: intp(3)}},
	}
	base := []string{"footer_a.txt", "a.txt", "b.txt", "c.txt", "footer_b.txt", "gated.txt"}
	got := ApplyFrontMatter(dec, base, cands)

	want := []string{"a.txt", "c.txt", "footer_a.txt", "footer_b.txt"}
	if !slices.Equal(got.OrderedNames, want) {
		t.Fatalf("OrderedNames = %v, want %v", got.OrderedNames, want)
	}
	if got.Regular[1].Text != "c 8" {
		t.Errorf("interpolated text = %q", got.Regular[1].Text)
	}

	entries := map[string]DebugEntry{}
	for _, e := range got.Debug {
		entries[e.ID] = e
	}
	if e := entries["b.txt"]; e.Source != SourceDedupe || e.Activated || e.Reason != "dedupe:x" {
		t.Errorf("b.txt debug = %+v", e)
	}
	if e := entries["gated.txt"]; e.Activated || e.Reason != "maxIntensity:3" || e.Threshold == nil || *e.Threshold != 3 {
		t.Errorf("gated.txt debug = %+v", e)
	}
	if e := entries["a.txt"]; !e.Activated || e.Reason != "pass" {
		t.Errorf("a.txt debug = %+v", e)
	}
}

func TestApplyFrontMatterOrder(t *testing.T) {
	dec := decision.Result{Intensity: 3, Openness: 1}
	cands := []Candidate{
		{Name: "z.txt", Text: "z"},
		{Name: "first.txt", Text: "f", Meta: FrontMatter{Order: intp(-1)}},
		{Name: "extra_b.txt", Text: "b"},
		{Name: "extra_a.txt", Text: "a"},
		{Name: "y.txt", Text: "y"},
	}
	got := ApplyFrontMatter(dec, []string{"y.txt", "z.txt"}, cands)
	want := []string{"first.txt", "y.txt", "z.txt", "extra_a.txt", "extra_b.txt"}
	if !slices.Equal(got.OrderedNames, want) {
		t.Errorf("OrderedNames = %v, want %v", got.OrderedNames, want)
	}
}

func TestSelectBase(t *testing.T) {
	m := DefaultMatrix()
	tests := []struct {
		name  string
		dec   decision.Result
		names []string
		cut   []string
	}{
		{
			name: "level one",
			dec:  decision.Result{Intensity: 9, Openness: 1},
			names: []string{
				"NV1_CORE.txt", "IDENTIDADE_MINI.txt", "ANTISALDO_MIN.txt", "ESCALA_ABERTURA_1a3.txt",
			},
		},
		{
			name: "level two low intensity",
			dec:  decision.Result{Intensity: 3, Openness: 2},
			names: []string{
				"ESCALA_ABERTURA_1a3.txt",
				"ESCALA_INTENSIDADE_0a10.txt",
				"IDENTIDADE.txt",
				"MODULACAO_TOM_REGISTRO.txt",
				"ENCERRAMENTO_SENSIVEL.txt",
				"eco_heuristica_excesso_confianca.txt",
				"eco_heuristica_ilusao_validade.txt",
				"heuristica_ilusao_compreensao.txt",
			},
			cut: []string{"BLOCO_TECNICO_MEMORIA.txt [min=7]", "METODO_VIVA_ENXUTO.txt [min=7]"},
		},
		{
			name: "level three high intensity",
			dec:  decision.Result{Intensity: 8, Openness: 3},
			names: []string{
				"ESCALA_ABERTURA_1a3.txt",
				"ESCALA_INTENSIDADE_0a10.txt",
				"IDENTIDADE.txt",
				"MODULACAO_TOM_REGISTRO.txt",
				"ENCERRAMENTO_SENSIVEL.txt",
				"METODO_VIVA_ENXUTO.txt",
				"BLOCO_TECNICO_MEMORIA.txt",
				"eco_heuristica_disponibilidade.txt",
				"eco_heuristica_excesso_confianca.txt",
				"eco_heuristica_ilusao_validade.txt",
				"heuristica_ilusao_compreensao.txt",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.SelectBase(tt.dec)
			if !slices.Equal(got.Names, tt.names) {
				t.Errorf("Names = %v\nwant %v", got.Names, tt.names)
			}
			if !slices.Equal(got.Cut, tt.cut) {
				t.Errorf("Cut = %v, want %v", got.Cut, tt.cut)
			}
		})
	}
}

func TestSelectBasePracticalRequestSkipsViva(t *testing.T) {
	dec := decision.Result{Intensity: 8, Openness: 2}
	dec.Flags.PedidoPratico = true
	got := DefaultMatrix().SelectBase(dec)

	var viva *DebugEntry
	for i, e := range got.Debug {
		if e.ID == "METODO_VIVA_ENXUTO.txt" {
			viva = &got.Debug[i]
		}
	}
	if viva == nil || viva.Source != SourceRule {
		t.Fatalf("missing rule debug for VIVA: %+v", viva)
	}
	if slices.Contains(got.Names, "eco_heuristica_disponibilidade.txt") {
		t.Error("practical request should not add heuristics")
	}
}

func TestSelectBaseDeterministic(t *testing.T) {
	m := DefaultMatrix()
	dec := decision.Result{Intensity: 8, Openness: 3}
	a := m.SelectBase(dec)
	for range 20 {
		b := m.SelectBase(dec)
		if !slices.Equal(a.Names, b.Names) || len(a.Debug) != len(b.Debug) {
			t.Fatal("SelectBase is not deterministic")
		}
		for i := range a.Debug {
			if a.Debug[i].ID != b.Debug[i].ID || a.Debug[i].Activated != b.Debug[i].Activated {
				t.Fatalf("debug[%d] differs: %+v vs %+v", i, a.Debug[i], b.Debug[i])
			}
		}
	}
}

func TestInvalidConditionNeverFires(t *testing.T) {
	m := NewMatrix(Matrix{
		ByLevel: map[int]LevelSpec{2: {Specific: []string{"a.txt"}}},
		Conditions: map[string]Condition{
			"broken.txt": {Rule: "intensidade >= "},
			"ok.txt":     {Rule: "nivel>=2"},
		},
	})
	got := m.SelectBase(decision.Result{Intensity: 9, Openness: 2})
	if !slices.Equal(got.Names, []string{"a.txt", "ok.txt"}) {
		t.Errorf("Names = %v", got.Names)
	}
}

func TestInferIntentModules(t *testing.T) {
	tests := []struct {
		in    string
		first string
	}{
		{"quero revisitar aquele momento", "eco_memoria_revisitar_passado.txt"},
		{"🔄", "eco_memoria_revisitar_passado.txt"},
		{"acho que tenho um viés nisso", "eco_heuristica_ancoragem.txt"},
		{"um reflexo estoico, por favor", "eco_presenca_racional.txt"},
		{"quero ter coragem de me expor", "eco_vulnerabilidade_defesas.txt"},
		{"bom dia", ""},
	}
	for _, tt := range tests {
		got := InferIntentModules(tt.in)
		first := ""
		if len(got) > 0 {
			first = got[0]
		}
		if first != tt.first {
			t.Errorf("InferIntentModules(%q) = %v, want first %q", tt.in, got, tt.first)
		}
	}
}

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"developer_prompt.txt":        {Data: []byte("DEV")},
		"nv1/NV1_CORE.txt":            {Data: []byte("NV1 intensidade={{ DEC.intensity }}")},
		"nv1/IDENTIDADE_MINI.txt":     {Data: []byte("---\ndedupeKey: identidade\n---\nMINI")},
		"ESCALA_ABERTURA_1a3.txt":     {Data: []byte("---\nopennessIn: [2, 3]\n---\nESCALA")},
		"sistema_identidade.txt":      {Data: []byte("---\ndedupeKey: IDENTIDADE\n---\nSISTEMA")},
		"formato_resposta.txt":        {Data: []byte("FORMATO")},
		"MEMORIA_COSTURA_REGRAS.txt":  {Data: []byte("COSTURA")},
		"SINTETIZADOR_PADRAO.txt":     {Data: []byte("---\ninjectAs: footer\norder: 1\n---\nSINTESE")},
		"eco_corpo_emocao.txt":        {Data: []byte("CORPO")},
		"eco_observador_presente.txt": {Data: []byte("   ")},
	}
}

func TestSelectorSelect(t *testing.T) {
	ctx := context.Background()
	sel := NewSelector(NewFSCatalog(testFS(), CatalogOptions{}), nil)

	dec := decision.Decide("oi")
	dec = dec.WithFlags(dec.Flags.WithMemories(true))

	got, err := sel.Select(ctx, "oi", dec)
	if err != nil {
		t.Fatal(err)
	}
	wantNames := []string{
		"developer_prompt.txt",
		"NV1_CORE.txt",
		"IDENTIDADE_MINI.txt",
		"formato_resposta.txt",
		"MEMORIA_COSTURA_REGRAS.txt",
	}
	if !slices.Equal(got.OrderedNames, wantNames) {
		t.Fatalf("OrderedNames = %v\nwant %v", got.OrderedNames, wantNames)
	}
	prompt := got.Prompt()
	if !strings.HasPrefix(prompt, "DEV\n\nNV1 intensidade=3") {
		t.Errorf("Prompt = %q", prompt)
	}
	if !strings.HasSuffix(prompt, "COSTURA") {
		t.Errorf("footer should close the prompt: %q", prompt)
	}

	again, err := sel.Select(ctx, "oi", dec)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hash() != again.Hash() {
		t.Error("selection hash should be stable")
	}
}

func TestSelectorIntentAndEmptyModules(t *testing.T) {
	sel := NewSelector(NewFSCatalog(testFS(), CatalogOptions{}), nil)
	dec := decision.Decide("quero revisitar uma lembrança")
	got, err := sel.Select(context.Background(), "quero revisitar uma lembrança", dec)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(got.OrderedNames, "eco_corpo_emocao.txt") {
		t.Errorf("intent module missing: %v", got.OrderedNames)
	}
	if slices.Contains(got.OrderedNames, "eco_observador_presente.txt") {
		t.Error("blank module should be skipped")
	}
	var intentDebug int
	for _, e := range got.Debug {
		if e.Source == SourceIntent {
			intentDebug++
		}
	}
	if intentDebug != 3 {
		t.Errorf("intent debug entries = %d, want 3", intentDebug)
	}
}

func TestFSCatalogStrict(t *testing.T) {
	c := NewFSCatalog(testFS(), CatalogOptions{Strict: true})
	_, err := c.Load(context.Background(), []string{"developer_prompt.txt", "missing.txt"})
	if !errors.Is(err, ErrModuleNotFound) {
		t.Fatalf("err = %v, want ErrModuleNotFound", err)
	}

	lax := NewFSCatalog(testFS(), CatalogOptions{})
	got, err := lax.Load(context.Background(), []string{"missing.txt", "formato_resposta", "developer_prompt.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "formato_resposta" || got[1].Name != "developer_prompt.txt" {
		t.Errorf("Load = %+v", got)
	}
	if got[0].Tokens != EstimateTokens("FORMATO") {
		t.Errorf("Tokens = %d", got[0].Tokens)
	}
}
