package prompt

import (
	"regexp"
	"strings"
)

type intent struct {
	text    *regexp.Regexp
	emoji   []string
	modules []string
}

// intents are checked in order; the first match wins.
var intents = []intent{
	{
		text:  regexp.MustCompile(`revisitar|momento marcante|emo[cç]?[aã]o forte do passado|lembran[çc]a`),
		emoji: []string{"🔄", "🌊"},
		modules: []string{
			"eco_memoria_revisitar_passado.txt",
			"eco_observador_presente.txt",
			"eco_corpo_emocao.txt",
		},
	},
	{
		text:  regexp.MustCompile(`vi[eé]s|vieses|atalho mental|me enganando|heur[ií]stic`),
		emoji: []string{"🧩"},
		modules: []string{
			"eco_heuristica_ancoragem.txt",
			"eco_heuristica_disponibilidade.txt",
			"eco_heuristica_excesso_confianca.txt",
			"eco_heuristica_regressao_media.txt",
			"eco_heuristica_ilusao_validade.txt",
		},
	},
	{
		text:  regexp.MustCompile(`reflexo estoico|estoic|sob meu controle|no seu controle`),
		emoji: []string{"🪞", "🏛️"},
		modules: []string{
			"eco_presenca_racional.txt",
			"eco_identificacao_mente.txt",
			"eco_fim_do_sofrimento.txt",
		},
	},
	{
		text:  regexp.MustCompile(`coragem.*expor|me expor mais|vulnerabil`),
		emoji: []string{"💬"},
		modules: []string{
			"eco_vulnerabilidade_defesas.txt",
			"eco_vulnerabilidade_mitos.txt",
			"eco_emo_vergonha_combate.txt",
		},
	},
}

// InferIntentModules returns the modules for an explicit user intent:
// revisiting a memory, checking a bias, a stoic reflection or courage to
// open up. Text without a recognizable intent yields nil.
func InferIntentModules(text string) []string {
	lower := strings.ToLower(text)
	for _, in := range intents {
		if in.text.MatchString(lower) || containsAny(text, in.emoji) {
			out := make([]string, len(in.modules))
			copy(out, in.modules)
			return out
		}
	}
	return nil
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
