package decision

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Detector is one data-driven signal. Label names the flag (or emotion
// family, or domain) it sets. Pattern is matched against normalized text.
// Weight is the intensity contribution; it is zero for pure flags.
type Detector struct {
	Label   string
	Pattern string
	Weight  int
}

type compiled struct {
	label  string
	weight int
	re     *regexp.Regexp
}

// match never panics; any failure counts as no match.
func (c compiled) match(s string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("decision: detector failed", "label", c.label, "panic", r)
			ok = false
		}
	}()
	return c.re.MatchString(s)
}

func compileAll(ds []Detector) []compiled {
	out := make([]compiled, 0, len(ds))
	for _, d := range ds {
		re, err := regexp.Compile(d.Pattern)
		if err != nil {
			slog.Warn("decision: detector disabled", "label", d.Label, "err", err)
			continue
		}
		out = append(out, compiled{label: d.Label, weight: d.Weight, re: re})
	}
	return out
}

// Normalize lowercases text, strips combining accents and collapses
// whitespace.
func Normalize(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	s := strings.ToLower(text)
	if out, _, err := transform.String(t, s); err == nil {
		s = out
	}
	return strings.Join(strings.Fields(s), " ")
}

// FlagDetectors sets the conversational flags. Patterns run on Normalize
// output, so they are written without accents.
var FlagDetectors = []Detector{
	{Label: "curiosidade", Pattern: `\b(como|por que|porque|pra que|para que|e se|poderia|podes|pode)\b|\?$`},
	{Label: "pedido_pratico", Pattern: `\b(passos?|tutorial|guia|checklist|lista|exemplo|modelo|template|o que faco|o que fazer|me ajuda)\b`},
	{Label: "duvida_classificacao", Pattern: `\b(nivel|abertura|intensidade|classificacao|classificar)\b`},
	{Label: "saudacao", Pattern: `\b(oi+|oie+|ola+|alo+|opa+|salve|bom dia|boa tarde|boa noite|boa madrugada)\b`},
	{Label: "factual", Pattern: `\b(que dia|que data|horario|endereco|onde fica|preco|valor|numero|cpf|rg|link|url|site|telefone|contato|confirmar|confirmacao|agenda|quando|que horas)\b`},
	{Label: "cansaco", Pattern: `\b(cansad[ao]|sem energia|esgotad[ao]|exaust[ao]|acabad[ao]|saturad[ao])\b`},
	{Label: "desabafo", Pattern: `\b(so desabafando|queria desabafar|so queria falar|nao precisa responder|nao quero conselho|nao preciso de intervencao)\b`},
	{Label: "urgencia", Pattern: `\b(preciso resolver ja|nao sei mais o que fazer|socorro|urgente|agora|pra ontem)\b`},
	{Label: "emocao_alta_linguagem", Pattern: `\b(nao aguento|no limite|explodindo|desesperad[oa]|muito ansios[oa]|panico|crise|tremend[oa])\b`},
	{Label: "ideacao", Pattern: `suicid|me matar|tirar minha vida|acabar com tudo`},
	{Label: "desespero", Pattern: `desesper|sem saida|no limite`},
	{Label: "vazio", Pattern: `\bvazio\b|\bsem sentido\b|\bnada faz sentido\b`},
	{Label: "autodesvalorizacao", Pattern: `\b(nao presto|nao valho|sou um lixo|sou horrivel)\b`},
	{Label: "vergonha", Pattern: `\b(vergonha|humilhacao|me escondo|me esconder)\b`},
	{Label: "vulnerabilidade", Pattern: `\b(vulneravel|abrir meu coracao|medo de me abrir)\b`},
	{Label: "defesas_ativas", Pattern: `\b(racionalizo|racionalizando|minimizo|minimizando|faco piada|mudo de assunto|fugir do tema)\b`},
	{Label: "combate", Pattern: `\b(brigar|bater de frente|comprar briga|contra-ataco|contra ataco|contra-atacar)\b`},
	{Label: "evitamento", Pattern: `\b(evito|evitando|fujo|fugindo|adio|procrastino|adiar|adiando|adiamento)\b`},
	{Label: "autocritica", Pattern: `\b(sou um lixo|sou horrivel|me detesto|sou frac[oa]|falhei|fracassei)\b`},
	{Label: "culpa_marcada", Pattern: `\b(culpa|culpada|culpado|me sinto culp[oa])\b`},
	{Label: "catastrofizacao", Pattern: `\b(catastrof\w*|vai dar tudo errado|nunca vai melhorar|tudo acaba|sempre ruim|nada funciona)\b`},
}

// EmotionDetectors are the primary emotion families. Any match adds the
// family weight once (the maximum weight among matches).
var EmotionDetectors = []Detector{
	{Label: "tristeza", Pattern: `triste(za)?|tristonho|melancol`, Weight: 5},
	{Label: "depressao", Pattern: `depressa|depressivo|deprimid`, Weight: 5},
	{Label: "ansiedade", Pattern: `ansiedade?|ansios|angustia`, Weight: 5},
	{Label: "medo", Pattern: `medo|assustad|apavorad`, Weight: 5},
	{Label: "raiva", Pattern: `raiva|raivos|furios|irritad|revoltad`, Weight: 5},
	{Label: "frustracao", Pattern: `frustracao|frustrad`, Weight: 5},
	{Label: "culpa", Pattern: `culpa|culpad|remorso`, Weight: 5},
	{Label: "vergonha", Pattern: `vergonha|envergonhad|humilhad`, Weight: 5},
	{Label: "solidao", Pattern: `solidao|sozinh|isolad`, Weight: 5},
	{Label: "desespero", Pattern: `desesper`, Weight: 5},
}

// AmplifierDetectors each add their weight; the total is capped at 2.
var AmplifierDetectors = []Detector{
	{Label: "muito", Pattern: `muito\s+(triste|angustia|assusta|furioso|frustrado|vazio|sozinho|deprimido)`, Weight: 1},
	{Label: "demais", Pattern: `demais|d+emais`, Weight: 1},
	{Label: "peso", Pattern: `pesada|profunda|intensa|avassaladora`, Weight: 1},
	{Label: "limite", Pattern: `nao\s+aguento|nao\s+consigo|insupor(t|tavel)`, Weight: 1},
	{Label: "tudo", Pattern: `tudo\s+(esta|e)\s+(errado|ruim|pessimo|horrivel|impossivel|vazio)`, Weight: 1},
}

// ContextDetectors add their weight only when a primary emotion matched.
var ContextDetectors = []Detector{
	{Label: "trabalho", Pattern: `trabalho|carreira|emprego|chefe|colega`, Weight: 1},
	{Label: "relacionamentos", Pattern: `relacionamento|namorad|parceir|casamento|familia`, Weight: 1},
}

// IntenseTriggers mark a message as intense when no emotion family matched.
var IntenseTriggers = []Detector{
	{Label: "panico", Pattern: `panico|crise|desesper|insuport|vontade de sumir|explod`},
	{Label: "corpo", Pattern: `taquicard|batimentos|ansiedad|angust`},
	{Label: "muito", Pattern: `muito\s+(triste|ansioso|assustado|furioso|frustrado|vazio|sozinho|perdido|confuso)`},
	{Label: "tristeza", Pattern: `tristezas?\s+(pesada|profunda|intensa|avassaladora)`},
	{Label: "me_sinto", Pattern: `me sinto\s+(terrivel|horrivel|pior|muito mal|tao mal|mal demais|pessimo)`},
	{Label: "estou", Pattern: `estou\s+(muito\s+)?(triste|angustiado|desesperado|devastado|arrasado|arruinado|destruido)`},
	{Label: "nao_aguento", Pattern: `nao (aguento|consigo|resisto|funciono|gosto|confio|merec)`},
	{Label: "tudo", Pattern: `tudo (esta|e)\s+(errado|ruim|pessimo|horrivel|impossivel|vazio)`},
	{Label: "sinto", Pattern: `sinto\s+(muito\s+)?(fraco|impotente|inadequado|fracasso|incapaz|inutil|insignificante)`},
	{Label: "meu", Pattern: `me(u|a)?\s+(culpa|medo|vergonha|vazio|vacuo|escuridao)`},
	{Label: "trabalho", Pattern: `trabalho.{0,50}(triste|angustia|frustra|estressa|preocupa|infeliz|mal)`},
	{Label: "relacionamento", Pattern: `relacionamento.{0,50}(acabou|terminou|toxic|machuca|doi|sofr)`},
	{Label: "pontuacao", Pattern: `!{2,}|\?{2,}`},
	{Label: "demais", Pattern: `(muito|demais|d+emais)\s+(\w+\s+){0,2}(mal|ruim|horrivel|pessimo|pior)`},
}

// VulnerabilityDetectors are lexical vulnerability cues.
var VulnerabilityDetectors = []Detector{
	{Label: "sinto_vulneravel", Pattern: `me (sinto|senti) vulneravel`},
	{Label: "abrir_coracao", Pattern: `abrir meu? coracao`},
	{Label: "dificil_falar", Pattern: `dificil de falar`},
	{Label: "vergonha", Pattern: `vergonha`},
	{Label: "julgamento", Pattern: `medo de julgamento`},
	{Label: "exposto", Pattern: `expost[oa]`},
	{Label: "como_sou", Pattern: `me mostrar como sou`},
	{Label: "fraqueza", Pattern: `mostrar fraqueza|medo de parecer fraco`},
	{Label: "me_abrir", Pattern: `me abrir`},
}

// DomainDetectors tag the life domain. The first match wins.
var DomainDetectors = []Detector{
	{Label: "trabalho", Pattern: `\b(trabalho|carreira|emprego|chefe|colega|empresa)\b`},
	{Label: "relacionamentos", Pattern: `\b(relacionamento|namorad[oa]|parceir[oa]|casamento|marido|esposa|ex)\b`},
	{Label: "familia", Pattern: `\b(familia|mae|pai|irma|irmao|filh[oa]s?)\b`},
	{Label: "saude", Pattern: `\b(saude|doenca|medico|hospital|dor|insonia)\b`},
	{Label: "financas", Pattern: `\b(dinheiro|divida|dividas|salario|contas|financeir[oa])\b`},
}

var (
	greetingRe = regexp.MustCompile(`(?i)\b(oi|olá|ola|hey|e?a[iy]|bom dia|boa tarde|boa noite)\b`)
	lightRe    = regexp.MustCompile(`(?i)^[\w\sáéíóúâêôãõç!?.,…-]{0,40}$`)
	exclaimRe  = regexp.MustCompile(`!{2,}`)
	ellipsisRe = regexp.MustCompile(`\.\.\.|…`)
)
