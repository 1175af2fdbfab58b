package finalize

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
)

// DefaultReply replaces an empty model reply.
const DefaultReply = "Desculpa, não consegui responder agora. Pode tentar de novo?"

// Mode selects how much of the finalization happens before returning.
type Mode string

// Finalization modes. Fast returns without waiting for the technical block.
const (
	ModeFast Mode = "fast"
	ModeFull Mode = "full"
)

// Normalized is a model reply after text cleanup.
type Normalized struct {
	// Base is the reply without artifacts, formatted into paragraphs.
	Base string
	// IdentityCleaned is Base without the identity correction line.
	IdentityCleaned string
	// Cleaned is the text delivered to the user.
	Cleaned string
	// BlockTarget is the text the technical block is extracted from.
	BlockTarget string
}

// Normalize cleans a raw model reply.
func Normalize(raw, userName string, hasAssistantBefore bool, mode Mode) Normalized {
	if strings.TrimSpace(raw) == "" {
		raw = DefaultReply
	}
	base := Format(Clean(raw))
	identity := StripIdentityCorrection(base, FirstName(userName))
	cleaned := StripRedundantGreeting(identity, hasAssistantBefore)
	target := cleaned
	if mode == ModeFast {
		target = identity
	}
	return Normalized{Base: base, IdentityCleaned: identity, Cleaned: cleaned, BlockTarget: target}
}

var (
	jsonFenceRe    = regexp.MustCompile("(?is)```json.*?```")
	fenceRe        = regexp.MustCompile("(?s)```.*?```")
	htmlTagRe      = regexp.MustCompile(`<[^>]*>`)
	delimiterRe    = regexp.MustCompile(`###.*?###`)
	blankLinesRe   = regexp.MustCompile(`\n{3,}`)
	inlineObjectRe = regexp.MustCompile(`\{[^{}]*\}`)
)

// blockHintKeys are the keys that mark an inline JSON object as a leaked
// technical block.
var blockHintKeys = map[string]bool{
	"intensidade":           true,
	"analise_resumo":        true,
	"resumo":                true,
	"emocao_principal":      true,
	"categoria":             true,
	"tags":                  true,
	"dominio_vida":          true,
	"padrao_comportamental": true,
	"nivel_abertura":        true,
}

// Clean removes code fences, HTML tags, ### delimiters and leaked
// technical-block JSON from a reply.
func Clean(t string) string {
	t = jsonFenceRe.ReplaceAllString(t, "")
	t = fenceRe.ReplaceAllString(t, "")
	t = htmlTagRe.ReplaceAllString(t, "")
	t = delimiterRe.ReplaceAllString(t, "")
	t = strings.ReplaceAll(t, "\r\n", "\n")
	t = blankLinesRe.ReplaceAllString(t, "\n\n")
	return strings.TrimSpace(removeBlockJSON(strings.TrimSpace(t)))
}

// removeBlockJSON drops inline JSON objects that carry at least two
// technical-block keys.
func removeBlockJSON(t string) string {
	return inlineObjectRe.ReplaceAllStringFunc(t, func(obj string) string {
		var m map[string]any
		if err := json.Unmarshal([]byte(obj), &m); err != nil {
			return obj
		}
		hits := 0
		for k := range m {
			if blockHintKeys[k] {
				hits++
			}
		}
		if hits >= 2 {
			return ""
		}
		return obj
	})
}

// Format lays a reply out as paragraphs separated by one blank line.
// Lines starting with "- " become "— " bullets.
func Format(t string) string {
	var paras []string
	for line := range strings.SplitSeq(t, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "- "); ok {
			line = "— " + strings.TrimLeftFunc(rest, unicode.IsSpace)
		}
		paras = append(paras, line)
	}
	return strings.Join(paras, "\n\n")
}

// FirstName returns the first word of name.
func FirstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// StripIdentityCorrection removes the first line where the assistant
// corrects the user about who it is ("sou a Eco, não <nome>").
func StripIdentityCorrection(text, name string) string {
	if name == "" {
		return text
	}
	suffix := `(?:[^\w\n]|$)`
	if last := name[len(name)-1]; last == '_' || last < 0x80 && (unicode.IsLetter(rune(last)) || unicode.IsDigit(rune(last))) {
		suffix = `\b`
	}
	re, err := regexp.Compile(`(?im)(?:^|\n)[^\n]*?(?:eu\s*)?sou\s*a?\s*eco[^.\n]*não\s+o?a?\s*` + regexp.QuoteMeta(name) + suffix + `[^\n]*`)
	if err != nil {
		return text
	}
	loc := re.FindStringIndex(text)
	if loc == nil {
		return text
	}
	return strings.TrimSpace(blankLinesRe.ReplaceAllString(text[:loc[0]]+text[loc[1]:], "\n\n"))
}

var greetingRe = regexp.MustCompile(`(?i)^\s*(?:oi|olá|ola|bom dia|boa tarde|boa noite)[,!.\-–—\s]+`)

// StripRedundantGreeting removes an opening greeting when the assistant
// has already spoken in the conversation. A reply that is only a greeting
// is kept.
func StripRedundantGreeting(text string, hasAssistantBefore bool) string {
	if !hasAssistantBefore {
		return text
	}
	out := strings.TrimSpace(greetingRe.ReplaceAllString(text, ""))
	if out == "" {
		return text
	}
	return out
}
