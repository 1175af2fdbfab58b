package decision

import (
	"strings"
	"unicode/utf8"
)

const (
	// MaxIntensity is the upper bound of the intensity scale.
	MaxIntensity = 10

	// MemoryThreshold is the intensity from which a turn is worth saving.
	MemoryThreshold = 7

	intenseLength = 180
	maxAmplifiers = 2
)

// lengthSteps are the message lengths (in runes) that each add one point.
var lengthSteps = []int{100, 200, 400}

// IsShortGreeting reports whether text is an empty, short greeting or a
// short, light message.
func IsShortGreeting(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return true
	}
	short := utf8.RuneCountInString(t) <= 18 || len(strings.Fields(t)) <= 3
	if !short {
		return false
	}
	return greetingRe.MatchString(t) || lightRe.MatchString(t)
}

// Openness maps a message onto the 1-3 conversation depth scale.
func Openness(text string) int {
	if IsShortGreeting(text) {
		return 1
	}
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	switch {
	case n < 120:
		return 1
	case n < 300:
		return 2
	default:
		return 3
	}
}

// Intensity scores the emotional charge of text on [0, 10].
func Intensity(text string) int {
	return defaultEngine.intensity(text, Normalize(text)).score
}

type intensityResult struct {
	score    int
	families []string
	signals  []string
}

func (e *Engine) intensity(raw, norm string) intensityResult {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return intensityResult{}
	}
	var res intensityResult
	score := 0

	primary := 0
	for _, d := range e.emotions {
		if d.match(norm) {
			res.families = append(res.families, d.label)
			primary = max(primary, d.weight)
		}
	}
	if primary > 0 {
		score += primary
		res.signals = append(res.signals, "emotion:"+strings.Join(res.families, ","))
	}

	amp := 0
	for _, d := range e.amplifiers {
		if d.match(norm) {
			amp += d.weight
			res.signals = append(res.signals, "amplifier:"+d.label)
		}
	}
	score += min(amp, maxAmplifiers)

	n := utf8.RuneCountInString(trimmed)
	for _, step := range lengthSteps {
		if n >= step {
			score++
		}
	}

	if exclaimRe.MatchString(norm) {
		score++
		res.signals = append(res.signals, "punctuation:exclaim")
	}
	if ellipsisRe.MatchString(norm) {
		score++
		res.signals = append(res.signals, "punctuation:ellipsis")
	}

	if primary > 0 {
		for _, d := range e.contexts {
			if d.match(norm) {
				score += d.weight
				res.signals = append(res.signals, "context:"+d.label)
			}
		}
	}

	if score == 0 {
		if e.isIntense(norm, n) {
			score = MemoryThreshold
			res.signals = append(res.signals, "baseline:intense")
		} else {
			score = 3
			res.signals = append(res.signals, "baseline:neutral")
		}
	}

	res.score = clamp(score, 0, MaxIntensity)
	return res
}

func (e *Engine) isIntense(norm string, runeLen int) bool {
	if runeLen >= intenseLength {
		return true
	}
	for _, d := range e.intense {
		if d.match(norm) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
