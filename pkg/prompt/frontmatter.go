package prompt

import (
	"bytes"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/ecostream/pkg/decision"
)

// FrontMatter is the optional YAML header of a module file.
type FrontMatter struct {
	MinIntensity         *int     `yaml:"minIntensity,omitempty" json:"minIntensity,omitempty" msgpack:"minIntensity,omitempty"`
	MaxIntensity         *int     `yaml:"maxIntensity,omitempty" json:"maxIntensity,omitempty" msgpack:"maxIntensity,omitempty"`
	OpennessIn           []int    `yaml:"opennessIn,omitempty" json:"opennessIn,omitempty" msgpack:"opennessIn,omitempty"`
	RequireVulnerability bool     `yaml:"requireVulnerability,omitempty" json:"requireVulnerability,omitempty" msgpack:"requireVulnerability,omitempty"`
	FlagsAny             []string `yaml:"flagsAny,omitempty" json:"flagsAny,omitempty" msgpack:"flagsAny,omitempty"`
	DedupeKey            string   `yaml:"dedupeKey,omitempty" json:"dedupeKey,omitempty" msgpack:"dedupeKey,omitempty"`
	InjectAs             string   `yaml:"injectAs,omitempty" json:"injectAs,omitempty" msgpack:"injectAs,omitempty"`
	Order                *int     `yaml:"order,omitempty" json:"order,omitempty" msgpack:"order,omitempty"`
}

// IsFooter reports whether the module is injected after regular modules.
func (fm FrontMatter) IsFooter() bool {
	return strings.EqualFold(strings.TrimSpace(fm.InjectAs), "footer")
}

var fmDelim = []byte("---")

// ParseModule splits a module file into front matter and body. Files that
// do not start with a "---" line, or never close it, have no front matter.
func ParseModule(data []byte) (FrontMatter, string, error) {
	var fm FrontMatter
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	first, rest, ok := cutLine(data)
	if !ok || !bytes.Equal(bytes.TrimSpace(first), fmDelim) {
		return fm, string(data), nil
	}
	var header []byte
	for len(rest) > 0 {
		line, next, _ := cutLine(rest)
		if bytes.Equal(bytes.TrimSpace(line), fmDelim) {
			if len(bytes.TrimSpace(header)) > 0 {
				if err := yaml.Unmarshal(header, &fm); err != nil {
					return FrontMatter{}, "", fmt.Errorf("prompt: parse front matter: %w", err)
				}
			}
			return fm, strings.TrimLeft(string(next), "\r\n"), nil
		}
		header = append(header, line...)
		header = append(header, '\n')
		rest = next
	}
	return fm, string(data), nil
}

func cutLine(b []byte) (line, rest []byte, found bool) {
	line, rest, found = bytes.Cut(b, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r")), rest, found
}

// Gate checks the front matter against dec. The reason is "pass" or the
// failed checks joined by "|". The threshold is the intensity bound that
// failed, if any.
func (fm FrontMatter) Gate(dec decision.Result) (passes bool, reason string, threshold *int) {
	var reasons []string
	if fm.MinIntensity != nil && dec.Intensity < *fm.MinIntensity {
		reasons = append(reasons, "minIntensity:"+strconv.Itoa(*fm.MinIntensity))
		threshold = fm.MinIntensity
	}
	if fm.MaxIntensity != nil && dec.Intensity > *fm.MaxIntensity {
		reasons = append(reasons, "maxIntensity:"+strconv.Itoa(*fm.MaxIntensity))
		threshold = fm.MaxIntensity
	}
	if len(fm.OpennessIn) > 0 && !slices.Contains(fm.OpennessIn, dec.Openness) {
		parts := make([]string, len(fm.OpennessIn))
		for i, n := range fm.OpennessIn {
			parts[i] = strconv.Itoa(n)
		}
		reasons = append(reasons, "opennessIn:"+strings.Join(parts, "/"))
	}
	if fm.RequireVulnerability && !dec.IsVulnerable {
		reasons = append(reasons, "requireVulnerability")
	}
	if len(fm.FlagsAny) > 0 && !anyFlag(dec, fm.FlagsAny) {
		reasons = append(reasons, "flagsAny:"+strings.Join(fm.FlagsAny, ","))
	}
	if len(reasons) == 0 {
		return true, "pass", nil
	}
	return false, strings.Join(reasons, "|"), threshold
}

func anyFlag(dec decision.Result, names []string) bool {
	for _, name := range names {
		key := strings.TrimSpace(name)
		if key == "" {
			continue
		}
		if key == "vulneravel" {
			key = "vulnerable"
		}
		if dec.Bool(key) || dec.Bool(strings.ToLower(key)) {
			return true
		}
	}
	return false
}

var placeholderRe = regexp.MustCompile(`\{\{\s*DEC\.([a-zA-Z0-9_]+)\s*\}\}`)

// Interpolate replaces {{ DEC.<field> }} placeholders with decision fields.
// Unknown fields become the empty string.
func Interpolate(text string, dec decision.Result) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		return dec.Field(sub[1])
	})
}
