package prompt

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"github.com/haivivi/ecostream/pkg/decision"
)

// Applied is the output of ApplyFrontMatter.
type Applied struct {
	Regular      []Prepared
	Footers      []Prepared
	OrderedNames []string
	Debug        []DebugEntry
}

// noOrder ranks candidates absent from the base order.
const noOrder = math.MaxInt

type ordered struct {
	Prepared
	order     int
	baseIndex int
}

// ApplyFrontMatter gates candidates on their front matter, resolves
// placeholders and orders the survivors. Candidates sort by their explicit
// order (or their base index), then base index, then name. Among
// candidates sharing a dedupe key only the first survives. Footers follow
// regular modules in the same relative order.
func ApplyFrontMatter(dec decision.Result, baseOrder []string, candidates []Candidate) Applied {
	index := make(map[string]int, len(baseOrder))
	for i, name := range baseOrder {
		if _, ok := index[name]; !ok {
			index[name] = i
		}
	}

	dbg := newDebugLog()
	var passing []ordered
	for _, c := range candidates {
		passes, reason, threshold := c.Meta.Gate(dec)
		dbg.set(DebugEntry{
			ID:        c.Name,
			Source:    SourceFrontMatter,
			Activated: passes,
			Reason:    reason,
			Threshold: threshold,
		})
		if !passes {
			continue
		}
		baseIndex, ok := index[c.Name]
		if !ok {
			baseIndex = noOrder
		}
		order := baseIndex
		if c.Meta.Order != nil {
			order = *c.Meta.Order
		}
		passing = append(passing, ordered{
			Prepared:  Prepared{Name: c.Name, Text: Interpolate(c.Text, dec), Meta: c.Meta},
			order:     order,
			baseIndex: baseIndex,
		})
	}

	slices.SortStableFunc(passing, func(a, b ordered) int {
		if a.order != b.order {
			return cmp.Compare(a.order, b.order)
		}
		if a.baseIndex != b.baseIndex {
			return cmp.Compare(a.baseIndex, b.baseIndex)
		}
		return strings.Compare(a.Name, b.Name)
	})

	var out Applied
	keys := make(map[string]bool)
	for _, c := range passing {
		if raw := strings.TrimSpace(c.Meta.DedupeKey); raw != "" {
			key := strings.ToLower(raw)
			if keys[key] {
				dbg.set(DebugEntry{
					ID:     c.Name,
					Source: SourceDedupe,
					Reason: "dedupe:" + key,
				})
				continue
			}
			keys[key] = true
		}
		if c.Meta.IsFooter() {
			out.Footers = append(out.Footers, c.Prepared)
		} else {
			out.Regular = append(out.Regular, c.Prepared)
		}
	}

	for _, p := range out.Regular {
		out.OrderedNames = append(out.OrderedNames, p.Name)
	}
	for _, p := range out.Footers {
		out.OrderedNames = append(out.OrderedNames, p.Name)
	}
	out.Debug = dbg.entries()
	return out
}
