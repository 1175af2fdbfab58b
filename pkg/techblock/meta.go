package techblock

import "strings"

// Meta is the block summary sent to clients in the meta control event.
type Meta struct {
	Intensidade int      `json:"intensidade"`
	Resumo      string   `json:"resumo"`
	Emocao      string   `json:"emocao"`
	Categoria   string   `json:"categoria"`
	Tags        []string `json:"tags"`
}

// MetaPayload builds the client summary of b. It reports false unless
// the block has an emotion, a category and at least one tag. A blank
// summary is replaced by fallbackSummary; the payload is rejected when
// both are blank.
func MetaPayload(b *Block, fallbackSummary string) (*Meta, bool) {
	if b == nil {
		return nil, false
	}
	var tags []string
	for _, t := range b.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	m := &Meta{
		Intensidade: b.Intensidade,
		Resumo:      strings.TrimSpace(b.AnaliseResumo),
		Emocao:      strings.TrimSpace(b.EmocaoPrincipal),
		Categoria:   strings.TrimSpace(b.Categoria),
		Tags:        tags,
	}
	if m.Resumo == "" {
		m.Resumo = strings.TrimSpace(fallbackSummary)
	}
	if m.Resumo == "" || m.Emocao == "" || m.Categoria == "" || len(m.Tags) == 0 {
		return nil, false
	}
	return m, true
}
