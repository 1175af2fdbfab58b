// Package techblock extracts the technical block: a structured emotional
// summary of one exchange, produced by a side model call after the reply.
//
// Extraction never fails the caller. Every error path degrades to a blank
// block, and the timing helpers in this package let the orchestrator bound
// how long it waits for one.
package techblock

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Sentinel errors.
var (
	// ErrDeadline is returned by Run when the block did not arrive in time.
	ErrDeadline = errors.New("techblock: deadline exceeded")
)

// MaxIntensity is the upper bound of Block.Intensidade.
const MaxIntensity = 10

// Block is the technical block of one exchange.
type Block struct {
	EmocaoPrincipal         string   `json:"emocao_principal,omitempty" msgpack:"emocao_principal" jsonschema:"main emotion of the user message"`
	Intensidade             int      `json:"intensidade" msgpack:"intensidade" jsonschema:"emotional intensity from 0 to 10"`
	Tags                    []string `json:"tags" msgpack:"tags" jsonschema:"short lowercase tags"`
	DominioVida             string   `json:"dominio_vida,omitempty" msgpack:"dominio_vida" jsonschema:"life domain such as trabalho or familia"`
	PadraoComportamental    string   `json:"padrao_comportamental,omitempty" msgpack:"padrao_comportamental"`
	NivelAbertura           string   `json:"nivel_abertura,omitempty" msgpack:"nivel_abertura" jsonschema:"baixo, médio or alto"`
	Categoria               string   `json:"categoria,omitempty" msgpack:"categoria"`
	AnaliseResumo           string   `json:"analise_resumo,omitempty" msgpack:"analise_resumo" jsonschema:"one sentence summary"`
	TemaRecorrente          string   `json:"tema_recorrente,omitempty" msgpack:"tema_recorrente"`
	EvolucaoTemporal        string   `json:"evolucao_temporal,omitempty" msgpack:"evolucao_temporal"`
	ImpactoRespostaEstimado string   `json:"impacto_resposta_estimado,omitempty" msgpack:"impacto_resposta_estimado" jsonschema:"abriu, fechou or neutro"`
	SugestaoProximoPasso    string   `json:"sugestao_proximo_passo,omitempty" msgpack:"sugestao_proximo_passo"`
	ModoHibridoAcionado     bool     `json:"modo_hibrido_acionado" msgpack:"modo_hibrido_acionado"`
	TipoReferencia          string   `json:"tipo_referencia,omitempty" msgpack:"tipo_referencia" jsonschema:"abertura, durante or emocao_intensa"`
}

// Blank returns the block used when nothing could be extracted.
func Blank() *Block {
	return &Block{Tags: []string{}, NivelAbertura: "baixo"}
}

// IsEmpty reports whether b carries no emotion, no tags and no intensity.
func (b *Block) IsEmpty() bool {
	return b == nil || (strings.TrimSpace(b.EmocaoPrincipal) == "" && len(b.Tags) == 0 && b.Intensidade == 0)
}

// Clone returns a deep copy of b.
func (b *Block) Clone() *Block {
	if b == nil {
		return nil
	}
	c := *b
	c.Tags = append([]string(nil), b.Tags...)
	return &c
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaJSON string
	schemaErr  error
)

// Schema returns the JSON schema of Block.
func Schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.For[Block](&jsonschema.ForOptions{})
		if schemaErr != nil {
			return
		}
		var b []byte
		b, schemaErr = json.MarshalIndent(schema, "", "  ")
		schemaJSON = string(b)
	})
	return schema, schemaErr
}

func schemaText() string {
	if _, err := Schema(); err != nil {
		return ""
	}
	return schemaJSON
}
