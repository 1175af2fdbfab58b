package rule

import (
	"fmt"

	"github.com/haivivi/ecostream/pkg/decision"
)

// numericIdents are the identifiers that resolve to numbers.
var numericIdents = map[string]bool{
	"intensidade": true,
	"nivel":       true,
	"intensity":   true,
	"level":       true,
}

// derivedIdents are boolean identifiers that are not flags.
var derivedIdents = map[string]bool{
	"hasTechBlock": true,
	"saveMemory":   true,
	"isVulnerable": true,
	"vulnerable":   true,
}

// IsNumeric reports whether name is a numeric identifier.
func IsNumeric(name string) bool { return numericIdents[name] }

// IsKnown reports whether name is in the identifier whitelist.
func IsKnown(name string) bool {
	return numericIdents[name] || derivedIdents[name] || decision.IsFlagName(name)
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func unexpected(t token) error {
	if t.kind == tokEOF {
		return fmt.Errorf("%w: unexpected end of rule", ErrSyntax)
	}
	return fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, t.text, t.pos)
}

func (p *parser) parseExpr() (Node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []Node{first}
	for p.peek().kind == tokOr {
		p.next()
		n, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, n)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return &Or{Terms: terms}, nil
}

func (p *parser) parseAnd() (Node, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	terms := []Node{first}
	for p.peek().kind == tokAnd {
		p.next()
		n, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		terms = append(terms, n)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return &And{Terms: terms}, nil
}

func (p *parser) parseUnary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokNot:
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{X: x}, nil
	case tokLParen:
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, unexpected(closing)
		}
		return x, nil
	case tokBool:
		return &Lit{Value: t.b}, nil
	case tokIdent:
		return p.parseIdent(t)
	}
	return nil, unexpected(t)
}

func (p *parser) parseIdent(id token) (Node, error) {
	if !IsKnown(id.text) {
		return nil, fmt.Errorf("%w: %q at %d", ErrUnknownIdentifier, id.text, id.pos)
	}
	numeric := IsNumeric(id.text)
	if p.peek().kind != tokCmp {
		return &Ident{Name: id.text, Numeric: numeric}, nil
	}
	opTok := p.next()
	rhs := p.next()
	var value float64
	switch rhs.kind {
	case tokNumber:
		value = rhs.num
	case tokBool:
		if rhs.b {
			value = 1
		}
	default:
		return nil, unexpected(rhs)
	}
	if !numeric {
		if opTok.op != OpEQ && opTok.op != OpNE {
			return nil, fmt.Errorf("%w: operator %s on boolean %q", ErrType, opTok.op, id.text)
		}
		if rhs.kind == tokNumber {
			value = boolNum(value != 0)
		}
	}
	return &Cmp{Name: id.text, Numeric: numeric, Op: opTok.op, Value: value}, nil
}

func boolNum(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
