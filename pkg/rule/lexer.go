package rule

import (
	"fmt"
	"strconv"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokBool
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
	tokCmp
)

type token struct {
	kind tokenKind
	text string
	pos  int
	num  float64
	b    bool
	op   Op
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// lex splits src into tokens. The final token is always tokEOF.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == '&':
			if i+1 < len(src) && src[i+1] == '&' {
				toks = append(toks, token{kind: tokAnd, text: "&&", pos: i})
				i += 2
				continue
			}
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, c, i)
		case c == '|':
			if i+1 < len(src) && src[i+1] == '|' {
				toks = append(toks, token{kind: tokOr, text: "||", pos: i})
				i += 2
				continue
			}
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, c, i)
		case c == '!' || c == '=' || c == '<' || c == '>':
			two := ""
			if i+1 < len(src) {
				two = src[i : i+2]
			}
			switch two {
			case ">=", "<=", "==", "!=":
				toks = append(toks, token{kind: tokCmp, text: two, pos: i, op: Op(two)})
				i += 2
				continue
			}
			switch c {
			case '!':
				toks = append(toks, token{kind: tokNot, text: "!", pos: i})
			case '<', '>':
				toks = append(toks, token{kind: tokCmp, text: string(c), pos: i, op: Op(string(c))})
			default:
				return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, c, i)
			}
			i++
		case isDigit(c):
			start := i
			for i < len(src) && isDigit(src[i]) {
				i++
			}
			if i < len(src) && src[i] == '.' {
				i++
				for i < len(src) && isDigit(src[i]) {
					i++
				}
			}
			text := src[start:i]
			n, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q at %d", ErrSyntax, text, start)
			}
			toks = append(toks, token{kind: tokNumber, text: text, pos: start, num: n})
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			text := src[start:i]
			switch text {
			case "true":
				toks = append(toks, token{kind: tokBool, text: text, pos: start, b: true})
			case "false":
				toks = append(toks, token{kind: tokBool, text: text, pos: start})
			default:
				toks = append(toks, token{kind: tokIdent, text: text, pos: start})
			}
		default:
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, c, i)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}
