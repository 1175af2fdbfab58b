// Package rule implements the small boolean expression language used to
// gate prompt modules.
//
// Grammar:
//
//	expr       := and ("||" and)*
//	and        := unary ("&&" unary)*
//	unary      := "!" unary | "(" expr ")" | comparison | identifier | bool
//	comparison := identifier (">=" | "<=" | "==" | "!=" | ">" | "<") (number | bool)
//
// Identifiers come from a fixed whitelist: the numeric identifiers
// intensidade, nivel, intensity and level, every decision flag name and
// alias, and the derived booleans hasTechBlock, saveMemory, isVulnerable
// and vulnerable. Rules are parsed once into an AST. Evaluation through
// Eval fails closed: any compile error makes the rule false.
package rule

import (
	"errors"
	"strings"
	"sync"
)

// Sentinel errors.
var (
	ErrSyntax            = errors.New("rule: syntax error")
	ErrUnknownIdentifier = errors.New("rule: unknown identifier")
	ErrType              = errors.New("rule: type error")
)

// Env resolves identifiers during evaluation.
type Env interface {
	// Number returns the value of a numeric identifier.
	Number(name string) (float64, bool)
	// Bool returns the value of a boolean identifier. Missing flags are false.
	Bool(name string) bool
}

// Rule is a compiled expression.
type Rule struct {
	src  string
	root Node
}

// Compile parses src. Empty or blank sources compile to a rule that is
// always true.
func Compile(src string) (*Rule, error) {
	if strings.TrimSpace(src) == "" {
		return &Rule{src: src, root: &Lit{Value: true}}, nil
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, unexpected(t)
	}
	return &Rule{src: src, root: root}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) *Rule {
	r, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return r
}

// String returns the source text.
func (r *Rule) String() string { return r.src }

// Root returns the AST root.
func (r *Rule) Root() Node { return r.root }

// Eval evaluates the rule against env.
func (r *Rule) Eval(env Env) bool {
	return r.root.eval(env)
}

// Signals returns the boolean identifiers referenced by the rule that are
// true in env, deduplicated, in order of first appearance. Numeric
// identifiers and hasTechBlock are not reported.
func (r *Rule) Signals(env Env) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if seen[name] || name == "hasTechBlock" {
			return
		}
		seen[name] = true
		if env.Bool(name) {
			out = append(out, name)
		}
	}
	r.root.walk(func(n Node) {
		switch n := n.(type) {
		case *Ident:
			if !n.Numeric {
				add(n.Name)
			}
		case *Cmp:
			if !n.Numeric {
				add(n.Name)
			}
		}
	})
	return out
}

type cached struct {
	rule *Rule
	err  error
}

var compiledRules sync.Map // string -> cached

func load(src string) (*Rule, error) {
	if v, ok := compiledRules.Load(src); ok {
		c := v.(cached)
		return c.rule, c.err
	}
	r, err := Compile(src)
	compiledRules.Store(src, cached{rule: r, err: err})
	return r, err
}

// Eval compiles src (memoized) and evaluates it. Any error yields false.
func Eval(src string, env Env) bool {
	r, err := load(src)
	if err != nil {
		return false
	}
	return r.Eval(env)
}

// Signals is the memoized counterpart of (*Rule).Signals. Invalid rules
// have no signals.
func Signals(src string, env Env) []string {
	r, err := load(src)
	if err != nil {
		return nil
	}
	return r.Signals(env)
}

// MapEnv is an Env backed by a map. Numbers may be int or float64 values;
// booleans are bool values. A bool stored under a numeric name counts as
// 1 or 0.
type MapEnv map[string]any

// Number implements Env.
func (m MapEnv) Number(name string) (float64, bool) {
	switch v := m[name].(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case bool:
		return boolNum(v), true
	}
	return 0, false
}

// Bool implements Env.
func (m MapEnv) Bool(name string) bool {
	v, _ := m[name].(bool)
	return v
}
