package rule

// Op is a comparison operator.
type Op string

// Comparison operators.
const (
	OpGE Op = ">="
	OpLE Op = "<="
	OpEQ Op = "=="
	OpNE Op = "!="
	OpGT Op = ">"
	OpLT Op = "<"
)

// Node is a node of a compiled rule.
type Node interface {
	eval(env Env) bool
	walk(fn func(Node))
}

// Or is true when any term is true.
type Or struct{ Terms []Node }

// And is true when every term is true.
type And struct{ Terms []Node }

// Not negates X.
type Not struct{ X Node }

// Ident is a bare identifier. Numeric identifiers mean "> 0".
type Ident struct {
	Name    string
	Numeric bool
}

// Lit is a boolean literal.
type Lit struct{ Value bool }

// Cmp compares an identifier with a literal. Bool literals on numeric
// identifiers compare as 1/0.
type Cmp struct {
	Name    string
	Numeric bool
	Op      Op
	Value   float64
}

func (n *Or) eval(env Env) bool {
	for _, t := range n.Terms {
		if t.eval(env) {
			return true
		}
	}
	return false
}

func (n *Or) walk(fn func(Node)) {
	fn(n)
	for _, t := range n.Terms {
		t.walk(fn)
	}
}

func (n *And) eval(env Env) bool {
	for _, t := range n.Terms {
		if !t.eval(env) {
			return false
		}
	}
	return true
}

func (n *And) walk(fn func(Node)) {
	fn(n)
	for _, t := range n.Terms {
		t.walk(fn)
	}
}

func (n *Not) eval(env Env) bool { return !n.X.eval(env) }

func (n *Not) walk(fn func(Node)) {
	fn(n)
	n.X.walk(fn)
}

func (n *Ident) eval(env Env) bool {
	if n.Numeric {
		v, ok := env.Number(n.Name)
		return ok && v > 0
	}
	return env.Bool(n.Name)
}

func (n *Ident) walk(fn func(Node)) { fn(n) }

func (n *Lit) eval(Env) bool { return n.Value }

func (n *Lit) walk(fn func(Node)) { fn(n) }

func (n *Cmp) eval(env Env) bool {
	var left float64
	if n.Numeric {
		v, ok := env.Number(n.Name)
		if !ok {
			return false
		}
		left = v
	} else if env.Bool(n.Name) {
		left = 1
	}
	switch n.Op {
	case OpGE:
		return left >= n.Value
	case OpLE:
		return left <= n.Value
	case OpEQ:
		return left == n.Value
	case OpNE:
		return left != n.Value
	case OpGT:
		return left > n.Value
	case OpLT:
		return left < n.Value
	}
	return false
}

func (n *Cmp) walk(fn func(Node)) { fn(n) }
