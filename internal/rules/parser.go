package rules

import (
	"fmt"
	"strings"
)

// binding powers; higher binds tighter.
var infixPower = map[string]int{
	"||": 1,
	"&&": 2,
	"==": 3, "!=": 3,
	"<": 4, ">": 4, "<=": 4, ">=": 4,
	"+": 5, "-": 5,
	"*": 6, "/": 6,
}

const prefixPower = 7

type parser struct {
	src  string
	toks []token
	i    int
}

// parse turns formula text into a type-checked AST whose root is boolean.
func parse(src string) (node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &CompileError{Formula: src, Pos: -1, Msg: "empty formula"}
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	root, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t.pos, "unexpected %s", describe(t))
	}
	if root.kind() != kindBool {
		return nil, p.errorf(root.position(), "formula must evaluate to a boolean, got a number")
	}
	return root, nil
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) errorf(pos int, format string, args ...any) *CompileError {
	return &CompileError{Formula: p.src, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expr(minPower int) (node, error) {
	left, err := p.prefix()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp {
			return left, nil
		}
		power, ok := infixPower[t.text]
		if !ok {
			return nil, p.errorf(t.pos, "unexpected operator %q", t.text)
		}
		if power <= minPower {
			return left, nil
		}
		p.next()
		right, err := p.expr(power)
		if err != nil {
			return nil, err
		}
		left, err = p.binary(t, left, right)
		if err != nil {
			return nil, err
		}
	}
}

func (p *parser) prefix() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return &numberLit{at: t.pos, v: t.num}, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.call(t)
		}
		slot, ok := variables[t.text]
		if !ok {
			return nil, p.errorf(t.pos, "unknown identifier %q (allowed: %s)", t.text, strings.Join(Variables(), ", "))
		}
		return &variable{at: t.pos, name: t.text, slot: slot}, nil
	case tokLParen:
		inner, err := p.expr(0)
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, p.errorf(c.pos, "expected ')', got %s", describe(c))
		}
		return inner, nil
	case tokOp:
		switch t.text {
		case "-":
			x, err := p.expr(prefixPower)
			if err != nil {
				return nil, err
			}
			if x.kind() != kindNumber {
				return nil, p.errorf(t.pos, "unary '-' needs a number")
			}
			return &unaryExpr{at: t.pos, op: "-", x: x}, nil
		case "!":
			x, err := p.expr(prefixPower)
			if err != nil {
				return nil, err
			}
			if x.kind() != kindBool {
				return nil, p.errorf(t.pos, "'!' needs a boolean")
			}
			return &unaryExpr{at: t.pos, op: "!", x: x}, nil
		}
	}
	return nil, p.errorf(t.pos, "unexpected %s", describe(t))
}

func (p *parser) call(name token) (node, error) {
	fn, ok := functions[name.text]
	if !ok {
		return nil, p.errorf(name.pos, "unknown function %q (allowed: %s)", name.text, strings.Join(Functions(), ", "))
	}
	p.next() // (
	var args []node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.expr(0)
			if err != nil {
				return nil, err
			}
			if arg.kind() != kindNumber {
				return nil, p.errorf(arg.position(), "%s: arguments must be numbers", fn.name)
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if c := p.next(); c.kind != tokRParen {
		return nil, p.errorf(c.pos, "expected ')' to close %s(, got %s", fn.name, describe(c))
	}
	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return nil, p.errorf(name.pos, "%s: wrong number of arguments (%d)", fn.name, len(args))
	}
	return &callExpr{at: name.pos, fn: fn, args: args}, nil
}

func (p *parser) binary(op token, l, r node) (node, error) {
	n := &binaryExpr{at: op.pos, op: op.text, l: l, r: r}
	switch op.text {
	case "&&", "||":
		if l.kind() != kindBool || r.kind() != kindBool {
			return nil, p.errorf(op.pos, "%q needs boolean operands", op.text)
		}
	default:
		if l.kind() != kindNumber || r.kind() != kindNumber {
			return nil, p.errorf(op.pos, "%q needs number operands, got %s and %s", op.text, l.kind(), r.kind())
		}
		if op.text == "==" || op.text == "!=" {
			n.exact = exactOperand(l) || exactOperand(r) || (isLiteral(l) && isLiteral(r))
		}
	}
	return n, nil
}

func exactOperand(n node) bool {
	v, ok := n.(*variable)
	return ok && exactSlots[v.slot]
}

func isLiteral(n node) bool {
	_, ok := n.(*numberLit)
	return ok
}

func describe(t token) string {
	switch t.kind {
	case tokEOF:
		return "end of formula"
	case tokNumber:
		return "number " + t.text
	case tokIdent:
		return "identifier " + t.text
	default:
		return fmt.Sprintf("%q", t.text)
	}
}
