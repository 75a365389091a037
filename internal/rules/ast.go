package rules

import (
	"math"
)

type valueKind int

const (
	kindNumber valueKind = iota
	kindBool
)

func (k valueKind) String() string {
	if k == kindBool {
		return "boolean"
	}
	return "number"
}

type node interface {
	kind() valueKind
	position() int
}

type numberLit struct {
	at int
	v  float64
}

type variable struct {
	at   int
	name string
	slot int
}

type unaryExpr struct {
	at int
	op string
	x  node
}

type binaryExpr struct {
	at    int
	op    string
	l, r  node
	exact bool // == / != without tolerance
}

type callExpr struct {
	at   int
	fn   *function
	args []node
}

func (n *numberLit) kind() valueKind { return kindNumber }
func (n *variable) kind() valueKind  { return kindNumber }
func (n *callExpr) kind() valueKind  { return kindNumber }
func (n *numberLit) position() int   { return n.at }
func (n *variable) position() int    { return n.at }
func (n *unaryExpr) position() int   { return n.at }
func (n *binaryExpr) position() int  { return n.at }
func (n *callExpr) position() int    { return n.at }

func (n *unaryExpr) kind() valueKind {
	if n.op == "!" {
		return kindBool
	}
	return kindNumber
}

func (n *binaryExpr) kind() valueKind {
	switch n.op {
	case "+", "-", "*", "/":
		return kindNumber
	default:
		return kindBool
	}
}

// epsilon is the relative tolerance applied by == and != on values that are
// not integer-like.
const epsilon = 1e-9

func approxEqual(a, b float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= epsilon*scale
}

func evalNumber(n node, vals *[numSlots]float64) (float64, error) {
	switch n := n.(type) {
	case *numberLit:
		return n.v, nil
	case *variable:
		v := vals[n.slot]
		if math.IsNaN(v) {
			return 0, &EvaluationError{Pos: n.at, Msg: n.name, Err: ErrNotReady}
		}
		return v, nil
	case *unaryExpr:
		x, err := evalNumber(n.x, vals)
		if err != nil {
			return 0, err
		}
		return -x, nil
	case *binaryExpr:
		l, err := evalNumber(n.l, vals)
		if err != nil {
			return 0, err
		}
		r, err := evalNumber(n.r, vals)
		if err != nil {
			return 0, err
		}
		var v float64
		switch n.op {
		case "+":
			v = l + r
		case "-":
			v = l - r
		case "*":
			v = l * r
		case "/":
			if r == 0 {
				return 0, &EvaluationError{Pos: n.at, Msg: "/", Err: ErrDivisionByZero}
			}
			v = l / r
		}
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, &EvaluationError{Pos: n.at, Msg: n.op, Err: ErrNonFinite}
		}
		return v, nil
	case *callExpr:
		args := make([]float64, len(n.args))
		for i, a := range n.args {
			v, err := evalNumber(a, vals)
			if err != nil {
				return 0, err
			}
			args[i] = v
		}
		v, err := n.fn.apply(args)
		if err != nil {
			return 0, &EvaluationError{Pos: n.at, Msg: n.fn.name, Err: err}
		}
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, &EvaluationError{Pos: n.at, Msg: n.fn.name, Err: ErrNonFinite}
		}
		return v, nil
	}
	return 0, &EvaluationError{Pos: n.position(), Msg: "expression", Err: ErrNonFinite}
}

func evalBool(n node, vals *[numSlots]float64) (bool, error) {
	switch n := n.(type) {
	case *unaryExpr:
		x, err := evalBool(n.x, vals)
		if err != nil {
			return false, err
		}
		return !x, nil
	case *binaryExpr:
		switch n.op {
		case "&&":
			l, err := evalBool(n.l, vals)
			if err != nil || !l {
				return false, err
			}
			return evalBool(n.r, vals)
		case "||":
			l, err := evalBool(n.l, vals)
			if err != nil {
				return false, err
			}
			if l {
				return true, nil
			}
			return evalBool(n.r, vals)
		}
		l, err := evalNumber(n.l, vals)
		if err != nil {
			return false, err
		}
		r, err := evalNumber(n.r, vals)
		if err != nil {
			return false, err
		}
		switch n.op {
		case ">":
			return l > r, nil
		case "<":
			return l < r, nil
		case ">=":
			return l >= r, nil
		case "<=":
			return l <= r, nil
		case "==":
			if n.exact {
				return l == r, nil
			}
			return approxEqual(l, r), nil
		case "!=":
			if n.exact {
				return l != r, nil
			}
			return !approxEqual(l, r), nil
		}
	}
	return false, &EvaluationError{Pos: n.position(), Msg: "expression", Err: ErrNonFinite}
}
