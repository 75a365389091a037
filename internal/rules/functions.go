package rules

import "math"

type function struct {
	name    string
	minArgs int
	maxArgs int // -1 for variadic
	apply   func(args []float64) (float64, error)
}

var functions = map[string]*function{
	"abs":   {name: "abs", minArgs: 1, maxArgs: 1, apply: unary(math.Abs)},
	"round": {name: "round", minArgs: 1, maxArgs: 1, apply: unary(math.Round)},
	"floor": {name: "floor", minArgs: 1, maxArgs: 1, apply: unary(math.Floor)},
	"ceil":  {name: "ceil", minArgs: 1, maxArgs: 1, apply: unary(math.Ceil)},
	"min": {name: "min", minArgs: 2, maxArgs: -1, apply: func(args []float64) (float64, error) {
		v := args[0]
		for _, a := range args[1:] {
			v = math.Min(v, a)
		}
		return v, nil
	}},
	"max": {name: "max", minArgs: 2, maxArgs: -1, apply: func(args []float64) (float64, error) {
		v := args[0]
		for _, a := range args[1:] {
			v = math.Max(v, a)
		}
		return v, nil
	}},
	// pct_change(from, to) is the percentage move from "from" to "to".
	"pct_change": {name: "pct_change", minArgs: 2, maxArgs: 2, apply: func(args []float64) (float64, error) {
		if args[0] == 0 {
			return 0, ErrDivisionByZero
		}
		return (args[1] - args[0]) / args[0] * 100, nil
	}},
}

func unary(f func(float64) float64) func([]float64) (float64, error) {
	return func(args []float64) (float64, error) { return f(args[0]), nil }
}

// Functions returns the names of the callable functions.
func Functions() []string {
	return []string{"abs", "min", "max", "round", "floor", "ceil", "pct_change"}
}
