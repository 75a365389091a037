// Package rules turns strategy definitions into evaluable predicates. It owns
// the fixed condition catalog, the condition join, and a restricted formula
// language over the candle/indicator variable set.
package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

// Condition is one entry of the condition catalog. Its key and expression
// are part of the public contract and must keep their meaning.
type Condition struct {
	Key         string           `json:"key"`
	Expression  string           `json:"expression"`
	Direction   domain.Direction `json:"direction"`
	Description string           `json:"description"`
}

// catalog is built once at init and never written afterwards.
var catalog = indexConditions([]Condition{
	{Key: "price_above_ema50", Expression: "price > ema50", Direction: domain.DirectionBullish, Description: "Price trades above the 50-period EMA"},
	{Key: "price_below_ema50", Expression: "price < ema50", Direction: domain.DirectionBearish, Description: "Price trades below the 50-period EMA"},
	{Key: "price_above_ema200", Expression: "price > ema200", Direction: domain.DirectionBullish, Description: "Price trades above the 200-period EMA"},
	{Key: "price_below_ema200", Expression: "price < ema200", Direction: domain.DirectionBearish, Description: "Price trades below the 200-period EMA"},
	{Key: "ema50_above_ema200", Expression: "ema50 > ema200", Direction: domain.DirectionBullish, Description: "50-period EMA above the 200-period EMA"},
	{Key: "ema50_below_ema200", Expression: "ema50 < ema200", Direction: domain.DirectionBearish, Description: "50-period EMA below the 200-period EMA"},
	{Key: "close_above_ema50", Expression: "close > ema50", Direction: domain.DirectionBullish, Description: "Candle closed above the 50-period EMA"},
	{Key: "close_below_ema50", Expression: "close < ema50", Direction: domain.DirectionBearish, Description: "Candle closed below the 50-period EMA"},
	{Key: "candle_close_above_open", Expression: "close > open", Direction: domain.DirectionBullish, Description: "Bullish candle confirmation"},
	{Key: "candle_close_below_open", Expression: "close < open", Direction: domain.DirectionBearish, Description: "Bearish candle confirmation"},
})

func indexConditions(list []Condition) map[string]Condition {
	m := make(map[string]Condition, len(list))
	for _, c := range list {
		if _, dup := m[c.Key]; dup {
			panic("rules: duplicate catalog key " + c.Key)
		}
		m[c.Key] = c
	}
	return m
}

// Lookup returns the catalog entry for key.
func Lookup(key string) (Condition, bool) {
	c, ok := catalog[key]
	return c, ok
}

// Catalog returns every catalog entry sorted by key.
func Catalog() []Condition {
	out := make([]Condition, 0, len(catalog))
	for _, c := range catalog {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Join renders a condition list as a single formula, joining each
// condition's expression with the operator in declaration order. Duplicate
// keys are kept. Unknown keys are rejected.
func Join(keys []string, op domain.LogicOperator) (string, error) {
	if len(keys) == 0 {
		return "", fmt.Errorf("rules: join: %w: no conditions", domain.ErrInvalidStrategy)
	}
	sep, err := joinSeparator(op)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		c, ok := catalog[k]
		if !ok {
			return "", fmt.Errorf("rules: join: %w: %q", domain.ErrUnknownCondition, k)
		}
		parts = append(parts, c.Expression)
	}
	return strings.Join(parts, sep), nil
}

func joinSeparator(op domain.LogicOperator) (string, error) {
	switch op {
	case domain.OperatorAnd, "":
		return " && ", nil
	case domain.OperatorOr:
		return " || ", nil
	default:
		return "", fmt.Errorf("rules: join: %w: unknown operator %q", domain.ErrInvalidStrategy, op)
	}
}

const (
	SignalTypeBullishCrossover = "ema_crossover_bullish"
	SignalTypeBearishCrossover = "ema_crossover_bearish"
	SignalTypeCustom           = "custom"
)

// SignalType derives the signal type of a condition list: all bullish
// conditions yield a bullish crossover, all bearish a bearish one.
func SignalType(keys []string) (string, domain.Direction) {
	if len(keys) == 0 {
		return SignalTypeCustom, domain.DirectionNeutral
	}
	dir := domain.Direction("")
	for _, k := range keys {
		c, ok := catalog[k]
		if !ok {
			return SignalTypeCustom, domain.DirectionNeutral
		}
		if dir == "" {
			dir = c.Direction
		} else if dir != c.Direction {
			return SignalTypeCustom, domain.DirectionNeutral
		}
	}
	switch dir {
	case domain.DirectionBullish:
		return SignalTypeBullishCrossover, dir
	case domain.DirectionBearish:
		return SignalTypeBearishCrossover, dir
	default:
		return SignalTypeCustom, domain.DirectionNeutral
	}
}

// Preset is a named strategy template offered by the strategy builder.
type Preset struct {
	Key         string               `json:"key"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Conditions  []string             `json:"conditions"`
	Operator    domain.LogicOperator `json:"operator"`
}

var presets = []Preset{
	{
		Key:         "golden_cross_trend",
		Name:        "Golden cross trend",
		Description: "Price above EMA50 while EMA50 holds above EMA200",
		Conditions:  []string{"price_above_ema50", "ema50_above_ema200"},
		Operator:    domain.OperatorAnd,
	},
	{
		Key:         "death_cross_trend",
		Name:        "Death cross trend",
		Description: "Price below EMA50 while EMA50 holds below EMA200",
		Conditions:  []string{"price_below_ema50", "ema50_below_ema200"},
		Operator:    domain.OperatorAnd,
	},
	{
		Key:         "bullish_candle_above_ema50",
		Name:        "Bullish candle above EMA50",
		Description: "Green candle closing above EMA50",
		Conditions:  []string{"close_above_ema50", "candle_close_above_open"},
		Operator:    domain.OperatorAnd,
	},
	{
		Key:         "bearish_candle_below_ema50",
		Name:        "Bearish candle below EMA50",
		Description: "Red candle closing below EMA50",
		Conditions:  []string{"close_below_ema50", "candle_close_below_open"},
		Operator:    domain.OperatorAnd,
	},
}

// Presets returns a copy of the preset list.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	for i, p := range presets {
		p.Conditions = append([]string(nil), p.Conditions...)
		out[i] = p
	}
	return out
}

// LookupPreset returns the preset registered under key.
func LookupPreset(key string) (Preset, bool) {
	for _, p := range presets {
		if p.Key == key {
			p.Conditions = append([]string(nil), p.Conditions...)
			return p, true
		}
	}
	return Preset{}, false
}
