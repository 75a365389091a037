package domain

import (
	"strings"
	"time"
)

// LogicOperator combines the conditions of a Strategy.
type LogicOperator string

const (
	OperatorAnd LogicOperator = "AND"
	OperatorOr  LogicOperator = "OR"
)

// ParseLogicOperator accepts AND / OR in any case. An empty string means AND.
func ParseLogicOperator(s string) (LogicOperator, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AND":
		return OperatorAnd, true
	case "OR":
		return OperatorOr, true
	default:
		return "", false
	}
}

// Strategy is a user-defined trading rule. It carries either a list of
// catalog condition keys combined with Operator, or a raw Formula; never
// both. A Strategy is only mutated through Enabled.
type Strategy struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Timeframe     Timeframe     `json:"timeframe"`
	Enabled       bool          `json:"enabled"`
	Conditions    []string      `json:"conditions,omitempty"`
	Operator      LogicOperator `json:"operator,omitempty"`
	Formula       string        `json:"formula,omitempty"`
	SignalType    string        `json:"signalType,omitempty"`
	InstrumentIDs []string      `json:"instrumentIds,omitempty"`
	Preset        string        `json:"preset,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// IsFormula reports whether the strategy bypasses the condition catalog.
func (s Strategy) IsFormula() bool {
	return strings.TrimSpace(s.Formula) != ""
}

// AppliesTo reports whether the strategy watches the given instrument.
func (s Strategy) AppliesTo(instrumentID string) bool {
	if len(s.InstrumentIDs) == 0 {
		return true
	}
	for _, id := range s.InstrumentIDs {
		if id == instrumentID {
			return true
		}
	}
	return false
}
