package rules

import (
	"errors"
	"fmt"
)

// CompileError reports malformed or disallowed formula text. Formula is the
// text as submitted and Pos is the byte offset of the offending token in it,
// or -1 when no position applies.
type CompileError struct {
	Formula string
	Pos     int
	Msg     string
}

func (e *CompileError) Error() string {
	if e.Pos < 0 {
		return fmt.Sprintf("compile %q: %s", e.Formula, e.Msg)
	}
	return fmt.Sprintf("compile %q at position %d: %s", e.Formula, e.Pos, e.Msg)
}

var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrNotReady       = errors.New("indicator not ready")
	ErrNonFinite      = errors.New("non-finite result")
)

// EvaluationError is a runtime fault while evaluating a predicate against a
// record. The engine treats it as "condition not met".
type EvaluationError struct {
	Pos int
	Msg string
	Err error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate at position %d: %s: %v", e.Pos, e.Msg, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
