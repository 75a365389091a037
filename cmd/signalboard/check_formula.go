package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/signalboard/internal/rules"
	"github.com/alanyoungcy/signalboard/internal/service"
)

var (
	checkConditions []string
	checkOperator   string
)

var checkFormulaCmd = &cobra.Command{
	Use:   "check-formula [formula]",
	Short: "Compile a formula or condition list and print its canonical form",
	Example: `  signalboard check-formula "price > ema50 && ema50 > ema200"
  signalboard check-formula --condition price_above_ema50 --condition ema50_above_ema200 --operator OR`,
	RunE: func(cmd *cobra.Command, args []string) error {
		formula := strings.Join(args, " ")
		if formula == "" && len(checkConditions) == 0 {
			return errors.New("a formula argument or at least one --condition is required")
		}
		return checkFormula(cmd.OutOrStdout(), formula, checkConditions, checkOperator)
	},
}

func init() {
	checkFormulaCmd.Flags().StringSliceVar(&checkConditions, "condition", nil, "catalog condition id (repeatable)")
	checkFormulaCmd.Flags().StringVar(&checkOperator, "operator", "AND", "operator joining conditions: AND or OR")
}

// checkFormula prints the canonical text on success. A compile error is
// printed with a caret under the offending position and returned.
func checkFormula(w io.Writer, formula string, conditions []string, op string) error {
	canonical, err := service.ValidateFormula(formula, conditions, op)
	if err == nil {
		fmt.Fprintln(w, canonical)
		return nil
	}
	var ce *rules.CompileError
	if errors.As(err, &ce) && ce.Pos >= 0 {
		fmt.Fprintln(w, ce.Formula)
		fmt.Fprintf(w, "%s^ %s\n", strings.Repeat(" ", ce.Pos), ce.Msg)
	}
	return err
}
