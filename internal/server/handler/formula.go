package handler

import (
	"net/http"

	"github.com/alanyoungcy/signalboard/internal/service"
)

type validateRequest struct {
	Formula    string   `json:"formula,omitempty"`
	Conditions []string `json:"conditions,omitempty"`
	Operator   string   `json:"operator,omitempty"`
}

// ValidateFormula compiles a formula or condition list without storing
// anything and returns the canonical formula text.
// POST /api/formulas/validate
func ValidateFormula(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	formula, err := service.ValidateFormula(req.Formula, req.Conditions, req.Operator)
	if err != nil {
		if !writeStrategyError(w, err) {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "formula": formula})
}
