package handler

import (
	"net/http"

	"github.com/alanyoungcy/signalboard/internal/domain"
	"github.com/alanyoungcy/signalboard/internal/rules"
)

// catalogResponse describes everything a strategy builder can offer.
type catalogResponse struct {
	Conditions []rules.Condition  `json:"conditions"`
	Presets    []rules.Preset     `json:"presets"`
	Variables  []string           `json:"variables"`
	Functions  []string           `json:"functions"`
	Operators  []string           `json:"operators"`
	Timeframes []domain.Timeframe `json:"timeframes"`
}

// Catalog returns the condition catalog and the formula surface.
// GET /api/catalog
func Catalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, catalogResponse{
		Conditions: rules.Catalog(),
		Presets:    rules.Presets(),
		Variables:  rules.Variables(),
		Functions:  rules.Functions(),
		Operators:  []string{string(domain.OperatorAnd), string(domain.OperatorOr)},
		Timeframes: []domain.Timeframe{domain.Timeframe5m, domain.Timeframe15m},
	})
}
