package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/signalboard/internal/domain"
	"github.com/alanyoungcy/signalboard/internal/service"
	"github.com/alanyoungcy/signalboard/internal/strategy"
)

// StrategyService defines the methods that the strategy handler requires.
type StrategyService interface {
	Create(ctx context.Context, req service.CreateStrategyRequest) (domain.Strategy, error)
	Enable(ctx context.Context, id string) error
	Disable(ctx context.Context, id string) error
	List() []strategy.StrategyInfo
}

// StrategyHandler serves strategy administration endpoints.
type StrategyHandler struct {
	strategies StrategyService
	logger     *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler with the given service and logger.
func NewStrategyHandler(strategies StrategyService, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{strategies: strategies, logger: logger}
}

// List returns every registered strategy with runtime counters.
// GET /api/strategies
func (h *StrategyHandler) List(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"strategies": h.strategies.List()})
}

// Create compiles and stores a new strategy.
// POST /api/strategies
func (h *StrategyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateStrategyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.strategies.Create(r.Context(), req)
	if err != nil {
		if writeStrategyError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create strategy failed",
			slog.String("name", req.Name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create strategy")
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// Enable resumes a strategy.
// POST /api/strategies/{id}/enable
func (h *StrategyHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, true)
}

// Disable pauses a strategy.
// POST /api/strategies/{id}/disable
func (h *StrategyHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, false)
}

func (h *StrategyHandler) toggle(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := pathParam(r, "id")
	set := h.strategies.Disable
	if enabled {
		set = h.strategies.Enable
	}
	if err := set(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "strategy not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: toggle strategy failed",
			slog.String("strategy_id", id),
			slog.Bool("enabled", enabled),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update strategy")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
}
