package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

// SignalService defines the methods that the signal handler requires.
type SignalService interface {
	List(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error)
	Get(ctx context.Context, id string) (domain.Signal, error)
	Recent(limit int) []domain.Signal
}

// SignalHandler serves the pull-based signal catch-up endpoints.
type SignalHandler struct {
	signals SignalService
	logger  *slog.Logger
}

// NewSignalHandler creates a SignalHandler.
func NewSignalHandler(signals SignalService, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{signals: signals, logger: logger}
}

type listSignalsResponse struct {
	Signals []domain.Signal `json:"signals"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// List returns stored signals, newest first.
// GET /api/signals?since=&instrument_id=&strategy_id=&limit=&offset=
func (h *SignalHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := domain.SignalFilter{
		ListOpts:     opts,
		InstrumentID: r.URL.Query().Get("instrument_id"),
		StrategyID:   r.URL.Query().Get("strategy_id"),
	}

	signals, err := h.signals.List(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list signals failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}
	if signals == nil {
		signals = []domain.Signal{}
	}
	writeJSON(w, http.StatusOK, listSignalsResponse{Signals: signals, Limit: opts.Limit, Offset: opts.Offset})
}

// Recent returns signals fired by this process from memory.
// GET /api/signals/recent?limit=
func (h *SignalHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	signals := h.signals.Recent(limit)
	if signals == nil {
		signals = []domain.Signal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": signals})
}

// Get returns one signal.
// GET /api/signals/{id}
func (h *SignalHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	sig, err := h.signals.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "signal not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get signal failed",
			slog.String("signal_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get signal")
		return
	}
	writeJSON(w, http.StatusOK, sig)
}
