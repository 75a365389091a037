package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

// InstrumentService defines the methods that the instrument handler requires.
type InstrumentService interface {
	List(ctx context.Context) ([]domain.Instrument, error)
	Snapshot(ctx context.Context, instrumentID string, tf domain.Timeframe) (domain.MarketSnapshot, error)
}

// InstrumentHandler serves instrument metadata and indicator snapshots.
type InstrumentHandler struct {
	instruments InstrumentService
	logger      *slog.Logger
}

// NewInstrumentHandler creates an InstrumentHandler.
func NewInstrumentHandler(instruments InstrumentService, logger *slog.Logger) *InstrumentHandler {
	return &InstrumentHandler{instruments: instruments, logger: logger}
}

// List returns every instrument.
// GET /api/instruments
func (h *InstrumentHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.instruments.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list instruments failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list instruments")
		return
	}
	if list == nil {
		list = []domain.Instrument{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"instruments": list})
}

// Snapshot returns the latest sample and EMA values.
// GET /api/instruments/{id}/snapshot?timeframe=5m
func (h *InstrumentHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	raw := r.URL.Query().Get("timeframe")
	if raw == "" {
		raw = string(domain.Timeframe5m)
	}
	tf, err := domain.ParseTimeframe(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.instruments.Snapshot(r.Context(), id, tf)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no snapshot for instrument")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: snapshot failed",
			slog.String("instrument_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
