package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

// SignalService is the pull-based catch-up path for clients that missed a
// push, and records notification outcomes.
type SignalService struct {
	signals domain.SignalStore
	recent  func(limit int) []domain.Signal
	logger  *slog.Logger
}

// NewSignalService creates a SignalService.
func NewSignalService(signals domain.SignalStore, logger *slog.Logger) *SignalService {
	return &SignalService{
		signals: signals,
		logger:  logger.With(slog.String("component", "signal_service")),
	}
}

// SetRecentSource attaches the in-process ring of fired signals. Without one
// Recent returns nothing.
func (s *SignalService) SetRecentSource(fn func(limit int) []domain.Signal) { s.recent = fn }

// Recent returns signals fired by this process, newest first, including any
// whose persist failed.
func (s *SignalService) Recent(limit int) []domain.Signal {
	if s.recent == nil {
		return []domain.Signal{}
	}
	return s.recent(limit)
}

// List returns stored signals newest first.
func (s *SignalService) List(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	list, err := s.signals.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("signal_service: list: %w", err)
	}
	return list, nil
}

// Get returns one signal.
func (s *SignalService) Get(ctx context.Context, id string) (domain.Signal, error) {
	sig, err := s.signals.GetByID(ctx, id)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("signal_service: get %q: %w", id, err)
	}
	return sig, nil
}

// RecordStatus stores a delivery status. Failures are logged; the signal
// itself has already been delivered.
func (s *SignalService) RecordStatus(ctx context.Context, id string, status domain.SignalStatus) {
	if err := s.signals.UpdateStatus(ctx, id, status); err != nil {
		s.logger.WarnContext(ctx, "status update failed",
			slog.String("signal_id", id),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
}
