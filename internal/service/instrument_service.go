package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

// SnapshotSource is the in-process fallback for indicator snapshots.
type SnapshotSource interface {
	Snapshot(instrumentID string, tf domain.Timeframe) (domain.IndicatorSnapshot, bool)
}

// InstrumentSink receives the instrument list whenever it is refreshed.
type InstrumentSink interface {
	SetInstruments(list []domain.Instrument)
}

// InstrumentService serves instrument metadata and the latest indicator
// snapshots.
type InstrumentService struct {
	instruments domain.InstrumentStore
	cache       domain.SnapshotCache
	local       SnapshotSource
	logger      *slog.Logger
}

// NewInstrumentService creates an InstrumentService. cache and local may be
// nil.
func NewInstrumentService(
	instruments domain.InstrumentStore,
	cache domain.SnapshotCache,
	local SnapshotSource,
	logger *slog.Logger,
) *InstrumentService {
	return &InstrumentService{
		instruments: instruments,
		cache:       cache,
		local:       local,
		logger:      logger.With(slog.String("component", "instrument_service")),
	}
}

// List returns every instrument.
func (s *InstrumentService) List(ctx context.Context) ([]domain.Instrument, error) {
	list, err := s.instruments.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("instrument_service: list: %w", err)
	}
	return list, nil
}

// Refresh loads the instrument list into sink.
func (s *InstrumentService) Refresh(ctx context.Context, sink InstrumentSink) error {
	list, err := s.List(ctx)
	if err != nil {
		return err
	}
	sink.SetInstruments(list)
	s.logger.InfoContext(ctx, "instruments refreshed", slog.Int("count", len(list)))
	return nil
}

// Snapshot returns the latest snapshot of an instrument, checking the shared
// cache first and falling back to this process's engine state.
func (s *InstrumentService) Snapshot(ctx context.Context, instrumentID string, tf domain.Timeframe) (domain.MarketSnapshot, error) {
	if s.cache != nil {
		snap, err := s.cache.GetSnapshot(ctx, instrumentID, tf)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			// Cache errors are not fatal; fall through to local state.
			s.logger.WarnContext(ctx, "snapshot cache read failed",
				slog.String("instrument_id", instrumentID),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.local != nil {
		if ind, ok := s.local.Snapshot(instrumentID, tf); ok {
			return domain.MarketSnapshot{Indicators: ind}, nil
		}
	}
	return domain.MarketSnapshot{}, fmt.Errorf("instrument_service: snapshot %s/%s: %w", instrumentID, tf, domain.ErrNotFound)
}
