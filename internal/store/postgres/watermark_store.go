package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

// WatermarkStore records archive export progress in archive_watermarks.
type WatermarkStore struct {
	pool *pgxpool.Pool
}

func NewWatermarkStore(pool *pgxpool.Pool) *WatermarkStore {
	return &WatermarkStore{pool: pool}
}

var _ domain.WatermarkStore = (*WatermarkStore)(nil)

// Watermark returns the export cutoff for kind, or the zero time.
func (s *WatermarkStore) Watermark(ctx context.Context, kind string) (time.Time, error) {
	var until time.Time
	err := s.pool.QueryRow(ctx, `SELECT until FROM archive_watermarks WHERE kind = $1`, kind).Scan(&until)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: get watermark %s: %w", kind, err)
	}
	return until, nil
}

// The watermark never moves backwards.
const upsertWatermark = `
	INSERT INTO archive_watermarks (kind, until) VALUES ($1, $2)
	ON CONFLICT (kind) DO UPDATE
	SET until = GREATEST(archive_watermarks.until, EXCLUDED.until), updated_at = NOW()`

// SetWatermark advances the export cutoff for kind.
func (s *WatermarkStore) SetWatermark(ctx context.Context, kind string, until time.Time) error {
	if _, err := s.pool.Exec(ctx, upsertWatermark, kind, until); err != nil {
		return fmt.Errorf("postgres: set watermark %s: %w", kind, err)
	}
	return nil
}
