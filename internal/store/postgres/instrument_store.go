package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

// InstrumentStore implements domain.InstrumentStore using PostgreSQL. Rows
// are maintained by the administrative layer; this store only reads them.
type InstrumentStore struct {
	pool *pgxpool.Pool
}

// NewInstrumentStore creates a new InstrumentStore backed by the given connection pool.
func NewInstrumentStore(pool *pgxpool.Pool) *InstrumentStore {
	return &InstrumentStore{pool: pool}
}

var _ domain.InstrumentStore = (*InstrumentStore)(nil)

const instrumentSelectCols = `id, symbol, display_name, asset_class, exchange, enabled`

// GetByID returns one instrument.
func (s *InstrumentStore) GetByID(ctx context.Context, id string) (domain.Instrument, error) {
	var inst domain.Instrument
	var class string
	err := s.pool.QueryRow(ctx, `SELECT `+instrumentSelectCols+` FROM instruments WHERE id = $1`, id).
		Scan(&inst.ID, &inst.Symbol, &inst.DisplayName, &class, &inst.Exchange, &inst.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Instrument{}, domain.ErrNotFound
		}
		return domain.Instrument{}, fmt.Errorf("postgres: get instrument %s: %w", id, err)
	}
	inst.AssetClass = domain.AssetClass(class)
	return inst, nil
}

// List returns every instrument ordered by symbol.
func (s *InstrumentStore) List(ctx context.Context) ([]domain.Instrument, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+instrumentSelectCols+` FROM instruments ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list instruments: %w", err)
	}
	defer rows.Close()

	var out []domain.Instrument
	for rows.Next() {
		var inst domain.Instrument
		var class string
		if err := rows.Scan(&inst.ID, &inst.Symbol, &inst.DisplayName, &class, &inst.Exchange, &inst.Enabled); err != nil {
			return nil, fmt.Errorf("postgres: scan instrument: %w", err)
		}
		inst.AssetClass = domain.AssetClass(class)
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list instruments rows: %w", err)
	}
	return out, nil
}
