package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

// StrategyStore implements domain.StrategyStore using PostgreSQL.
type StrategyStore struct {
	pool *pgxpool.Pool
}

// NewStrategyStore creates a new StrategyStore backed by the given connection pool.
func NewStrategyStore(pool *pgxpool.Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

var _ domain.StrategyStore = (*StrategyStore)(nil)

const strategySelectCols = `id, name, description, timeframe, enabled, conditions,
	operator, formula, signal_type, instrument_ids, preset, created_at`

// Create inserts a new strategy. Strategies are never structurally updated.
func (s *StrategyStore) Create(ctx context.Context, st domain.Strategy) error {
	const query = `
		INSERT INTO strategies (
			id, name, description, timeframe, enabled, conditions,
			operator, formula, signal_type, instrument_ids, preset, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	op := st.Operator
	if op == "" {
		op = domain.OperatorAnd
	}
	conditions := st.Conditions
	if conditions == nil {
		conditions = []string{}
	}
	instruments := st.InstrumentIDs
	if instruments == nil {
		instruments = []string{}
	}
	_, err := s.pool.Exec(ctx, query,
		st.ID, st.Name, st.Description, string(st.Timeframe), st.Enabled, conditions,
		string(op), st.Formula, st.SignalType, instruments, st.Preset, st.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: create strategy %s: %w", st.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create strategy %s: %w", st.ID, err)
	}
	return nil
}

// SetEnabled flips the enabled flag.
func (s *StrategyStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE strategies SET enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("postgres: set strategy enabled %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID returns one strategy.
func (s *StrategyStore) GetByID(ctx context.Context, id string) (domain.Strategy, error) {
	query := `SELECT ` + strategySelectCols + ` FROM strategies WHERE id = $1`
	st, err := scanStrategy(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Strategy{}, domain.ErrNotFound
		}
		return domain.Strategy{}, fmt.Errorf("postgres: get strategy %s: %w", id, err)
	}
	return st, nil
}

// List returns every strategy, oldest first.
func (s *StrategyStore) List(ctx context.Context) ([]domain.Strategy, error) {
	query := `SELECT ` + strategySelectCols + ` FROM strategies ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategies: %w", err)
	}
	defer rows.Close()

	var out []domain.Strategy
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan strategy: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list strategies rows: %w", err)
	}
	return out, nil
}

func scanStrategy(row pgx.Row) (domain.Strategy, error) {
	var st domain.Strategy
	var tf, op string
	if err := row.Scan(
		&st.ID, &st.Name, &st.Description, &tf, &st.Enabled, &st.Conditions,
		&op, &st.Formula, &st.SignalType, &st.InstrumentIDs, &st.Preset, &st.CreatedAt,
	); err != nil {
		return domain.Strategy{}, err
	}
	st.Timeframe = domain.Timeframe(tf)
	st.Operator = domain.LogicOperator(op)
	if len(st.Conditions) == 0 {
		st.Conditions = nil
	}
	if len(st.InstrumentIDs) == 0 {
		st.InstrumentIDs = nil
	}
	return st, nil
}
