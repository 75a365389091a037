package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a new SignalStore backed by the given connection pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

var _ domain.SignalStore = (*SignalStore)(nil)

const signalSelectCols = `id, strategy_id, strategy_name, instrument_id, instrument_name,
	timeframe, signal_type, direction, price, ts, status`

// uniqueViolation is the SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

// Append inserts a fired signal and returns its id. A second signal for the
// same strategy, instrument, timeframe and sample time is rejected with
// domain.ErrAlreadyExists.
func (s *SignalStore) Append(ctx context.Context, sig domain.Signal) (string, error) {
	const query = `
		INSERT INTO signals (
			id, strategy_id, strategy_name, instrument_id, instrument_name,
			timeframe, signal_type, direction, price, ts, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	status := sig.Status
	if status == "" {
		status = domain.SignalStatusPending
	}
	var id string
	err := s.pool.QueryRow(ctx, query,
		sig.ID, sig.StrategyID, sig.StrategyName, sig.InstrumentID, sig.InstrumentName,
		string(sig.Timeframe), sig.SignalType, string(sig.Direction), sig.Price, sig.Timestamp, string(status),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", fmt.Errorf("postgres: append signal %s: %w", sig.ID, domain.ErrAlreadyExists)
		}
		return "", fmt.Errorf("postgres: append signal %s: %w", sig.ID, err)
	}
	return id, nil
}

// UpdateStatus records delivery progress for a signal.
func (s *SignalStore) UpdateStatus(ctx context.Context, id string, status domain.SignalStatus) error {
	const query = `UPDATE signals SET status = $2, updated_at = NOW() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update signal status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID returns a single signal.
func (s *SignalStore) GetByID(ctx context.Context, id string) (domain.Signal, error) {
	query := `SELECT ` + signalSelectCols + ` FROM signals WHERE id = $1`
	sig, err := scanSignal(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Signal{}, domain.ErrNotFound
		}
		return domain.Signal{}, fmt.Errorf("postgres: get signal %s: %w", id, err)
	}
	return sig, nil
}

// List returns signals newest first, optionally narrowed by instrument,
// strategy and time range. It backs the catch-up path of clients that missed
// live pushes.
func (s *SignalStore) List(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	var w whereBuilder
	if filter.InstrumentID != "" {
		w.add("instrument_id = $%d", filter.InstrumentID)
	}
	if filter.StrategyID != "" {
		w.add("strategy_id = $%d", filter.StrategyID)
	}
	w.timeRange("ts", filter.ListOpts)

	query := `SELECT ` + signalSelectCols + ` FROM signals WHERE 1=1` + w.clause +
		" ORDER BY ts DESC, id" + w.page(filter.ListOpts)
	return s.query(ctx, "list signals", query, w.args...)
}

// ListBetween returns signals with from <= ts < before, oldest first.
func (s *SignalStore) ListBetween(ctx context.Context, from, before time.Time) ([]domain.Signal, error) {
	query := `SELECT ` + signalSelectCols + ` FROM signals WHERE ts >= $1 AND ts < $2 ORDER BY ts ASC, id`
	return s.query(ctx, "list signals between", query, from, before)
}

func (s *SignalStore) query(ctx context.Context, op, query string, args ...any) ([]domain.Signal, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	signals := []domain.Signal{}
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan signal: %w", err)
		}
		signals = append(signals, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return signals, nil
}

func scanSignal(row pgx.Row) (domain.Signal, error) {
	var sig domain.Signal
	var tf, direction, status string
	if err := row.Scan(
		&sig.ID, &sig.StrategyID, &sig.StrategyName, &sig.InstrumentID, &sig.InstrumentName,
		&tf, &sig.SignalType, &direction, &sig.Price, &sig.Timestamp, &status,
	); err != nil {
		return domain.Signal{}, err
	}
	sig.Timeframe = domain.Timeframe(tf)
	sig.Direction = domain.Direction(direction)
	sig.Status = domain.SignalStatus(status)
	sig.Timestamp = sig.Timestamp.UTC()
	return sig, nil
}
