package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/signalboard/internal/domain"
	"github.com/alanyoungcy/signalboard/internal/rules"
	"github.com/alanyoungcy/signalboard/internal/strategy"
)

type memStrategyStore struct {
	mu   sync.Mutex
	rows map[string]domain.Strategy
}

func newMemStrategyStore(seed ...domain.Strategy) *memStrategyStore {
	s := &memStrategyStore{rows: map[string]domain.Strategy{}}
	for _, st := range seed {
		s.rows[st.ID] = st
	}
	return s
}

func (m *memStrategyStore) Create(_ context.Context, s domain.Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[s.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.rows[s.ID] = s
	return nil
}

func (m *memStrategyStore) SetEnabled(_ context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.Enabled = enabled
	m.rows[id] = s
	return nil
}

func (m *memStrategyStore) GetByID(_ context.Context, id string) (domain.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return domain.Strategy{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *memStrategyStore) List(context.Context) ([]domain.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Strategy, 0, len(m.rows))
	for _, s := range m.rows {
		out = append(out, s)
	}
	return out, nil
}

type memAudit struct {
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func newTestService(store *memStrategyStore) (*StrategyService, *memAudit) {
	audit := &memAudit{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStrategyService(store, audit, strategy.NewRegistry(nil), logger), audit
}

func TestCreateFromPreset(t *testing.T) {
	store := newMemStrategyStore()
	svc, audit := newTestService(store)

	st, err := svc.Create(context.Background(), CreateStrategyRequest{
		Timeframe: "5m",
		Preset:    "golden_cross_trend",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, st.ID)
	assert.Equal(t, "Golden cross trend", st.Name)
	assert.Equal(t, []string{"price_above_ema50", "ema50_above_ema200"}, st.Conditions)
	assert.Equal(t, rules.SignalTypeBullishCrossover, st.SignalType)
	assert.True(t, st.Enabled)
	assert.Contains(t, store.rows, st.ID)
	assert.Equal(t, []string{"strategy.created"}, audit.events)

	got, err := svc.Get(st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.Name, got.Name)
}

func TestCreateRejectsBadFormulaWithoutPersisting(t *testing.T) {
	store := newMemStrategyStore()
	svc, audit := newTestService(store)

	_, err := svc.Create(context.Background(), CreateStrategyRequest{
		Name:      "bad",
		Timeframe: "15m",
		Formula:   "price > rsi",
	})
	var ce *rules.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Empty(t, store.rows)
	assert.Empty(t, audit.events)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(newMemStrategyStore())
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateStrategyRequest{Name: "x", Timeframe: "1h", Formula: "price > 1"})
	assert.ErrorIs(t, err, domain.ErrInvalidStrategy)

	_, err = svc.Create(ctx, CreateStrategyRequest{Name: "x", Timeframe: "5m", Preset: "nope"})
	assert.ErrorIs(t, err, domain.ErrInvalidStrategy)

	_, err = svc.Create(ctx, CreateStrategyRequest{Name: "x", Timeframe: "5m", Preset: "golden_cross_trend", Formula: "price > 1"})
	assert.ErrorIs(t, err, domain.ErrInvalidStrategy)

	_, err = svc.Create(ctx, CreateStrategyRequest{Name: "x", Timeframe: "5m", Conditions: []string{"price_above_vwap"}})
	assert.ErrorIs(t, err, domain.ErrUnknownCondition)
}

func TestEnableDisableAudited(t *testing.T) {
	store := newMemStrategyStore()
	svc, audit := newTestService(store)
	ctx := context.Background()

	st, err := svc.Create(ctx, CreateStrategyRequest{Name: "f", Timeframe: "5m", Formula: "price > ema50"})
	require.NoError(t, err)

	require.NoError(t, svc.Disable(ctx, st.ID))
	assert.False(t, store.rows[st.ID].Enabled)
	got, _ := svc.Get(st.ID)
	assert.False(t, got.Enabled)

	require.NoError(t, svc.Enable(ctx, st.ID))
	assert.True(t, store.rows[st.ID].Enabled)

	assert.Equal(t, []string{"strategy.created", "strategy.disabled", "strategy.enabled"}, audit.events)
	assert.ErrorIs(t, svc.Enable(ctx, "missing"), domain.ErrNotFound)
}

func TestLoadSkipsBrokenRows(t *testing.T) {
	now := time.Now()
	store := newMemStrategyStore(
		domain.Strategy{ID: "ok", Name: "ok", Timeframe: domain.Timeframe5m, Formula: "close > open", Enabled: true, CreatedAt: now},
		domain.Strategy{ID: "bad", Name: "bad", Timeframe: domain.Timeframe5m, Formula: "close >", Enabled: true, CreatedAt: now},
	)
	svc, _ := newTestService(store)

	n, err := svc.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, svc.List(), 1)
	assert.Equal(t, "ok", svc.List()[0].ID)
}

func TestValidateFormula(t *testing.T) {
	got, err := ValidateFormula("  price >   ema50 ", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "price > ema50", got)

	got, err = ValidateFormula("", []string{"price_above_ema50", "ema50_above_ema200"}, "and")
	require.NoError(t, err)
	assert.Equal(t, "price > ema50 && ema50 > ema200", got)

	_, err = ValidateFormula("", []string{"price_above_ema50"}, "XOR")
	assert.True(t, errors.Is(err, domain.ErrInvalidStrategy))
}
