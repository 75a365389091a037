package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/signalboard/internal/domain"
	"github.com/alanyoungcy/signalboard/internal/metrics"
	"github.com/alanyoungcy/signalboard/internal/server/handler"
	"github.com/alanyoungcy/signalboard/internal/server/middleware"
	"github.com/alanyoungcy/signalboard/internal/service"
	"github.com/alanyoungcy/signalboard/internal/strategy"
)

const testKey = "secret-key"

type stubStrategies struct {
	created []service.CreateStrategyRequest
}

func (s *stubStrategies) Create(_ context.Context, req service.CreateStrategyRequest) (domain.Strategy, error) {
	svc := service.NewStrategyService(nil, nil, strategy.NewRegistry(nil), slog.New(slog.NewTextHandler(io.Discard, nil)))
	st, err := svc.Build(req)
	if err != nil {
		return domain.Strategy{}, err
	}
	if _, err := strategy.NewRegistry(nil).Compile(st); err != nil {
		return domain.Strategy{}, err
	}
	s.created = append(s.created, req)
	st.ID = "st-1"
	return st, nil
}

func (s *stubStrategies) Enable(_ context.Context, id string) error {
	if id != "st-1" {
		return domain.ErrNotFound
	}
	return nil
}

func (s *stubStrategies) Disable(ctx context.Context, id string) error { return s.Enable(ctx, id) }

func (s *stubStrategies) List() []strategy.StrategyInfo {
	return []strategy.StrategyInfo{{ID: "st-1", Name: "Golden", Enabled: true}}
}

type stubSignals struct {
	lastFilter domain.SignalFilter
	lastRecent int
}

func (s *stubSignals) List(_ context.Context, f domain.SignalFilter) ([]domain.Signal, error) {
	s.lastFilter = f
	return []domain.Signal{{ID: "sig-1", InstrumentID: f.InstrumentID}}, nil
}

func (s *stubSignals) Get(_ context.Context, id string) (domain.Signal, error) {
	return domain.Signal{}, domain.ErrNotFound
}

func (s *stubSignals) Recent(limit int) []domain.Signal {
	s.lastRecent = limit
	return []domain.Signal{{ID: "live-1"}}
}

type stubInstruments struct{}

func (stubInstruments) List(context.Context) ([]domain.Instrument, error) {
	return []domain.Instrument{{ID: "btc", Symbol: "BTCUSD", Enabled: true}}, nil
}

func (stubInstruments) Snapshot(_ context.Context, id string, tf domain.Timeframe) (domain.MarketSnapshot, error) {
	if id != "btc" {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return domain.MarketSnapshot{Indicators: domain.IndicatorSnapshot{InstrumentID: id, Timeframe: tf, EMA50: 10, EMA50Ready: true}}, nil
}

type fixture struct {
	handler    http.Handler
	strategies *stubStrategies
	signals    *stubSignals
}

func newFixture(t *testing.T, cfg Config, limiter domain.RateLimiter) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := fixture{strategies: &stubStrategies{}, signals: &stubSignals{}}
	srv := NewServer(cfg, Handlers{
		Health:      handler.NewHealthHandler(nil, logger),
		Strategies:  handler.NewStrategyHandler(f.strategies, logger),
		Signals:     handler.NewSignalHandler(f.signals, logger),
		Instruments: handler.NewInstrumentHandler(stubInstruments{}, logger),
		Metrics:     metrics.New().Handler(),
	}, nil, limiter, logger)
	f.handler = srv.Handler()
	return f
}

func (f fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("X-API-Key", testKey)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAuthExemptions(t *testing.T) {
	f := newFixture(t, Config{APIKey: testKey}, nil)

	for _, path := range []string{"/api/health", "/metrics"} {
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/catalog", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/catalog?api_key="+testKey, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCatalog(t *testing.T) {
	f := newFixture(t, Config{APIKey: testKey}, nil)
	rec := f.do(http.MethodGet, "/api/catalog", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.NotEmpty(t, body["conditions"])
	assert.NotEmpty(t, body["presets"])
	assert.Contains(t, body["variables"], "ema200")
}

func TestValidateFormula(t *testing.T) {
	f := newFixture(t, Config{APIKey: testKey}, nil)

	rec := f.do(http.MethodPost, "/api/formulas/validate", `{"formula":"price  >  ema50"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "price > ema50", decode(t, rec)["formula"])

	rec = f.do(http.MethodPost, "/api/formulas/validate", `{"formula":"price > rsi"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "price > rsi", body["formula"])
	assert.Equal(t, float64(8), body["position"])

	rec = f.do(http.MethodPost, "/api/formulas/validate", `{"conditions":["no_such_condition"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateStrategy(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	rec := f.do(http.MethodPost, "/api/strategies", `{"name":"g","timeframe":"5m","preset":"golden_cross_trend"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "st-1", decode(t, rec)["id"])

	rec = f.do(http.MethodPost, "/api/strategies", `{"name":"g","timeframe":"5m","formula":"price >"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec), "position")

	rec = f.do(http.MethodPost, "/api/strategies", `{"name":"g","timeframe":"5m","bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, f.strategies.created, 1)
}

func TestToggleStrategy(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/strategies/st-1/disable", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/strategies/nope/enable", "").Code)
}

func TestListSignalsFilter(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	rec := f.do(http.MethodGet, "/api/signals?instrument_id=btc&since=2026-01-02T03:04:05Z&limit=900", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "btc", f.signals.lastFilter.InstrumentID)
	assert.Equal(t, 500, f.signals.lastFilter.Limit)
	require.NotNil(t, f.signals.lastFilter.Since)
	assert.True(t, f.signals.lastFilter.Since.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/signals?since=yesterday", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/signals/missing", "").Code)
}

func TestRecentSignals(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	rec := f.do(http.MethodGet, "/api/signals/recent?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, f.signals.lastRecent)
	assert.JSONEq(t, `{"signals":[{"id":"live-1","strategyId":"","instrumentId":"","signalType":"","price":0,"timestamp":"0001-01-01T00:00:00Z"}]}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/signals/recent?limit=x", "").Code)
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/instruments/btc/snapshot?timeframe=15m", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/instruments/eth/snapshot", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/instruments/btc/snapshot?timeframe=1h", "").Code)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Config{RateLimit: 2, RateWindow: time.Minute}, middleware.NewLocalLimiter())
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/instruments", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/instruments", "").Code)
	rec := f.do(http.MethodGet, "/api/instruments", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Config{CORSOrigins: []string{"https://app.example"}}, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/strategies", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
