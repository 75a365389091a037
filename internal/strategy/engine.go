// Package strategy evaluates registered trading rules against the sample
// stream and commits the signals they fire.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/signalboard/internal/domain"
	"github.com/alanyoungcy/signalboard/internal/indicator"
	"github.com/alanyoungcy/signalboard/internal/metrics"
	"github.com/alanyoungcy/signalboard/internal/rules"
)

// EngineConfig tunes the engine. Zero values take defaults.
type EngineConfig struct {
	QueueSize      int
	PersistTimeout time.Duration
	RecentLimit    int
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 2 * time.Second
	}
	if c.RecentLimit <= 0 {
		c.RecentLimit = 500
	}
	return c
}

type pairKey struct {
	instrumentID string
	timeframe    domain.Timeframe
}

// edgeState is the Armed/Fired state of one strategy on one pair. It is
// reset when the strategy's structural hash changes.
type edgeState struct {
	hash  uint64
	fired bool
}

// pipeline owns everything order-dependent for one (instrument, timeframe).
type pipeline struct {
	mu     sync.Mutex
	series *indicator.Series
	edges  map[string]edgeState
	queue  chan domain.Sample
}

// Engine runs one sequential pipeline per (instrument, timeframe): indicator
// update, predicate evaluation for every enabled strategy, and edge-triggered
// signal commit. Different pairs proceed in parallel.
type Engine struct {
	registry  *Registry
	store     domain.SignalStore
	publisher Publisher
	notifier  Notifier
	snapshots domain.SnapshotCache
	metrics   *metrics.Metrics
	cfg       EngineConfig
	logger    *slog.Logger

	mu          sync.Mutex
	pipelines   map[pairKey]*pipeline
	instruments map[string]domain.Instrument
	runCtx      context.Context
	stopped     bool
	ready       chan struct{}
	readyOnce   sync.Once
	wg          sync.WaitGroup

	recentMu      sync.Mutex
	recentSignals []domain.Signal
}

// NewEngine creates an Engine that persists fired signals to store.
func NewEngine(registry *Registry, store domain.SignalStore, cfg EngineConfig, logger *slog.Logger) *Engine {
	return &Engine{
		registry:    registry,
		store:       store,
		metrics:     metrics.New(),
		cfg:         cfg.withDefaults(),
		logger:      logger.With(slog.String("component", "strategy_engine")),
		pipelines:   make(map[pairKey]*pipeline),
		instruments: make(map[string]domain.Instrument),
		ready:       make(chan struct{}),
	}
}

// SetPublisher sets the delivery channel fired signals are broadcast on.
func (e *Engine) SetPublisher(p Publisher) { e.publisher = p }

// SetNotifier sets the notification fan-out.
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// SetSnapshotCache sets where the latest sample and indicators are mirrored.
func (e *Engine) SetSnapshotCache(c domain.SnapshotCache) { e.snapshots = c }

// SetMetrics replaces the engine's collectors.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	if m != nil {
		e.metrics = m
	}
}

// SetInstruments replaces the instrument directory used for names and the
// enabled check. Instruments absent from the directory are evaluated and
// named by id.
func (e *Engine) SetInstruments(list []domain.Instrument) {
	m := make(map[string]domain.Instrument, len(list))
	for _, inst := range list {
		m[inst.ID] = inst
	}
	e.mu.Lock()
	e.instruments = m
	e.mu.Unlock()
}

// Registry returns the strategy registry the engine reads from.
func (e *Engine) Registry() *Registry { return e.registry }

// Run enables Ingest and blocks until ctx is cancelled, then waits for the
// pipeline goroutines to exit. Samples still queued at cancellation are
// dropped, not processed.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.runCtx = ctx
	e.mu.Unlock()
	e.readyOnce.Do(func() { close(e.ready) })
	e.logger.Info("strategy engine started")

	<-ctx.Done()

	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.wg.Wait()
	e.logger.Info("strategy engine stopped")
	return ctx.Err()
}

// Ready is closed once Run has started and Ingest accepts samples.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// Ingest queues a sample on its pair's pipeline. It blocks while the queue is
// full so samples are never dropped or reordered.
func (e *Engine) Ingest(ctx context.Context, sample domain.Sample) error {
	if err := sample.Validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	p, runCtx, err := e.startedPipeline(sample.InstrumentID, sample.Timeframe)
	if err != nil {
		return err
	}
	select {
	case p.queue <- sample:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-runCtx.Done():
		return fmt.Errorf("ingest: %w", domain.ErrChannelClosed)
	}
}

func (e *Engine) startedPipeline(instrumentID string, tf domain.Timeframe) (*pipeline, context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runCtx == nil {
		return nil, nil, fmt.Errorf("ingest: engine not running")
	}
	if e.stopped || e.runCtx.Err() != nil {
		return nil, nil, fmt.Errorf("ingest: %w", domain.ErrChannelClosed)
	}
	p := e.pipelineLocked(instrumentID, tf)
	if p.queue == nil {
		p.queue = make(chan domain.Sample, e.cfg.QueueSize)
		e.wg.Add(1)
		go e.runPipeline(e.runCtx, p)
	}
	return p, e.runCtx, nil
}

func (e *Engine) runPipeline(ctx context.Context, p *pipeline) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-p.queue:
			// Errors are logged and counted inside Process.
			_, _ = e.Process(ctx, s)
		}
	}
}

func (e *Engine) pipelineLocked(instrumentID string, tf domain.Timeframe) *pipeline {
	key := pairKey{instrumentID, tf}
	p, ok := e.pipelines[key]
	if !ok {
		p = &pipeline{
			series: indicator.NewSeries(instrumentID, tf),
			edges:  make(map[string]edgeState),
		}
		e.pipelines[key] = p
	}
	return p
}

// Process runs one sample through its pair's pipeline synchronously and
// returns the signals it fired. A rejected out-of-order sample returns an
// error wrapping domain.ErrFeedGap.
func (e *Engine) Process(ctx context.Context, sample domain.Sample) ([]domain.Signal, error) {
	if err := sample.Validate(); err != nil {
		return nil, fmt.Errorf("process: %w", err)
	}

	e.mu.Lock()
	p := e.pipelineLocked(sample.InstrumentID, sample.Timeframe)
	inst, known := e.instruments[sample.InstrumentID]
	e.mu.Unlock()

	if known && !inst.Enabled {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	snap, err := p.series.Update(sample)
	if err != nil {
		if errors.Is(err, domain.ErrFeedGap) {
			e.metrics.FeedGaps.WithLabelValues("rejected").Inc()
			e.logger.Warn("out-of-order sample rejected",
				slog.String("instrument", sample.InstrumentID),
				slog.String("timeframe", string(sample.Timeframe)),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}
	e.metrics.SamplesIngested.WithLabelValues(string(sample.Timeframe)).Inc()
	if snap.Gap {
		e.metrics.FeedGaps.WithLabelValues("skipped").Inc()
		e.logger.Info("sample gap flagged",
			slog.String("instrument", sample.InstrumentID),
			slog.String("timeframe", string(sample.Timeframe)),
			slog.Time("timestamp", sample.Timestamp),
		)
	}
	e.cacheSnapshot(ctx, sample, snap)

	rec := rules.NewRecord(sample, snap)
	active := e.registry.Active(sample.Timeframe, sample.InstrumentID)
	edges := make(map[string]edgeState, len(active))
	var fired []*Entry
	for _, entry := range active {
		id := entry.Strategy.ID
		prev := p.edges[id]
		if prev.hash != entry.Hash {
			prev = edgeState{}
		}
		met := e.evaluate(entry, rec, sample)
		if met && !prev.fired {
			fired = append(fired, entry)
		}
		edges[id] = edgeState{hash: entry.Hash, fired: met}
	}
	// Strategies that were disabled or dropped start armed when they return.
	p.edges = edges

	out := make([]domain.Signal, 0, len(fired))
	for _, entry := range fired {
		if sig, ok := e.commit(ctx, entry, sample, inst, known); ok {
			out = append(out, sig)
		}
	}
	return out, nil
}

func (e *Engine) evaluate(entry *Entry, rec rules.Record, sample domain.Sample) bool {
	e.metrics.Evaluations.Inc()
	ok, err := entry.Predicate.Eval(rec)
	if err == nil {
		return ok
	}
	switch {
	case errors.Is(err, rules.ErrNotReady):
		e.metrics.EvaluationErrors.WithLabelValues("not_ready").Inc()
		return false
	case errors.Is(err, rules.ErrDivisionByZero):
		e.metrics.EvaluationErrors.WithLabelValues("division_by_zero").Inc()
	default:
		e.metrics.EvaluationErrors.WithLabelValues("other").Inc()
	}
	e.logger.Warn("predicate evaluation failed",
		slog.String("strategy", entry.Strategy.ID),
		slog.String("instrument", sample.InstrumentID),
		slog.String("timeframe", string(sample.Timeframe)),
		slog.String("error", err.Error()),
	)
	return false
}

// commit persists, broadcasts and hands off a fired signal. Neither the
// store nor the delivery channel can stop the signal from being emitted.
// commit persists, publishes and notifies one fired signal. It reports false
// when the signal was already committed by an earlier run.
func (e *Engine) commit(ctx context.Context, entry *Entry, sample domain.Sample, inst domain.Instrument, known bool) (domain.Signal, bool) {
	sig := domain.Signal{
		ID:             uuid.NewString(),
		StrategyID:     entry.Strategy.ID,
		StrategyName:   entry.Strategy.Name,
		InstrumentID:   sample.InstrumentID,
		InstrumentName: sample.InstrumentID,
		Timeframe:      sample.Timeframe,
		SignalType:     entry.SignalType,
		Direction:      entry.Direction,
		Price:          sample.Close,
		Timestamp:      sample.Timestamp,
		Status:         domain.SignalStatusPending,
	}
	if known {
		sig.InstrumentName = inst.Name()
	}

	persisted := false
	if e.store != nil {
		pctx, cancel := context.WithTimeout(ctx, e.cfg.PersistTimeout)
		id, err := e.store.Append(pctx, sig)
		cancel()
		switch {
		case errors.Is(err, domain.ErrAlreadyExists):
			e.logger.Debug("signal already committed",
				slog.String("strategy", sig.StrategyID),
				slog.String("instrument", sig.InstrumentID),
				slog.Time("ts", sig.Timestamp),
			)
			return sig, false
		case err != nil:
			e.metrics.PersistFailures.Inc()
			e.logger.Error("persist signal failed",
				slog.String("signal_id", sig.ID),
				slog.String("strategy", sig.StrategyID),
				slog.String("error", err.Error()),
			)
		default:
			persisted = true
			if id != "" {
				sig.ID = id
			}
		}
	}

	if e.publisher != nil {
		if err := e.publisher.PublishSignal(ctx, sig); err != nil {
			e.metrics.PublishFailures.Inc()
			e.logger.Warn("publish signal failed",
				slog.String("signal_id", sig.ID),
				slog.String("error", err.Error()),
			)
		} else {
			sig.Status = domain.SignalStatusBroadcast
			if persisted {
				e.updateStatus(ctx, sig.ID, sig.Status)
			}
		}
	}

	if e.notifier != nil && !e.notifier.Enqueue(sig, persisted) {
		e.metrics.NotifyDropped.Inc()
	}

	e.metrics.SignalsFired.WithLabelValues(sig.SignalType).Inc()
	e.registry.recordSignal(sig.StrategyID, sig.Timestamp)
	e.rememberSignal(sig)
	e.logger.Info("signal fired",
		slog.String("signal_id", sig.ID),
		slog.String("strategy", sig.StrategyID),
		slog.String("instrument", sig.InstrumentID),
		slog.String("signal_type", sig.SignalType),
		slog.Float64("price", sig.Price),
	)
	return sig, true
}

func (e *Engine) updateStatus(ctx context.Context, id string, status domain.SignalStatus) {
	uctx, cancel := context.WithTimeout(ctx, e.cfg.PersistTimeout)
	defer cancel()
	if err := e.store.UpdateStatus(uctx, id, status); err != nil {
		e.logger.Warn("update signal status failed",
			slog.String("signal_id", id),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) cacheSnapshot(ctx context.Context, sample domain.Sample, snap domain.IndicatorSnapshot) {
	if e.snapshots == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, e.cfg.PersistTimeout)
	defer cancel()
	if err := e.snapshots.SetSnapshot(cctx, domain.MarketSnapshot{Sample: sample, Indicators: snap}); err != nil {
		e.logger.Debug("snapshot cache write failed",
			slog.String("instrument", sample.InstrumentID),
			slog.String("error", err.Error()),
		)
	}
}

// Snapshot returns the indicator values of a pair as of its last sample.
func (e *Engine) Snapshot(instrumentID string, tf domain.Timeframe) (domain.IndicatorSnapshot, bool) {
	e.mu.Lock()
	p, ok := e.pipelines[pairKey{instrumentID, tf}]
	e.mu.Unlock()
	if !ok {
		return domain.IndicatorSnapshot{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.series.Snapshot(), p.series.Count() > 0
}

// RecentSignals returns up to limit most recent emitted signals, newest
// first.
func (e *Engine) RecentSignals(limit int) []domain.Signal {
	if limit <= 0 {
		limit = 20
	}
	e.recentMu.Lock()
	defer e.recentMu.Unlock()
	n := len(e.recentSignals)
	if limit > n {
		limit = n
	}
	out := make([]domain.Signal, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.recentSignals[i])
	}
	return out
}

func (e *Engine) rememberSignal(sig domain.Signal) {
	e.recentMu.Lock()
	defer e.recentMu.Unlock()
	e.recentSignals = append(e.recentSignals, sig)
	if overflow := len(e.recentSignals) - e.cfg.RecentLimit; overflow > 0 {
		e.recentSignals = append([]domain.Signal(nil), e.recentSignals[overflow:]...)
	}
}
