package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/signalboard/internal/domain"
	"github.com/alanyoungcy/signalboard/internal/rules"
)

// Entry is a registered strategy together with its compiled predicate.
// Entries are immutable; enabling or disabling swaps in a copy.
type Entry struct {
	Strategy   domain.Strategy
	Predicate  *rules.Predicate
	Hash       uint64
	SignalType string
	Direction  domain.Direction
}

// StrategyInfo holds runtime info for a registered strategy (for status APIs).
type StrategyInfo struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Enabled     bool       `json:"enabled"`
	Formula     string     `json:"formula"`
	SignalsSent int64      `json:"signalsSent"`
	LastSignal  *time.Time `json:"lastSignal,omitempty"`
}

type runtimeStats struct {
	signals    int64
	lastSignal time.Time
}

// Registry owns the strategies the engine evaluates. It is safe for
// concurrent use.
type Registry struct {
	compiler *rules.Compiler
	mu       sync.RWMutex
	entries  map[string]*Entry
	stats    map[string]*runtimeStats
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry(compiler *rules.Compiler) *Registry {
	if compiler == nil {
		compiler = rules.NewCompiler()
	}
	return &Registry{
		compiler: compiler,
		entries:  make(map[string]*Entry),
		stats:    make(map[string]*runtimeStats),
	}
}

// Compile validates s and builds its entry without registering it. Errors
// are *rules.CompileError for bad formulas, or wrap domain.ErrInvalidStrategy
// or domain.ErrUnknownCondition.
func (r *Registry) Compile(s domain.Strategy) (*Entry, error) {
	if strings.TrimSpace(s.Name) == "" {
		return nil, fmt.Errorf("strategy: %w: name is required", domain.ErrInvalidStrategy)
	}
	if !s.Timeframe.Valid() {
		return nil, fmt.Errorf("strategy: %w: unknown timeframe %q", domain.ErrInvalidStrategy, s.Timeframe)
	}

	var (
		pred *rules.Predicate
		err  error
	)
	switch {
	case s.IsFormula() && len(s.Conditions) > 0:
		return nil, fmt.Errorf("strategy: %w: conditions and formula are mutually exclusive", domain.ErrInvalidStrategy)
	case s.IsFormula():
		pred, err = r.compiler.Compile(s.Formula)
	case len(s.Conditions) > 0:
		op, ok := domain.ParseLogicOperator(string(s.Operator))
		if !ok {
			return nil, fmt.Errorf("strategy: %w: unknown operator %q", domain.ErrInvalidStrategy, s.Operator)
		}
		s.Operator = op
		pred, err = r.compiler.CompileConditions(s.Conditions, op)
	default:
		return nil, fmt.Errorf("strategy: %w: conditions or formula required", domain.ErrInvalidStrategy)
	}
	if err != nil {
		return nil, err
	}

	e := &Entry{Strategy: s, Predicate: pred, Hash: pred.Hash()}
	e.SignalType, e.Direction = rules.SignalTypeCustom, domain.DirectionNeutral
	if !s.IsFormula() {
		e.SignalType, e.Direction = rules.SignalType(s.Conditions)
	}
	if s.SignalType != "" {
		e.SignalType = s.SignalType
	}
	e.Strategy.SignalType = e.SignalType
	return e, nil
}

// Register compiles s and adds it under its id, replacing any previous entry
// with that id.
func (r *Registry) Register(s domain.Strategy) (*Entry, error) {
	if s.ID == "" {
		return nil, fmt.Errorf("strategy: %w: id is required", domain.ErrInvalidStrategy)
	}
	e, err := r.Compile(s)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[s.ID] = e
	if _, ok := r.stats[s.ID]; !ok {
		r.stats[s.ID] = &runtimeStats{}
	}
	return e, nil
}

// SetEnabled flips the enabled flag of a registered strategy.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("strategy %q: %w", id, domain.ErrNotFound)
	}
	cp := *e
	cp.Strategy.Enabled = enabled
	r.entries[id] = &cp
	return nil
}

// Disable stops evaluation of a strategy. Its edge state is dropped.
func (r *Registry) Disable(id string) error { return r.SetEnabled(id, false) }

// Enable resumes evaluation of a strategy, starting armed.
func (r *Registry) Enable(id string) error { return r.SetEnabled(id, true) }

// Get returns the entry registered under id.
func (r *Registry) Get(id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

// Active returns the enabled entries for a timeframe that watch the given
// instrument, ordered by id.
func (r *Registry) Active(tf domain.Timeframe, instrumentID string) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Strategy.Enabled && e.Strategy.Timeframe == tf && e.Strategy.AppliesTo(instrumentID) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strategy.ID < out[j].Strategy.ID })
	return out
}

// List returns every registered strategy ordered by id.
func (r *Registry) List() []domain.Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Strategy, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Strategy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListInfo returns runtime info for all registered strategies.
func (r *Registry) ListInfo() []StrategyInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]StrategyInfo, 0, len(r.entries))
	for id, e := range r.entries {
		info := StrategyInfo{
			ID:      id,
			Name:    e.Strategy.Name,
			Enabled: e.Strategy.Enabled,
			Formula: e.Predicate.Formula(),
		}
		if st := r.stats[id]; st != nil && st.signals > 0 {
			last := st.lastSignal
			info.SignalsSent = st.signals
			info.LastSignal = &last
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (r *Registry) recordSignal(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stats[id]
	if !ok {
		st = &runtimeStats{}
		r.stats[id] = st
	}
	st.signals++
	st.lastSignal = at
}
