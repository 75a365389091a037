package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/signalboard/internal/domain"
	"github.com/alanyoungcy/signalboard/internal/rules"
	"github.com/alanyoungcy/signalboard/internal/strategy"
)

// CreateStrategyRequest is the input for StrategyService.Create. Exactly one
// of Preset, Conditions or Formula must be set.
type CreateStrategyRequest struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Timeframe     string   `json:"timeframe"`
	Preset        string   `json:"preset,omitempty"`
	Conditions    []string `json:"conditions,omitempty"`
	Operator      string   `json:"operator,omitempty"`
	Formula       string   `json:"formula,omitempty"`
	SignalType    string   `json:"signalType,omitempty"`
	InstrumentIDs []string `json:"instrumentIds,omitempty"`
	Enabled       *bool    `json:"enabled,omitempty"`
}

// StrategyService is the administrative layer over strategies: it compiles
// and persists new strategies and keeps the engine registry in sync.
type StrategyService struct {
	store    domain.StrategyStore
	audit    domain.AuditStore
	registry *strategy.Registry
	logger   *slog.Logger
}

// NewStrategyService creates a StrategyService. audit may be nil.
func NewStrategyService(
	store domain.StrategyStore,
	audit domain.AuditStore,
	registry *strategy.Registry,
	logger *slog.Logger,
) *StrategyService {
	return &StrategyService{
		store:    store,
		audit:    audit,
		registry: registry,
		logger:   logger.With(slog.String("component", "strategy_service")),
	}
}

// Build turns a request into a Strategy without persisting it. Presets are
// expanded into their conditions first.
func (s *StrategyService) Build(req CreateStrategyRequest) (domain.Strategy, error) {
	tf, err := domain.ParseTimeframe(req.Timeframe)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: %w: %v", domain.ErrInvalidStrategy, err)
	}

	st := domain.Strategy{
		Name:          strings.TrimSpace(req.Name),
		Description:   req.Description,
		Timeframe:     tf,
		Enabled:       req.Enabled == nil || *req.Enabled,
		Conditions:    req.Conditions,
		Operator:      domain.LogicOperator(req.Operator),
		Formula:       req.Formula,
		SignalType:    req.SignalType,
		InstrumentIDs: req.InstrumentIDs,
	}

	if req.Preset != "" {
		if len(req.Conditions) > 0 || strings.TrimSpace(req.Formula) != "" {
			return domain.Strategy{}, fmt.Errorf("strategy_service: %w: preset excludes conditions and formula", domain.ErrInvalidStrategy)
		}
		p, ok := rules.LookupPreset(req.Preset)
		if !ok {
			return domain.Strategy{}, fmt.Errorf("strategy_service: %w: unknown preset %q", domain.ErrInvalidStrategy, req.Preset)
		}
		st.Preset = p.Key
		st.Conditions = p.Conditions
		st.Operator = p.Operator
		if st.Name == "" {
			st.Name = p.Name
		}
		if st.Description == "" {
			st.Description = p.Description
		}
	}
	return st, nil
}

// Create compiles, persists and registers a new strategy. A strategy that
// does not compile is never stored.
func (s *StrategyService) Create(ctx context.Context, req CreateStrategyRequest) (domain.Strategy, error) {
	st, err := s.Build(req)
	if err != nil {
		return domain.Strategy{}, err
	}
	st.ID = uuid.NewString()
	st.CreatedAt = time.Now().UTC()

	entry, err := s.registry.Compile(st)
	if err != nil {
		return domain.Strategy{}, err
	}
	st = entry.Strategy

	if err := s.store.Create(ctx, st); err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: create: %w", err)
	}
	if _, err := s.registry.Register(st); err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: register: %w", err)
	}

	s.logAudit(ctx, "strategy.created", map[string]any{
		"strategy_id": st.ID,
		"name":        st.Name,
		"formula":     entry.Predicate.Formula(),
		"signal_type": st.SignalType,
	})
	s.logger.InfoContext(ctx, "strategy created",
		slog.String("strategy_id", st.ID),
		slog.String("name", st.Name),
		slog.String("formula", entry.Predicate.Formula()),
	)
	return st, nil
}

// Enable resumes evaluation of a strategy.
func (s *StrategyService) Enable(ctx context.Context, id string) error {
	return s.setEnabled(ctx, id, true)
}

// Disable stops evaluation of a strategy.
func (s *StrategyService) Disable(ctx context.Context, id string) error {
	return s.setEnabled(ctx, id, false)
}

func (s *StrategyService) setEnabled(ctx context.Context, id string, enabled bool) error {
	if err := s.store.SetEnabled(ctx, id, enabled); err != nil {
		return fmt.Errorf("strategy_service: set enabled %q: %w", id, err)
	}
	if err := s.registry.SetEnabled(id, enabled); err != nil {
		return fmt.Errorf("strategy_service: set enabled %q: %w", id, err)
	}

	event := "strategy.disabled"
	if enabled {
		event = "strategy.enabled"
	}
	s.logAudit(ctx, event, map[string]any{"strategy_id": id})
	s.logger.InfoContext(ctx, event, slog.String("strategy_id", id))
	return nil
}

// List returns the registered strategies with their runtime counters.
func (s *StrategyService) List() []strategy.StrategyInfo {
	return s.registry.ListInfo()
}

// Get returns one registered strategy.
func (s *StrategyService) Get(id string) (domain.Strategy, error) {
	e, err := s.registry.Get(id)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: get: %w", err)
	}
	return e.Strategy, nil
}

// Load registers every stored strategy. Strategies that no longer compile
// are logged and skipped so one bad row cannot block startup.
func (s *StrategyService) Load(ctx context.Context) (int, error) {
	list, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("strategy_service: load: %w", err)
	}
	loaded := 0
	for _, st := range list {
		if _, err := s.registry.Register(st); err != nil {
			s.logger.WarnContext(ctx, "skipping strategy that does not compile",
				slog.String("strategy_id", st.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		loaded++
	}
	s.logger.InfoContext(ctx, "strategies loaded",
		slog.Int("loaded", loaded),
		slog.Int("stored", len(list)),
	)
	return loaded, nil
}

// ValidateFormula compiles a raw formula, or a condition list joined with
// op, and returns its canonical text.
func ValidateFormula(formula string, conditions []string, op string) (string, error) {
	if strings.TrimSpace(formula) != "" {
		p, err := rules.Compile(formula)
		if err != nil {
			return "", err
		}
		return p.Formula(), nil
	}
	lop, ok := domain.ParseLogicOperator(op)
	if !ok {
		return "", fmt.Errorf("%w: unknown operator %q", domain.ErrInvalidStrategy, op)
	}
	joined, err := rules.Join(conditions, lop)
	if err != nil {
		return "", err
	}
	p, err := rules.Compile(joined)
	if err != nil {
		return "", err
	}
	return p.Formula(), nil
}

func (s *StrategyService) logAudit(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
