package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SignalFilter narrows a signal listing.
type SignalFilter struct {
	ListOpts
	InstrumentID string
	StrategyID   string
}

// SignalStore persists fired signals. Append returns the durable id.
type SignalStore interface {
	Append(ctx context.Context, sig Signal) (string, error)
	UpdateStatus(ctx context.Context, id string, status SignalStatus) error
	GetByID(ctx context.Context, id string) (Signal, error)
	List(ctx context.Context, filter SignalFilter) ([]Signal, error)
	// ListBetween returns signals with from <= ts < before, oldest first.
	ListBetween(ctx context.Context, from, before time.Time) ([]Signal, error)
}

// WatermarkStore persists how far each archive kind has been exported. A kind
// with no watermark reports the zero time.
type WatermarkStore interface {
	Watermark(ctx context.Context, kind string) (time.Time, error)
	SetWatermark(ctx context.Context, kind string, until time.Time) error
}

// StrategyStore persists strategy definitions.
type StrategyStore interface {
	Create(ctx context.Context, s Strategy) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	GetByID(ctx context.Context, id string) (Strategy, error)
	List(ctx context.Context) ([]Strategy, error)
}

// InstrumentStore provides read access to instruments.
type InstrumentStore interface {
	GetByID(ctx context.Context, id string) (Instrument, error)
	List(ctx context.Context) ([]Instrument, error)
}

// AuditStore appends to the audit log. Entries are never read back by the
// application.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}
