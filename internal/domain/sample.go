package domain

import (
	"fmt"
	"time"
)

// Timeframe is the candle interval a Sample belongs to.
type Timeframe string

const (
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
)

// ParseTimeframe validates s and returns the matching Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.Valid() {
		return "", fmt.Errorf("unknown timeframe %q (valid: 5m, 15m)", s)
	}
	return tf, nil
}

// Valid reports whether tf is a supported timeframe.
func (tf Timeframe) Valid() bool {
	return tf == Timeframe5m || tf == Timeframe15m
}

// Duration returns the candle interval length.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	default:
		return 0
	}
}

// Sample is one OHLCV observation for an instrument at a timeframe. Samples
// are immutable and arrive in timestamp order per (instrument, timeframe).
type Sample struct {
	InstrumentID string    `json:"instrumentId"`
	Timeframe    Timeframe `json:"timeframe"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       float64   `json:"volume"`
	Timestamp    time.Time `json:"timestamp"`
}

// Validate checks the fields the engine depends on.
func (s Sample) Validate() error {
	if s.InstrumentID == "" {
		return fmt.Errorf("sample: instrument id is required")
	}
	if !s.Timeframe.Valid() {
		return fmt.Errorf("sample: unknown timeframe %q", s.Timeframe)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("sample: timestamp is required")
	}
	return nil
}

// IndicatorSnapshot holds derived values computed as of a Sample. A value is
// only meaningful when its Ready flag is set.
type IndicatorSnapshot struct {
	InstrumentID string    `json:"instrumentId"`
	Timeframe    Timeframe `json:"timeframe"`
	Timestamp    time.Time `json:"timestamp"`
	EMA50        float64   `json:"ema50"`
	EMA50Ready   bool      `json:"ema50Ready"`
	EMA200       float64   `json:"ema200"`
	EMA200Ready  bool      `json:"ema200Ready"`
	// Gap is set when the sample arrived more than one interval after the
	// previous one.
	Gap bool `json:"gap,omitempty"`
}
