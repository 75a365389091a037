// Package feed adapts external market data sources to the rule engine. Every
// source delivers JSON samples that are decoded here and handed to a Sink.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

// Sink receives decoded samples. strategy.Engine implements it.
type Sink interface {
	Ingest(ctx context.Context, sample domain.Sample) error
}

// sampleEvent is the wire shape of one sample. The timestamp is either an
// RFC 3339 string or Unix milliseconds.
type sampleEvent struct {
	InstrumentID string          `json:"instrumentId"`
	Symbol       string          `json:"symbol"`
	Timeframe    string          `json:"timeframe"`
	Open         float64         `json:"open"`
	High         float64         `json:"high"`
	Low          float64         `json:"low"`
	Close        float64         `json:"close"`
	Volume       float64         `json:"volume"`
	Timestamp    json.RawMessage `json:"timestamp"`
}

// DecodeSample parses and validates one sample message.
func DecodeSample(data []byte) (domain.Sample, error) {
	var ev sampleEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return domain.Sample{}, fmt.Errorf("feed: decode sample: %w", err)
	}
	id := ev.InstrumentID
	if id == "" {
		id = ev.Symbol
	}
	ts, err := parseTimestamp(ev.Timestamp)
	if err != nil {
		return domain.Sample{}, fmt.Errorf("feed: decode sample %s: %w", id, err)
	}
	s := domain.Sample{
		InstrumentID: id,
		Timeframe:    domain.Timeframe(ev.Timeframe),
		Open:         ev.Open,
		High:         ev.High,
		Low:          ev.Low,
		Close:        ev.Close,
		Volume:       ev.Volume,
		Timestamp:    ts,
	}
	if err := s.Validate(); err != nil {
		return domain.Sample{}, fmt.Errorf("feed: %w", err)
	}
	return s, nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, fmt.Errorf("timestamp is required")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
		}
		return t.UTC(), nil
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %s: %w", raw, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
