// Package indicator derives rolling technical values from the sample stream
// of each (instrument, timeframe) pair.
package indicator

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

const (
	FastPeriod = 50
	SlowPeriod = 200
)

// FeedGapError reports a sample whose timestamp is not after the previous
// sample of the same pair. The sample is rejected and state is unchanged.
type FeedGapError struct {
	InstrumentID string
	Timeframe    domain.Timeframe
	Last         time.Time
	Got          time.Time
}

func (e *FeedGapError) Error() string {
	return fmt.Sprintf("indicator: %s/%s: sample at %s is not after %s",
		e.InstrumentID, e.Timeframe, e.Got.Format(time.RFC3339), e.Last.Format(time.RFC3339))
}

func (e *FeedGapError) Unwrap() error { return domain.ErrFeedGap }

// Series holds the rolling state of one (instrument, timeframe) pair. It is
// not safe for concurrent use; the owning pipeline serializes access.
type Series struct {
	instrumentID string
	timeframe    domain.Timeframe
	fast         *EMA
	slow         *EMA
	last         time.Time
	count        int64
}

// NewSeries returns an empty series for the pair.
func NewSeries(instrumentID string, tf domain.Timeframe) *Series {
	return &Series{
		instrumentID: instrumentID,
		timeframe:    tf,
		fast:         NewEMA(FastPeriod),
		slow:         NewEMA(SlowPeriod),
	}
}

// Update folds a sample into the series and returns the snapshot as of that
// sample. Out-of-order or duplicate timestamps are rejected with a
// FeedGapError. A jump of more than one interval is flagged via Gap.
func (s *Series) Update(sample domain.Sample) (domain.IndicatorSnapshot, error) {
	if sample.InstrumentID != s.instrumentID || sample.Timeframe != s.timeframe {
		return domain.IndicatorSnapshot{}, fmt.Errorf("indicator: sample %s/%s fed to series %s/%s",
			sample.InstrumentID, sample.Timeframe, s.instrumentID, s.timeframe)
	}
	if !s.last.IsZero() && !sample.Timestamp.After(s.last) {
		return domain.IndicatorSnapshot{}, &FeedGapError{
			InstrumentID: s.instrumentID,
			Timeframe:    s.timeframe,
			Last:         s.last,
			Got:          sample.Timestamp,
		}
	}

	gap := false
	if interval := s.timeframe.Duration(); !s.last.IsZero() && interval > 0 {
		gap = sample.Timestamp.Sub(s.last) > interval
	}

	s.fast.Update(sample.Close)
	s.slow.Update(sample.Close)
	s.last = sample.Timestamp
	s.count++

	return s.snapshot(gap), nil
}

// Snapshot returns the values as of the last accepted sample.
func (s *Series) Snapshot() domain.IndicatorSnapshot { return s.snapshot(false) }

// Count returns the number of accepted samples.
func (s *Series) Count() int64 { return s.count }

func (s *Series) snapshot(gap bool) domain.IndicatorSnapshot {
	return domain.IndicatorSnapshot{
		InstrumentID: s.instrumentID,
		Timeframe:    s.timeframe,
		Timestamp:    s.last,
		EMA50:        s.fast.Value(),
		EMA50Ready:   s.fast.Ready(),
		EMA200:       s.slow.Value(),
		EMA200Ready:  s.slow.Ready(),
		Gap:          gap,
	}
}
