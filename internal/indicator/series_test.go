package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

var t0 = time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)

func sample(i int, close float64) domain.Sample {
	return domain.Sample{
		InstrumentID: "NIFTY",
		Timeframe:    domain.Timeframe5m,
		Open:         close,
		High:         close,
		Low:          close,
		Close:        close,
		Volume:       100,
		Timestamp:    t0.Add(time.Duration(i) * 5 * time.Minute),
	}
}

func TestEMASeedsWithSimpleAverage(t *testing.T) {
	e := NewEMA(3)
	e.Update(1)
	e.Update(2)
	assert.False(t, e.Ready())
	assert.Equal(t, 2.0, e.Update(3))
	assert.True(t, e.Ready())
	// k = 0.5
	assert.Equal(t, 3.0, e.Update(4))
}

func TestSeriesReadiness(t *testing.T) {
	s := NewSeries("NIFTY", domain.Timeframe5m)
	var snap domain.IndicatorSnapshot
	var err error
	for i := 0; i < SlowPeriod; i++ {
		snap, err = s.Update(sample(i, 100))
		require.NoError(t, err)
		if i == FastPeriod-2 {
			assert.False(t, snap.EMA50Ready)
		}
		if i == FastPeriod-1 {
			assert.True(t, snap.EMA50Ready)
			assert.InDelta(t, 100, snap.EMA50, 1e-12)
		}
		if i < SlowPeriod-1 {
			assert.False(t, snap.EMA200Ready)
		}
	}
	assert.True(t, snap.EMA200Ready)
	assert.InDelta(t, 100, snap.EMA200, 1e-12)
}

func TestEMAMonotonicOnIncreasingPrices(t *testing.T) {
	s := NewSeries("NIFTY", domain.Timeframe5m)
	var prev domain.IndicatorSnapshot
	for i := 0; i < 300; i++ {
		snap, err := s.Update(sample(i, 1000+float64(i)*0.75))
		require.NoError(t, err)
		if prev.EMA50Ready {
			assert.GreaterOrEqual(t, snap.EMA50, prev.EMA50)
		}
		if prev.EMA200Ready {
			assert.GreaterOrEqual(t, snap.EMA200, prev.EMA200)
		}
		prev = snap
	}
	assert.True(t, prev.EMA200Ready)
}

func TestFeedGapRejectsRegression(t *testing.T) {
	s := NewSeries("NIFTY", domain.Timeframe5m)
	_, err := s.Update(sample(5, 100))
	require.NoError(t, err)

	_, err = s.Update(sample(5, 101))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFeedGap)
	assert.True(t, IsFeedGap(err))

	_, err = s.Update(sample(4, 101))
	var gap *FeedGapError
	require.ErrorAs(t, err, &gap)
	assert.Equal(t, sample(5, 0).Timestamp, gap.Last)
	assert.Equal(t, int64(1), s.Count(), "rejected samples leave state untouched")
}

func TestSeriesFlagsSkippedIntervals(t *testing.T) {
	s := NewSeries("NIFTY", domain.Timeframe5m)
	snap, err := s.Update(sample(0, 100))
	require.NoError(t, err)
	assert.False(t, snap.Gap)

	snap, err = s.Update(sample(1, 100))
	require.NoError(t, err)
	assert.False(t, snap.Gap)

	snap, err = s.Update(sample(4, 100))
	require.NoError(t, err)
	assert.True(t, snap.Gap)
	assert.Equal(t, int64(3), s.Count())
}

func TestSeriesRejectsForeignPair(t *testing.T) {
	s := NewSeries("NIFTY", domain.Timeframe5m)
	other := sample(0, 50)
	other.Timeframe = domain.Timeframe15m
	_, err := s.Update(other)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrFeedGap)
	assert.Zero(t, s.Count())
}
