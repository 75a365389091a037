package rules

import (
	"math"
	"time"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

const (
	slotPrice = iota
	slotOpen
	slotHigh
	slotLow
	slotClose
	slotVolume
	slotEMA50
	slotEMA200
	slotTimestamp
	numSlots
)

// variables is the complete identifier surface a formula may reference.
var variables = map[string]int{
	"price":     slotPrice,
	"open":      slotOpen,
	"high":      slotHigh,
	"low":       slotLow,
	"close":     slotClose,
	"volume":    slotVolume,
	"ema50":     slotEMA50,
	"ema200":    slotEMA200,
	"timestamp": slotTimestamp,
}

// exactSlots hold integer-like values compared bit-for-bit by == and !=.
var exactSlots = map[int]bool{
	slotVolume:    true,
	slotTimestamp: true,
}

// Variables returns the names a formula may reference.
func Variables() []string {
	return []string{"price", "open", "high", "low", "close", "volume", "ema50", "ema200", "timestamp"}
}

// Record is the fixed input of a compiled predicate. NaN marks a value that
// is not available yet, such as an EMA still warming up.
type Record struct {
	Price     float64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	EMA50     float64
	EMA200    float64
	Timestamp time.Time
}

// NewRecord builds the predicate input for a sample and the indicator values
// computed as of that sample. Price is the candle close.
func NewRecord(s domain.Sample, ind domain.IndicatorSnapshot) Record {
	r := Record{
		Price:     s.Close,
		Open:      s.Open,
		High:      s.High,
		Low:       s.Low,
		Close:     s.Close,
		Volume:    s.Volume,
		EMA50:     math.NaN(),
		EMA200:    math.NaN(),
		Timestamp: s.Timestamp,
	}
	if ind.EMA50Ready {
		r.EMA50 = ind.EMA50
	}
	if ind.EMA200Ready {
		r.EMA200 = ind.EMA200
	}
	return r
}

func (r Record) slots() [numSlots]float64 {
	ts := math.NaN()
	if !r.Timestamp.IsZero() {
		ts = float64(r.Timestamp.Unix())
	}
	return [numSlots]float64{
		slotPrice:     r.Price,
		slotOpen:      r.Open,
		slotHigh:      r.High,
		slotLow:       r.Low,
		slotClose:     r.Close,
		slotVolume:    r.Volume,
		slotEMA50:     r.EMA50,
		slotEMA200:    r.EMA200,
		slotTimestamp: ts,
	}
}
