package indicator

// EMA is an exponential moving average over a fixed period. It is seeded with
// the simple average of the first Period values and is not Ready before that.
type EMA struct {
	period int
	k      float64
	n      int
	sum    float64
	value  float64
}

// NewEMA returns an EMA with smoothing factor 2/(period+1).
func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{period: period, k: 2 / float64(period+1)}
}

// Update folds v into the average and returns the current value.
func (e *EMA) Update(v float64) float64 {
	if e.n < e.period {
		e.n++
		e.sum += v
		if e.n == e.period {
			e.value = e.sum / float64(e.period)
		}
		return e.value
	}
	e.value += e.k * (v - e.value)
	return e.value
}

// Value returns the current average. It is zero until Ready.
func (e *EMA) Value() float64 { return e.value }

// Ready reports whether the seed window has filled.
func (e *EMA) Ready() bool { return e.n >= e.period }

// Period returns the configured period.
func (e *EMA) Period() int { return e.period }
