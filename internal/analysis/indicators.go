package analysis

import "math"

// MovingAverage returns the simple moving average of values over window.
// A point needs at least half a window of history; earlier points are NaN.
func MovingAverage(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	minPeriods := max(1, window/2)

	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		n := min(i+1, window)
		if n < minPeriods {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(n)
	}
	return out
}

// EMA returns the exponential moving average with smoothing 2/(span+1),
// seeded with the first value.
func EMA(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	alpha := 2.0 / float64(span+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RSI returns the relative strength index using simple rolling means of gains
// and losses. Points without a full window of changes are NaN.
func RSI(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if window <= 0 {
		return out
	}

	for i := window; i < len(values); i++ {
		var up, down float64
		for j := i - window + 1; j <= i; j++ {
			delta := values[j] - values[j-1]
			if delta > 0 {
				up += delta
			} else {
				down -= delta
			}
		}

		switch {
		case up == 0 && down == 0:
			out[i] = 50
		case down == 0:
			out[i] = 100
		default:
			rs := up / down
			out[i] = 100 - 100/(1+rs)
		}
	}
	return out
}

// MACDSeries holds the MACD line, its signal line and their difference.
type MACDSeries struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes the fast/slow EMA difference and its signal EMA.
func MACD(values []float64, fast, slow, signal int) MACDSeries {
	emaFast := EMA(values, fast)
	emaSlow := EMA(values, slow)

	line := make([]float64, len(values))
	for i := range values {
		line[i] = emaFast[i] - emaSlow[i]
	}
	sig := EMA(line, signal)

	hist := make([]float64, len(values))
	for i := range values {
		hist[i] = line[i] - sig[i]
	}
	return MACDSeries{MACD: line, Signal: sig, Histogram: hist}
}

// PercentChange returns the change in percent between the value n points
// before the end and the last value, or false when the series is too short.
func PercentChange(values []float64, n int) (float64, bool) {
	if n <= 0 || len(values) < n {
		return 0, false
	}
	base := values[len(values)-n]
	if base == 0 {
		return 0, false
	}
	return (values[len(values)-1]/base - 1) * 100, true
}
