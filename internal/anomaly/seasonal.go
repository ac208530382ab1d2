package anomaly

import (
	"math"
	"time"
)

// SeasonalEMA compares the newest observation against an exponential
// moving average adjusted by a per-weekday multiplier. Only the latest
// point is scored; the history exists to shape the expectation.
type SeasonalEMA struct {
	// Span is the EMA span in observations. The smoothing factor is
	// 2/(Span+1).
	Span      int
	Threshold float64
}

func (d *SeasonalEMA) Name() string { return StrategySeasonalEMA }

func (d *SeasonalEMA) Detect(series []Point) []Record {
	if len(series) < 2 {
		return nil
	}

	span := d.Span
	if span <= 0 {
		span = 30
	}
	threshold := d.Threshold
	if threshold <= 0 {
		threshold = 0.20
	}

	ema := exponentialMovingAverage(series, span)
	multipliers := weekdayMultipliers(series, ema)

	last := len(series) - 1
	expected := ema[last] * multipliers[series[last].Timestamp.Weekday()]
	denominator := expected
	if math.Abs(denominator) < epsilon {
		denominator = epsilon
	}
	deviation := (series[last].Value - expected) / denominator

	return []Record{{
		Timestamp: series[last].Timestamp,
		Actual:    series[last].Value,
		Expected:  expected,
		Deviation: deviation,
		Breach:    math.Abs(deviation) > threshold,
	}}
}

func exponentialMovingAverage(series []Point, span int) []float64 {
	alpha := 2.0 / (float64(span) + 1.0)
	ema := make([]float64, len(series))
	ema[0] = series[0].Value
	for i := 1; i < len(series); i++ {
		ema[i] = alpha*series[i].Value + (1-alpha)*ema[i-1]
	}
	return ema
}

// weekdayMultipliers averages the actual-to-EMA ratio per weekday over
// the history. A weekday with no usable ratio keeps a neutral 1.0.
func weekdayMultipliers(series []Point, ema []float64) map[time.Weekday]float64 {
	sums := make(map[time.Weekday]float64)
	counts := make(map[time.Weekday]int)
	for i, point := range series {
		if math.Abs(ema[i]) < epsilon {
			continue
		}
		weekday := point.Timestamp.Weekday()
		sums[weekday] += point.Value / ema[i]
		counts[weekday]++
	}

	multipliers := make(map[time.Weekday]float64, 7)
	for weekday := time.Sunday; weekday <= time.Saturday; weekday++ {
		if counts[weekday] > 0 {
			multipliers[weekday] = sums[weekday] / float64(counts[weekday])
		} else {
			multipliers[weekday] = 1.0
		}
	}
	return multipliers
}
