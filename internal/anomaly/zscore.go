package anomaly

import "math"

// ZScore scores every observation against a local EMA baseline using a
// rolling standard deviation. A flatline series has no variance to score
// against and yields no records.
type ZScore struct {
	Span      int
	Window    int
	Threshold float64
}

func (d *ZScore) Name() string { return StrategyZScore }

func (d *ZScore) Detect(series []Point) []Record {
	if len(series) < 2 {
		return nil
	}

	span := d.Span
	if span <= 0 {
		span = 14
	}
	window := d.Window
	if window <= 0 {
		window = 14
	}
	threshold := d.Threshold
	if threshold <= 0 {
		threshold = 2.0
	}

	globalStd := sampleStd(values(series))
	if globalStd < epsilon {
		return nil
	}

	ema := exponentialMovingAverage(series, span)
	records := make([]Record, 0, len(series))
	for i, point := range series {
		std := globalStd
		if i+1 >= window {
			windowStd := sampleStd(values(series[i+1-window : i+1]))
			if windowStd < epsilon {
				windowStd = epsilon
			}
			std = windowStd
		}

		deviation := (point.Value - ema[i]) / std
		records = append(records, Record{
			Timestamp: point.Timestamp,
			Actual:    point.Value,
			Expected:  ema[i],
			Deviation: deviation,
			Breach:    math.Abs(deviation) > threshold,
		})
	}
	return records
}

func values(series []Point) []float64 {
	out := make([]float64, len(series))
	for i, point := range series {
		out[i] = point.Value
	}
	return out
}

func sampleStd(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, value := range values {
		sum += value
	}
	mean := sum / float64(len(values))

	var squared float64
	for _, value := range values {
		squared += (value - mean) * (value - mean)
	}
	return math.Sqrt(squared / float64(len(values)-1))
}
