// Package anomaly scores daily metric series against expected behaviour.
// Two strategies ship: a weekday-aware seasonal EMA baseline and a
// rolling z-score detector.
package anomaly

import (
	"fmt"
	"time"
)

const (
	StrategySeasonalEMA = "seasonal_ema"
	StrategyZScore      = "zscore"

	// epsilon floors zero denominators so flat stretches do not divide
	// by zero.
	epsilon = 1e-9
)

type Point struct {
	Timestamp time.Time
	Value     float64
}

// Record is one evaluated point. Deviation is strategy-specific: the
// relative variance against the seasonal expectation, or the z-score.
// Callers filter on Breach; non-breaching records stay in the output so
// clients can plot the expectation band.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Actual    float64   `json:"actual"`
	Expected  float64   `json:"expected"`
	Deviation float64   `json:"deviation"`
	Breach    bool      `json:"breach"`
}

type Detector interface {
	Name() string
	Detect(series []Point) []Record
}

// ForStrategy builds a detector by name, applying the given threshold
// when it is positive.
func ForStrategy(name string, emaSpan int, varianceThreshold float64, zscoreSpan int, zscoreThreshold float64) (Detector, error) {
	switch name {
	case StrategySeasonalEMA:
		return &SeasonalEMA{Span: emaSpan, Threshold: varianceThreshold}, nil
	case StrategyZScore:
		return &ZScore{Span: zscoreSpan, Window: zscoreSpan, Threshold: zscoreThreshold}, nil
	default:
		return nil, fmt.Errorf("unknown anomaly strategy %q", name)
	}
}
