package forecasts

import (
	"math"
	"time"
)

// Pacing cost factors. A gradient of +10% costs 1 + 12*0.1 = 2.2x flat
// effort; descents save effort at a lower rate and never drop below
// MinCostFactor.
const (
	KUp           = 12.0
	KDown         = 4.0
	MinCostFactor = 0.5
)

// PacingPoint is one checkpoint of the course profile.
type PacingPoint struct {
	DistanceKm float64
	ElevationM float64
}

// Fractions returns, for every point, the cumulative share of total race time
// spent reaching it. The result starts at 0, ends at exactly 1 and is
// non-decreasing. Segments are weighted by an elevation-gradient cost factor;
// segments with non-positive distance cost nothing.
func Fractions(points []PacingPoint) []float64 {
	n := len(points)
	if n == 0 {
		return []float64{}
	}
	if n == 1 {
		return []float64{0}
	}

	cumulative := make([]float64, n)
	var total float64
	for i := 1; i < n; i++ {
		dist := points[i].DistanceKm - points[i-1].DistanceKm
		var cost float64
		if dist > 0 {
			gradient := (points[i].ElevationM - points[i-1].ElevationM) / (dist * 1000)
			cost = costFactor(gradient) * dist
		}
		total += cost
		cumulative[i] = total
	}

	fractions := make([]float64, n)
	switch {
	case total > 0:
		for i := range cumulative {
			fractions[i] = cumulative[i] / total
		}
	default:
		fractions = distanceFractions(points)
	}
	fractions[0] = 0
	fractions[n-1] = 1
	return fractions
}

// distanceFractions is the fallback when no segment carries cost: plain
// distance ratios, or uniform spacing when the course has no length at all.
func distanceFractions(points []PacingPoint) []float64 {
	n := len(points)
	fractions := make([]float64, n)
	first := points[0].DistanceKm
	totalDist := points[n-1].DistanceKm - first
	if totalDist <= 0 {
		for i := range fractions {
			fractions[i] = float64(i) / float64(n-1)
		}
		return fractions
	}
	for i, p := range points {
		fractions[i] = clamp((p.DistanceKm-first)/totalDist, 0, 1)
	}
	// Non-monotone distances must not produce a decreasing sequence.
	for i := 1; i < n; i++ {
		if fractions[i] < fractions[i-1] {
			fractions[i] = fractions[i-1]
		}
	}
	return fractions
}

func costFactor(gradient float64) float64 {
	if gradient >= 0 {
		return math.Max(1+KUp*gradient, MinCostFactor)
	}
	return math.Max(1-KDown*math.Abs(gradient), MinCostFactor)
}

// WeightedTime returns the expected pass-through time for a checkpoint at the
// given fraction of a race of totalHours starting at start.
func WeightedTime(start time.Time, fraction, totalHours float64) time.Time {
	ms := math.Round(totalHours * fraction * 3600 * 1000)
	return start.Add(time.Duration(ms) * time.Millisecond)
}
