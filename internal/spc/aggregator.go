package spc

import (
	"math"

	"github.com/pulsestack/pulse-spc/internal/models"
)

// Epsilon floors the standard deviation wherever it appears as a divisor.
// The reported std itself is left at its true value, zero included.
const Epsilon = 1e-9

// sigmaLimit is the conventional control-limit width in standard deviations.
const sigmaLimit = 3.0

// Aggregator maintains numerically stable running statistics for one series
// using Welford's single-pass update. It never re-reads prior measurements,
// so it holds for unbounded streams without cancellation errors.
type Aggregator struct {
	count int64
	mean  float64
	m2    float64
}

// Update incorporates one new value and returns the resulting statistics.
func (a *Aggregator) Update(value float64) models.SeriesStats {
	a.count++
	delta := value - a.mean
	a.mean += delta / float64(a.count)
	a.m2 += delta * (value - a.mean)
	return a.Snapshot()
}

// Snapshot derives the current statistics without mutating state.
func (a *Aggregator) Snapshot() models.SeriesStats {
	stats := models.SeriesStats{Count: a.count, Mean: a.mean}
	if a.count > 0 {
		stats.Variance = a.m2 / float64(a.count)
	}
	if stats.Variance < 0 {
		// Floating-point drift can push m2 fractionally below zero.
		stats.Variance = 0
	}
	stats.Std = math.Sqrt(stats.Variance)
	stats.UCL = stats.Mean + sigmaLimit*stats.Std
	// Latency cannot be negative, so the lower limit is floored at zero.
	stats.LCL = math.Max(0, stats.Mean-sigmaLimit*stats.Std)
	return stats
}

// Count returns the number of values incorporated so far.
func (a *Aggregator) Count() int64 { return a.count }

// Reset clears the aggregator back to an empty series.
func (a *Aggregator) Reset() {
	a.count = 0
	a.mean = 0
	a.m2 = 0
}

// DeviationSigma reports how many standard deviations value sits from the
// mean, using the epsilon floor so a flat series never divides by zero.
func DeviationSigma(value float64, stats models.SeriesStats) float64 {
	return (value - stats.Mean) / math.Max(stats.Std, Epsilon)
}
