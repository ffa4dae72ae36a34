package report

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/pulsestack/pulse-spc/internal/models"
)

// Summary describes one window of measurements for a series: central
// tendency, spread, interpolated percentiles, and the 3-sigma control band
// the window implies.
type Summary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	UCL   float64 `json:"ucl"`
	LCL   float64 `json:"lcl"`
}

// Summarize computes a Summary over a window of measurements. An empty window
// yields a zero Summary.
func Summarize(window []models.Measurement) Summary {
	if len(window) == 0 {
		return Summary{}
	}

	values := make([]float64, len(window))
	for i, m := range window {
		values[i] = m.Value
	}
	sort.Float64s(values)

	mean := stat.Mean(values, nil)
	variance := stat.PopVariance(values, nil)
	if variance < 0 {
		variance = 0
	}
	std := math.Sqrt(variance)

	return Summary{
		Count: len(values),
		Mean:  mean,
		Std:   std,
		Min:   values[0],
		Max:   values[len(values)-1],
		// Percentiles interpolate linearly between adjacent order statistics.
		P50:   stat.Quantile(0.50, stat.LinInterp, values, nil),
		P95:   stat.Quantile(0.95, stat.LinInterp, values, nil),
		P99:   stat.Quantile(0.99, stat.LinInterp, values, nil),
		UCL:   mean + 3*std,
		LCL:   math.Max(0, mean-3*std),
	}
}
