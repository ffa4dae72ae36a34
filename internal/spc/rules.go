package spc

import (
	"math"

	"github.com/pulsestack/pulse-spc/internal/models"
)

// Run-length thresholds for the pattern rules.
const (
	sameSideThreshold    = 9
	trendThreshold       = 6
	alternationThreshold = 14
)

// Evaluator holds the bounded run-length state for one series and evaluates
// the Nelson rules incrementally as each point arrives. It keeps no history
// beyond the previous raw value and a handful of streak counters.
//
// Rules are checked in fixed order R1..R4 and may all fire on the same point.
// R1 is judged against the statistics that already include the triggering
// point. A single extreme point therefore partially absorbs into the mean
// before being compared to it; that is the source system's behaviour and is
// preserved deliberately.
type Evaluator struct {
	hasPrev bool
	prev    float64

	sameSideStreak int
	sideSign       int

	increasingRun int
	decreasingRun int

	alternatingStreak int
	lastDirection     int
}

// Evaluate incorporates one new value, given the post-update statistics for
// the series, and returns the rules triggered by this point in order.
func (e *Evaluator) Evaluate(value float64, stats models.SeriesStats) []models.Rule {
	var triggered []models.Rule

	// R1: single point beyond the 3-sigma control limits.
	if math.Abs(value-stats.Mean) > sigmaLimit*stats.Std {
		triggered = append(triggered, models.RuleR1)
	}

	// R2: sustained shift. A point exactly on the mean belongs to neither
	// side and resets the streak.
	side := sign(value - stats.Mean)
	switch {
	case side == 0:
		e.sameSideStreak = 0
	case side == e.sideSign:
		e.sameSideStreak++
	default:
		e.sameSideStreak = 1
	}
	e.sideSign = side
	if e.sameSideStreak >= sameSideThreshold {
		triggered = append(triggered, models.RuleR2)
	}

	// R3: trend. Runs are measured against the previous raw value, not the
	// mean; an equal pair breaks both runs.
	if e.hasPrev {
		switch {
		case value > e.prev:
			if e.increasingRun < 1 {
				e.increasingRun = 1
			}
			e.increasingRun++
			e.decreasingRun = 1
		case value < e.prev:
			if e.decreasingRun < 1 {
				e.decreasingRun = 1
			}
			e.decreasingRun++
			e.increasingRun = 1
		default:
			e.increasingRun = 0
			e.decreasingRun = 0
		}
	} else {
		e.increasingRun = 1
		e.decreasingRun = 1
	}
	if e.increasingRun >= trendThreshold || e.decreasingRun >= trendThreshold {
		triggered = append(triggered, models.RuleR3)
	}

	// R4: alternation. The streak counts consecutive direction flips; an
	// equal pair or a repeated direction resets it.
	if e.hasPrev {
		direction := sign(value - e.prev)
		switch {
		case direction == 0:
			e.alternatingStreak = 0
		case e.lastDirection != 0 && direction == -e.lastDirection:
			e.alternatingStreak++
		default:
			e.alternatingStreak = 0
		}
		e.lastDirection = direction
	}
	if e.alternatingStreak >= alternationThreshold {
		triggered = append(triggered, models.RuleR4)
	}

	e.prev = value
	e.hasPrev = true
	return triggered
}

// Reset clears all run-length state.
func (e *Evaluator) Reset() {
	*e = Evaluator{}
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
