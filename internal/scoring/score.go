package scoring

import (
	"errors"
	"math"
)

// Weight constants for the raw momentum formula. Noise is subtracted.
const (
	weightLift         = 0.45
	weightAcceleration = 0.35
	weightNovelty      = 0.25
	weightNoise        = 0.25
)

// Window sizes over the weekly series. The two scoring windows (recent,
// prior) must both fit, so a series needs at least MinPoints values.
const (
	recentWindow   = 7
	priorWindow    = 21
	baselineWindow = 90

	// MinPoints is the minimum series length Score accepts.
	MinPoints = recentWindow + priorWindow
)

// stabilizer keeps the lift and noise denominators away from zero for
// all-zero windows.
const stabilizer = 0.01

// Momentum score bounds.
const (
	minMomentum = 1
	maxMomentum = 100
)

// ErrInsufficientData is returned when a series is shorter than MinPoints.
// Callers skip the keyword; it never aborts a run.
var ErrInsufficientData = errors.New("scoring: insufficient series history")

// Metrics is the full output of one scoring pass.
type Metrics struct {
	// Lift is the relative change between the recent and prior window means.
	Lift float64

	// Acceleration is the change in OLS trend slope between windows.
	Acceleration float64

	// Novelty is the inverse percentile rank of the long-run baseline mean
	// against the full available history. 1 = never seen this low a
	// baseline, 0 = baseline at the top of its own history.
	Novelty float64

	// Noise is the coefficient of variation of the recent window,
	// penalizing volatile series.
	Noise float64

	// Raw is the weighted combination before the logistic squash.
	Raw float64

	// Momentum is the final score, always an integer in [1,100].
	Momentum int
}

// Score derives momentum metrics for one weekly interest series, ordered
// oldest first and newest last, values non-negative.
//
// Formula:
//
//	lift         = (mean(last7) - mean(prev21)) / (mean(prev21) + 0.01)
//	acceleration = slope(last7) - slope(prev21)      (OLS slope per window)
//	novelty      = 1 - rank(mean(last90))            (against full history)
//	noise        = stdev(last7) / (mean(last7) + 0.01)
//	raw          = 0.45*lift + 0.35*accel + 0.25*novelty - 0.25*noise
//	momentum     = round(100 / (1 + e^-raw)), clamped to [1,100]
//
// The baseline window clamps to whatever history exists when the series is
// shorter than 90 points. Extreme negative raw values saturate momentum to 1
// rather than overflowing.
func Score(series []float64) (Metrics, error) {
	n := len(series)
	if n < MinPoints {
		return Metrics{}, ErrInsufficientData
	}

	recent := series[n-recentWindow:]
	prior := series[n-MinPoints : n-recentWindow]

	start := 0
	if n > baselineWindow {
		start = n - baselineWindow
	}
	baseline := series[start:]

	recentMean := mean(recent)
	priorMean := mean(prior)

	m := Metrics{
		Lift:         (recentMean - priorMean) / (priorMean + stabilizer),
		Acceleration: slope(recent) - slope(prior),
		Novelty:      1 - percentileRank(mean(baseline), series),
		Noise:        stdev(recent) / (recentMean + stabilizer),
	}

	m.Raw = weightLift*m.Lift +
		weightAcceleration*m.Acceleration +
		weightNovelty*m.Novelty -
		weightNoise*m.Noise

	m.Momentum = clampMomentum(int(math.Round(100 / (1 + math.Exp(-m.Raw)))))
	return m, nil
}

// mean returns the arithmetic mean of vs. vs must be non-empty.
func mean(vs []float64) float64 {
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// stdev returns the sample standard deviation of vs, zero when fewer than
// two values are present.
func stdev(vs []float64) float64 {
	if len(vs) < 2 {
		return 0
	}
	m := mean(vs)
	var sq float64
	for _, v := range vs {
		d := v - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(vs)-1))
}

// slope returns the ordinary least-squares slope of vs against its indices,
// indices running in chronological order.
func slope(vs []float64) float64 {
	n := float64(len(vs))
	xMean := (n - 1) / 2
	yMean := mean(vs)

	var num, den float64
	for i, v := range vs {
		dx := float64(i) - xMean
		num += dx * (v - yMean)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// percentileRank ranks v against history using the midpoint convention:
// (count_below + 0.5*count_equal) / total.
func percentileRank(v float64, history []float64) float64 {
	var below, equal float64
	for _, h := range history {
		switch {
		case h < v:
			below++
		case h == v:
			equal++
		}
	}
	return (below + 0.5*equal) / float64(len(history))
}

// clampMomentum restricts a rounded score to [1,100]. Deeply negative raw
// scores squash toward 0 and land on the floor instead of underflowing.
func clampMomentum(v int) int {
	if v < minMomentum {
		return minMomentum
	}
	if v > maxMomentum {
		return maxMomentum
	}
	return v
}
