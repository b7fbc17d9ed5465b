// Package scoring derives momentum metrics from weekly interest series.
//
// score.go provides the pure Score(series) function that maps an ordered
// series (oldest first, newest last) to four component metrics and the final
// 1-100 momentum score:
// lift(45%) + acceleration(35%) + novelty(25%) - noise(25%), squashed
// through a logistic curve.
//
// Score has no side effects and no clock; series shorter than MinPoints
// fail with ErrInsufficientData, which callers treat as skip-this-keyword.
package scoring
