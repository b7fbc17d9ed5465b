package scoring

import (
	"errors"
	"math"
	"testing"
)

// almostEqual returns true if a and b are within epsilon of each other.
func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

// constant returns a series of n copies of v.
func constant(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}

// ramp returns a series from start stepping by step, n points, newest last.
func ramp(n int, start, step float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = start + float64(i)*step
	}
	return s
}

func TestScore_MinimumLength(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		wantErr bool
	}{
		{"empty", 0, true},
		{"one point", 1, true},
		{"27 points rejected", 27, true},
		{"28 points accepted", 28, false},
		{"long history accepted", 200, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Score(constant(tc.n, 50))
			if tc.wantErr {
				if !errors.Is(err, ErrInsufficientData) {
					t.Fatalf("Score(%d points) err = %v, want ErrInsufficientData", tc.n, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Score(%d points) unexpected err: %v", tc.n, err)
			}
		})
	}
}

func TestScore_ConstantSeries(t *testing.T) {
	// A flat series has no lift, no slope change, no spread. Novelty ranks
	// the baseline mean against an all-equal history:
	// (0 below + 0.5*28 equal) / 28 = 0.5, so novelty = 0.5.
	// raw = 0.25 * 0.5 = 0.125
	// momentum = round(100 / (1 + e^-0.125)) = round(53.12) = 53
	m, err := Score(constant(28, 50))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	if !almostEqual(m.Lift, 0, 1e-12) {
		t.Errorf("Lift = %v, want 0", m.Lift)
	}
	if !almostEqual(m.Acceleration, 0, 1e-12) {
		t.Errorf("Acceleration = %v, want 0", m.Acceleration)
	}
	if !almostEqual(m.Noise, 0, 1e-12) {
		t.Errorf("Noise = %v, want 0", m.Noise)
	}
	if !almostEqual(m.Novelty, 0.5, 1e-12) {
		t.Errorf("Novelty = %v, want 0.5", m.Novelty)
	}
	if !almostEqual(m.Raw, 0.125, 1e-12) {
		t.Errorf("Raw = %v, want 0.125", m.Raw)
	}
	if m.Momentum != 53 {
		t.Errorf("Momentum = %d, want 53", m.Momentum)
	}
}

func TestScore_AllZeroSeries(t *testing.T) {
	// The 0.01 stabilizer keeps the lift and noise denominators finite, so
	// an all-zero series scores like any other flat series instead of
	// producing NaN.
	m, err := Score(constant(28, 0))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if math.IsNaN(m.Raw) || math.IsInf(m.Raw, 0) {
		t.Fatalf("Raw = %v, want finite", m.Raw)
	}
	if m.Momentum != 53 {
		t.Errorf("Momentum = %d, want 53", m.Momentum)
	}
}

func TestScore_Deterministic(t *testing.T) {
	series := ramp(40, 3, 1.5)
	first, err := Score(series)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	second, err := Score(series)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if first != second {
		t.Errorf("repeated Score gave %+v then %+v", first, second)
	}
}

func TestScore_SaturatesLow(t *testing.T) {
	// 21 flat weeks then a cliff: slope(last7) = -100 against a flat prior
	// window drives raw far below zero. The logistic squashes toward 0 and
	// the clamp floors at 1 instead of underflowing.
	series := append(constant(21, 600), ramp(7, 600, -100)...)
	m, err := Score(series)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if m.Raw > -30 {
		t.Fatalf("Raw = %v, expected a deeply negative raw score", m.Raw)
	}
	if m.Momentum != 1 {
		t.Errorf("Momentum = %d, want saturation at 1", m.Momentum)
	}
}

func TestScore_SaturatesHigh(t *testing.T) {
	// Dead quiet then a vertical take-off: enormous lift over the near-zero
	// prior mean pins the logistic at 100.
	series := append(constant(21, 0), ramp(7, 0, 100)...)
	m, err := Score(series)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if m.Momentum != 100 {
		t.Errorf("Momentum = %d, want saturation at 100", m.Momentum)
	}
}

func TestScore_BaselineClampsToHistory(t *testing.T) {
	// 120 weeks: an old plateau at 100 followed by 90 quiet weeks at 10.
	// The novelty baseline covers only the most recent 90 points (mean 10),
	// ranked against the full 120-point history:
	// (0 below + 0.5*90 equal) / 120 = 0.375, novelty = 0.625.
	// raw = 0.25 * 0.625 = 0.15625
	// momentum = round(100 / (1 + e^-0.15625)) = round(53.90) = 54
	series := append(constant(30, 100), constant(90, 10)...)
	m, err := Score(series)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !almostEqual(m.Novelty, 0.625, 1e-12) {
		t.Errorf("Novelty = %v, want 0.625", m.Novelty)
	}
	if m.Momentum != 54 {
		t.Errorf("Momentum = %d, want 54", m.Momentum)
	}
}

func TestScore_VolatileRecentWindow(t *testing.T) {
	// 21 flat weeks at 10 then an alternating 10/1 tail. The alternation
	// cancels in the slope sums, so acceleration is 0 and the score moves
	// on lift, novelty, and noise alone:
	// recent mean = 43/7, sample stdev = sqrt(1134)/7, so
	// noise = 900*sqrt(14)/4307 = 0.781865
	// lift = (43/7 - 10)/10.01 = -0.385329, novelty = 25/28
	// raw = -0.145650
	// momentum = round(100 / (1 + e^0.145650)) = round(46.37) = 46
	series := append(constant(21, 10), 10, 1, 10, 1, 10, 1, 10)
	m, err := Score(series)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !almostEqual(m.Acceleration, 0, 1e-9) {
		t.Errorf("Acceleration = %v, want 0", m.Acceleration)
	}
	if !almostEqual(m.Noise, 0.781865, 1e-6) {
		t.Errorf("Noise = %v, want 0.781865", m.Noise)
	}
	if !almostEqual(m.Raw, -0.145650, 1e-6) {
		t.Errorf("Raw = %v, want -0.145650", m.Raw)
	}
	if m.Momentum != 46 {
		t.Errorf("Momentum = %d, want 46", m.Momentum)
	}
}

func TestScore_MomentumAlwaysInRange(t *testing.T) {
	cases := map[string][]float64{
		"flat":          constant(28, 42),
		"rising":        ramp(28, 1, 1),
		"falling":       ramp(28, 400, -14),
		"spike at end":  append(constant(27, 5), 500),
		"long history":  ramp(150, 0, 0.5),
		"sawtooth":      {10, 90, 10, 90, 10, 90, 10, 90, 10, 90, 10, 90, 10, 90, 10, 90, 10, 90, 10, 90, 10, 90, 10, 90, 10, 90, 10, 90},
		"tiny values":   constant(28, 0.001),
		"mixed plateau": append(ramp(60, 0, 2), constant(30, 120)...),
	}

	for name, series := range cases {
		m, err := Score(series)
		if err != nil {
			t.Fatalf("%s: Score: %v", name, err)
		}
		if m.Momentum < 1 || m.Momentum > 100 {
			t.Errorf("%s: Momentum %d out of [1,100]", name, m.Momentum)
		}

		// The components must reconstruct Raw, and Raw must reconstruct
		// Momentum through the logistic.
		raw := 0.45*m.Lift + 0.35*m.Acceleration + 0.25*m.Novelty - 0.25*m.Noise
		if !almostEqual(raw, m.Raw, 1e-9) {
			t.Errorf("%s: Raw %v != reconstructed %v", name, m.Raw, raw)
		}
		want := clampMomentum(int(math.Round(100 / (1 + math.Exp(-m.Raw)))))
		if m.Momentum != want {
			t.Errorf("%s: Momentum %d != logistic of Raw (%d)", name, m.Momentum, want)
		}
	}
}

// --- helpers ---

func TestSlope(t *testing.T) {
	tests := []struct {
		name string
		vs   []float64
		want float64
	}{
		{"unit ramp", []float64{1, 2, 3}, 1},
		{"flat", []float64{5, 5, 5}, 0},
		{"steep ramp", []float64{0, 100, 200, 300}, 100},
		{"dip then recover", []float64{3, 1, 2}, -0.5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := slope(tc.vs); !almostEqual(got, tc.want, 1e-9) {
				t.Errorf("slope(%v) = %v, want %v", tc.vs, got, tc.want)
			}
		})
	}
}

func TestPercentileRank(t *testing.T) {
	history := []float64{1, 2, 5, 5, 9}
	tests := []struct {
		v    float64
		want float64
	}{
		{0, 0},
		{1, 0.1},  // 0 below + 0.5*1 equal, of 5
		{5, 0.6},  // 2 below + 0.5*2 equal, of 5
		{9, 0.9},
		{10, 1},
	}
	for _, tc := range tests {
		if got := percentileRank(tc.v, history); !almostEqual(got, tc.want, 1e-9) {
			t.Errorf("percentileRank(%v) = %v, want %v", tc.v, got, tc.want)
		}
	}
}

func TestStdev(t *testing.T) {
	// Sample stdev (n-1 divisor): {2,4,6} has squared deviations 4+0+4
	// over two degrees of freedom, exactly 2.
	if got := stdev([]float64{2, 4, 6}); !almostEqual(got, 2, 1e-9) {
		t.Errorf("stdev = %v, want 2", got)
	}
	if got := stdev([]float64{7}); got != 0 {
		t.Errorf("stdev of single value = %v, want 0", got)
	}
	if got := stdev(nil); got != 0 {
		t.Errorf("stdev of empty = %v, want 0", got)
	}
}

func TestClampMomentum(t *testing.T) {
	tests := []struct{ in, want int }{
		{-5, 1}, {0, 1}, {1, 1}, {50, 50}, {100, 100}, {101, 100},
	}
	for _, tc := range tests {
		if got := clampMomentum(tc.in); got != tc.want {
			t.Errorf("clampMomentum(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
