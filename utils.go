package vegas

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/constraints"
)

//////
// Helper functions.
//////

// relativeSdevFloor bounds the smallest standard deviation an iteration may
// report, relative to its mean.
const relativeSdevFloor = 1e-14

// absoluteSdevFloor is the smallest standard deviation reported for a stream
// whose mean is zero. Its square and inverse stay well inside float64 range.
const absoluteSdevFloor = 1e-75

// clamp limits v to [lo, hi].
func clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// varianceFloor returns the smallest variance accepted for an estimate with
// the given mean. Smaller (including zero) variances are raised to it so the
// inverse-variance weights stay finite.
func varianceFloor(mean float64) float64 {
	s := math.Max(relativeSdevFloor*math.Abs(mean), absoluteSdevFloor)

	return s * s
}

// splitmix64 is the finalizer of the SplitMix64 generator. It turns
// correlated integers (iteration, stratum) into well mixed seeds.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb

	return x ^ (x >> 31)
}

// streamSeed keys the random sub-stream of one stratum in one iteration.
func streamSeed(itn uint64, stratum int) uint64 {
	return splitmix64(splitmix64(itn) ^ uint64(stratum))
}

// ipowAtMost reports whether base^exp <= limit without overflowing.
func ipowAtMost(base, exp, limit int) bool {
	p := 1
	for i := 0; i < exp; i++ {
		if p > limit/base {
			return false
		}

		p *= base
	}

	return p <= limit
}

// formatUncertain renders mean and sdev the compact way physicists do,
// e.g. 3.1416(12) for 3.1416 ± 0.0012. The error shows two significant
// digits.
func formatUncertain(mean, sdev float64) string {
	if !isFinite(mean) || !isFinite(sdev) || sdev <= 0 {
		return fmt.Sprintf("%g(0)", mean)
	}

	scale := math.Max(math.Abs(mean), sdev)
	exp := int(math.Floor(math.Log10(scale)))

	if exp >= 6 || exp <= -5 {
		f := math.Pow(10, float64(exp))

		return formatUncertain(mean/f, sdev/f) + fmt.Sprintf("e%+03d", exp)
	}

	ndec := 1 - int(math.Floor(math.Log10(sdev)))
	if ndec <= 0 {
		return fmt.Sprintf("%.0f(%.0f)", mean, sdev)
	}

	digits := math.Round(sdev * math.Pow(10, float64(ndec)))

	return fmt.Sprintf("%.*f(%.0f)", ndec, mean, digits)
}

// padRight pads s with spaces to width n.
func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}

	return s + strings.Repeat(" ", n-len(s))
}
