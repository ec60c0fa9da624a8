package vegas

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// IterationResult is the estimate produced by one iteration: the mean of
// every output stream and the covariance between streams, both summed over
// strata (the stratified-sampling estimator).
type IterationResult struct {
	// Mean holds one estimate per stream.
	Mean []float64

	// Cov is the NumStreams x NumStreams covariance, row-major.
	Cov []float64

	// Neval is the number of integrand evaluations used.
	Neval int

	// Nstrata is the number of strata sampled.
	Nstrata int

	// MinStratumNeval and MaxStratumNeval bound the samples per stratum.
	// They differ by more than one only when Beta redistributed the budget.
	MinStratumNeval int
	MaxStratumNeval int

	// Degenerate is set when a variance was raised to its floor (for
	// example, a constant integrand).
	Degenerate bool
}

// NumStreams returns the number of streams.
func (r IterationResult) NumStreams() int {
	return len(r.Mean)
}

// Var returns the variance of stream a.
func (r IterationResult) Var(a int) float64 {
	return r.Cov[a*len(r.Mean)+a]
}

// Sdev returns the standard deviation of stream a.
func (r IterationResult) Sdev(a int) float64 {
	return math.Sqrt(r.Var(a))
}

// CovAt returns the covariance of streams a and b.
func (r IterationResult) CovAt(a, b int) float64 {
	return r.Cov[a*len(r.Mean)+b]
}

// Estimate returns mean and standard deviation of stream a.
func (r IterationResult) Estimate(a int) Estimate {
	return Estimate{Mean: r.Mean[a], Sdev: r.Sdev(a)}
}

// iterationAccumulator sums stratum contributions. Only the lower triangle
// of cov is accumulated; result mirrors it.
type iterationAccumulator struct {
	ns      int
	mean    []float64
	cov     []float64
	neval   int
	nstrata int
	sum     []float64
}

func newIterationAccumulator(ns int) *iterationAccumulator {
	return &iterationAccumulator{
		ns:   ns,
		mean: make([]float64, ns),
		cov:  make([]float64, ns*ns),
		sum:  make([]float64, ns),
	}
}

// addStratum adds one stratum. wf holds n rows of ns weighted values
// w_i·f_a(x_i). The stratum estimate is Σ wf and its covariance
// n/(n-1)·Σ (wf_a - m_a)(wf_b - m_b) with m = Σ wf / n. It returns the
// variance of stream adapt within the stratum.
func (a *iterationAccumulator) addStratum(wf []float64, n, adapt int) float64 {
	ns := a.ns

	for s := range a.sum {
		a.sum[s] = 0
	}

	for k := 0; k < n; k++ {
		floats.Add(a.sum, wf[k*ns:(k+1)*ns])
	}

	floats.Add(a.mean, a.sum)
	a.neval += n
	a.nstrata++

	if n < 2 {
		return 0
	}

	inv := 1 / float64(n)
	scale := float64(n) / float64(n-1)

	var adaptVar float64

	for k := 0; k < n; k++ {
		row := wf[k*ns : (k+1)*ns]

		for s := 0; s < ns; s++ {
			ds := row[s] - a.sum[s]*inv
			for t := 0; t <= s; t++ {
				a.cov[s*ns+t] += scale * ds * (row[t] - a.sum[t]*inv)
			}

			if s == adapt {
				adaptVar += scale * ds * ds
			}
		}
	}

	return adaptVar
}

// merge adds o into a.
func (a *iterationAccumulator) merge(o *iterationAccumulator) {
	floats.Add(a.mean, o.mean)
	floats.Add(a.cov, o.cov)
	a.neval += o.neval
	a.nstrata += o.nstrata
}

// result returns the iteration estimate. Variances below the floor of their
// mean are raised to it and the result flagged degenerate.
func (a *iterationAccumulator) result() IterationResult {
	ns := a.ns
	r := IterationResult{
		Mean:    append([]float64(nil), a.mean...),
		Cov:     make([]float64, ns*ns),
		Neval:   a.neval,
		Nstrata: a.nstrata,
	}

	for s := 0; s < ns; s++ {
		for t := 0; t <= s; t++ {
			r.Cov[s*ns+t] = a.cov[s*ns+t]
			r.Cov[t*ns+s] = a.cov[s*ns+t]
		}
	}

	for s := 0; s < ns; s++ {
		floor := varianceFloor(r.Mean[s])
		if v := r.Cov[s*ns+s]; isFinite(v) && v < floor {
			r.Cov[s*ns+s] = floor
			r.Degenerate = true
		}
	}

	return r
}
