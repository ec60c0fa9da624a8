package vegas

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Training accumulates, for every increment of every dimension of a grid,
// the sum and count of the squared weighted integrand values of the samples
// that fell into it. Grid.Refine turns it into a new grid.
//
// A Training is not safe for concurrent use; the integrator keeps one per
// batch and merges them in batch order.
type Training struct {
	grid  *Grid
	sum   [][]float64
	count [][]float64
}

// NewTraining returns empty training data for g.
func NewTraining(g *Grid) *Training {
	t := &Training{
		grid:  g,
		sum:   make([][]float64, g.Dim()),
		count: make([][]float64, g.Dim()),
	}

	for d := range t.sum {
		t.sum[d] = make([]float64, g.Ninc(d))
		t.count[d] = make([]float64, g.Ninc(d))
	}

	return t
}

// Add records the value f2, normally (f(x)·J(x))², for the point x.
func (t *Training) Add(x []float64, f2 float64) {
	for d := range t.sum {
		i := t.grid.increment(d, x[d])
		t.sum[d][i] += f2
		t.count[d][i]++
	}
}

// add records f2 for a point whose increment indices are already known.
func (t *Training) add(iy []int, f2 float64) {
	for d, i := range iy {
		t.sum[d][i] += f2
		t.count[d][i]++
	}
}

// merge adds o into t. Both must belong to the same grid.
func (t *Training) merge(o *Training) {
	for d := range t.sum {
		floats.Add(t.sum[d], o.sum[d])
		floats.Add(t.count[d], o.count[d])
	}
}

// average returns the mean training value of every increment of dimension
// d, zero for increments without samples.
func (t *Training) average(d int) []float64 {
	avg := make([]float64, len(t.sum[d]))
	for i, s := range t.sum[d] {
		if t.count[d][i] > 0 {
			avg[i] = s / t.count[d][i]
		}
	}

	return avg
}

// adapter decides how the grid and the stratum budget change between
// iterations.
type adapter struct {
	alpha float64
	beta  float64
	ninc  int
}

// refine returns the grid for the next iteration.
func (a adapter) refine(g *Grid, train *Training) *Grid {
	if a.alpha <= 0 {
		return g
	}

	return g.Refine(train, a.alpha, a.ninc)
}

// targets converts per-stratum standard deviations from the previous
// iteration into sample-count targets σ^beta. It returns nil (uniform
// allocation) when stratification adaptation is off or the data is unusable.
func (a adapter) targets(sigma []float64, nstrata int) []float64 {
	if a.beta <= 0 || len(sigma) != nstrata {
		return nil
	}

	out := make([]float64, nstrata)
	for h, s := range sigma {
		if !isFinite(s) || s < 0 {
			return nil
		}

		out[h] = math.Pow(s, a.beta)
	}

	if sum := floats.Sum(out); !(sum > 0) || !isFinite(sum) {
		return nil
	}

	return out
}
