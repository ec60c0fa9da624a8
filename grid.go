package vegas

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

//////
// Const, vars, types.
//////

// Grid is the adaptive map of the integration domain. For each dimension it
// holds Ninc+1 strictly increasing nodes whose first and last values are the
// integration limits. A point y of the unit hypercube maps to x by locating
// y's increment and interpolating linearly inside it, so narrow increments
// receive more samples per unit length.
//
// A Grid is immutable: Refine returns a new one. It is safe to share between
// goroutines.
type Grid struct {
	nodes [][]float64
}

// GridState is the serializable form of a Grid, independent of any
// integrand.
type GridState struct {
	// Nodes holds the increment boundaries of every dimension.
	Nodes [][]float64 `json:"nodes" yaml:"nodes"`
}

//////
// Factory.
//////

// NewGrid returns a grid that splits every dimension into ninc equal
// increments.
func NewGrid(limits []Limits, ninc int) (*Grid, error) {
	if err := validateLimits(limits); err != nil {
		return nil, err
	}

	if ninc < 1 {
		return nil, configError("ninc must be positive, got %d", ninc)
	}

	g := &Grid{nodes: make([][]float64, len(limits))}
	for d, l := range limits {
		g.nodes[d] = uniformNodes(l.Lower, l.Upper, ninc)
	}

	return g, nil
}

// NewGaussianGrid returns a grid whose nodes are equally spaced in
// probability under a normal distribution with the given mean and standard
// deviation per dimension, truncated to the limits. It seeds adaptation
// with a known dominant shape, e.g. the peak of a posterior found by a fit.
//
// A dimension whose limits lie too far in the tails to be resolved falls
// back to a uniform partition.
func NewGaussianGrid(limits []Limits, mean, sdev []float64, ninc int) (*Grid, error) {
	if err := validateLimits(limits); err != nil {
		return nil, err
	}

	if len(mean) != len(limits) || len(sdev) != len(limits) {
		return nil, configError("need %d means and standard deviations, got %d and %d", len(limits), len(mean), len(sdev))
	}

	if ninc < 1 {
		return nil, configError("ninc must be positive, got %d", ninc)
	}

	g := &Grid{nodes: make([][]float64, len(limits))}

	for d, l := range limits {
		if !isFinite(mean[d]) || !isFinite(sdev[d]) || sdev[d] <= 0 {
			return nil, configError("dimension %d: invalid normal parameters mean=%g sdev=%g", d, mean[d], sdev[d])
		}

		dist := distuv.Normal{Mu: mean[d], Sigma: sdev[d]}
		plo, phi := dist.CDF(l.Lower), dist.CDF(l.Upper)

		nodes := make([]float64, ninc+1)
		nodes[0], nodes[ninc] = l.Lower, l.Upper

		for i := 1; i < ninc; i++ {
			nodes[i] = clamp(dist.Quantile(plo+(phi-plo)*float64(i)/float64(ninc)), l.Lower, l.Upper)
		}

		if !strictlyIncreasing(nodes) {
			nodes = uniformNodes(l.Lower, l.Upper, ninc)
		}

		g.nodes[d] = nodes
	}

	return g, nil
}

// GridFromState restores a grid saved with State.
func GridFromState(s GridState) (*Grid, error) {
	if len(s.Nodes) == 0 {
		return nil, configError("grid state has no dimensions")
	}

	g := &Grid{nodes: make([][]float64, len(s.Nodes))}

	for d, nodes := range s.Nodes {
		if len(nodes) < 2 {
			return nil, configError("grid state dimension %d: need at least 2 nodes, got %d", d, len(nodes))
		}

		for _, v := range nodes {
			if !isFinite(v) {
				return nil, configError("grid state dimension %d: non-finite node %g", d, v)
			}
		}

		if !strictlyIncreasing(nodes) {
			return nil, configError("grid state dimension %d: nodes are not strictly increasing", d)
		}

		g.nodes[d] = append([]float64(nil), nodes...)
	}

	return g, nil
}

// ReadGrid decodes a JSON grid state from r.
func ReadGrid(r io.Reader) (*Grid, error) {
	var s GridState
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode grid: %w", err)
	}

	return GridFromState(s)
}

// WriteGrid encodes g as JSON to w.
func WriteGrid(w io.Writer, g *Grid) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(g.State()); err != nil {
		return fmt.Errorf("encode grid: %w", err)
	}

	return nil
}

//////
// Methods.
//////

// Dim returns the number of dimensions.
func (g *Grid) Dim() int {
	return len(g.nodes)
}

// Ninc returns the number of increments along dimension d.
func (g *Grid) Ninc(d int) int {
	return len(g.nodes[d]) - 1
}

// Nodes returns a copy of the nodes of dimension d.
func (g *Grid) Nodes(d int) []float64 {
	return append([]float64(nil), g.nodes[d]...)
}

// Limits returns the integration limits spanned by the grid.
func (g *Grid) Limits() []Limits {
	limits := make([]Limits, len(g.nodes))
	for d, nodes := range g.nodes {
		limits[d] = Limits{Lower: nodes[0], Upper: nodes[len(nodes)-1]}
	}

	return limits
}

// Volume returns the volume of the integration domain.
func (g *Grid) Volume() float64 {
	v := 1.0
	for _, l := range g.Limits() {
		v *= l.Width()
	}

	return v
}

// State returns the serializable form of the grid.
func (g *Grid) State() GridState {
	s := GridState{Nodes: make([][]float64, len(g.nodes))}
	for d := range g.nodes {
		s.Nodes[d] = g.Nodes(d)
	}

	return s
}

// Map maps y from the unit hypercube into the integration domain, writing
// the point to x, and returns the Jacobian of the transformation.
func (g *Grid) Map(y, x []float64) float64 {
	iy := make([]int, len(g.nodes))

	return g.mapPoint(y, x, iy)
}

// mapPoint is Map that also records the increment index of every
// coordinate in iy.
func (g *Grid) mapPoint(y, x []float64, iy []int) float64 {
	jac := 1.0

	for d, nodes := range g.nodes {
		ninc := len(nodes) - 1
		t := y[d] * float64(ninc)

		i := int(t)
		i = clamp(i, 0, ninc-1)

		width := nodes[i+1] - nodes[i]
		x[d] = nodes[i] + width*clamp(t-float64(i), 0, 1)
		iy[d] = i
		jac *= width * float64(ninc)
	}

	return jac
}

// increment returns the index of the increment of dimension d containing x.
func (g *Grid) increment(d int, x float64) int {
	nodes := g.nodes[d]
	i := sort.SearchFloat64s(nodes, x) - 1

	return clamp(i, 0, len(nodes)-2)
}

// Refine returns a new grid adapted to the training data: increments where
// the integrand contributes most to the variance shrink so that, roughly,
// every increment contributes equally. alpha damps the change: 0 returns an
// unchanged grid, larger values adapt faster and less stably. ninc sets the
// increment count of the new grid; values below 1 keep the current counts.
//
// The result is always a valid grid: a dimension whose refinement would not
// be strictly increasing keeps its current nodes.
//
// Usage example:
//
//	train := NewTraining(grid)
//	for i, x := range points {
//	    train.Add(x, math.Pow(f[i]*jac[i], 2))
//	}
//	grid = grid.Refine(train, 0.5, 0)
func (g *Grid) Refine(train *Training, alpha float64, ninc int) *Grid {
	out := &Grid{nodes: make([][]float64, len(g.nodes))}

	for d, old := range g.nodes {
		n := ninc
		if n < 1 {
			n = len(old) - 1
		}

		var avg []float64
		if train != nil && d < len(train.sum) && len(train.sum[d]) == len(old)-1 {
			avg = train.average(d)
		}

		out.nodes[d] = refineDimension(old, avg, alpha, n)
	}

	return out
}

//////
// Helper functions.
//////

func uniformNodes(lo, hi float64, ninc int) []float64 {
	nodes := make([]float64, ninc+1)
	for i := range nodes {
		nodes[i] = lo + (hi-lo)*float64(i)/float64(ninc)
	}

	nodes[ninc] = hi

	return nodes
}

func strictlyIncreasing(nodes []float64) bool {
	for i := 1; i < len(nodes); i++ {
		if !(nodes[i] > nodes[i-1]) {
			return false
		}
	}

	return true
}

// refineDimension computes the new nodes of one dimension from the average
// training value of every current increment.
func refineDimension(old, avg []float64, alpha float64, ninc int) []float64 {
	oldN := len(old) - 1

	weights := make([]float64, oldN)
	for i := range weights {
		weights[i] = 1
	}

	if alpha > 0 && len(avg) == oldN && floats.Sum(avg) > 0 {
		weights = compress(smooth(avg), alpha)
	} else if ninc == oldN {
		return append([]float64(nil), old...)
	}

	nodes := regrid(old, weights, ninc)
	if strictlyIncreasing(nodes) {
		return nodes
	}

	if ninc != oldN {
		uniform := make([]float64, oldN)
		for i := range uniform {
			uniform[i] = 1
		}

		if nodes = regrid(old, uniform, ninc); strictlyIncreasing(nodes) {
			return nodes
		}
	}

	return append([]float64(nil), old...)
}

// smooth averages every increment with its neighbours using weights
// (1, 6, 1)/8, and (7, 1)/8 at the ends.
func smooth(avg []float64) []float64 {
	n := len(avg)
	if n == 1 {
		return []float64{avg[0]}
	}

	out := make([]float64, n)
	out[0] = (7*avg[0] + avg[1]) / 8
	out[n-1] = (7*avg[n-1] + avg[n-2]) / 8

	for i := 1; i < n-1; i++ {
		out[i] = (avg[i-1] + 6*avg[i] + avg[i+1]) / 8
	}

	return out
}

// compress maps the normalized increment averages r to ((1-r)/ln(1/r))^alpha,
// which flattens large contrasts so one iteration cannot collapse the grid.
func compress(avg []float64, alpha float64) []float64 {
	sum := floats.Sum(avg)
	out := make([]float64, len(avg))

	for i, a := range avg {
		r := a / sum

		switch {
		case r <= 0:
			out[i] = 0
		case r >= 1:
			out[i] = 1
		default:
			out[i] = math.Pow((1-r)/-math.Log(r), alpha)
		}
	}

	if floats.Sum(out) <= 0 {
		for i := range out {
			out[i] = 1
		}
	}

	return out
}

// regrid places ninc+1 nodes so that every new increment holds an equal
// share of the piecewise-constant weight defined on the old increments.
func regrid(old, weights []float64, ninc int) []float64 {
	oldN := len(weights)
	per := floats.Sum(weights) / float64(ninc)

	nodes := make([]float64, ninc+1)
	nodes[0], nodes[ninc] = old[0], old[oldN]

	j, acc := -1, 0.0

	for i := 1; i < ninc; i++ {
		for acc < per && j < oldN-1 {
			j++
			acc += weights[j]
		}

		acc -= per
		if weights[j] <= 0 {
			nodes[i] = old[j+1]

			continue
		}

		frac := clamp(acc/weights[j], 0, 1)
		nodes[i] = old[j+1] - frac*(old[j+1]-old[j])
	}

	return nodes
}
