package vegas

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

// Result is the weighted average of the iterations of one or more runs.
//
// Every stream is combined with inverse-variance weights:
//
//	mean = Σ(mean_i / var_i) / Σ(1 / var_i),  var = 1 / Σ(1 / var_i)
//
// and the covariance of two streams a, b is Σ w_ai·w_bi·cov_i(a, b) with
// w_ai = (1/var_ai) / Σ_j(1/var_aj). Chi2 sums (mean_ai - mean_a)² / var_ai
// over iterations and streams, with (iterations - 1)·streams degrees of
// freedom; a large Chi2/DOF means the iterations disagree.
//
// A Result is not safe for concurrent use.
type Result struct {
	// RunID identifies the run that produced the result. Merged results keep
	// the ID of the receiver.
	RunID string

	// Shape is the layout of the integrand output.
	Shape Shape

	// Itn holds the iterations included in the average, oldest first.
	Itn []IterationResult

	// Excluded counts iterations dropped because of non-finite estimates.
	Excluded int

	// Warnings holds non-fatal problems: excluded iterations and
	// convergence warnings.
	Warnings []error

	mean []float64
	cov  []float64
	chi2 float64
}

//////
// Factory.
//////

func newResult(runID string, shape Shape) *Result {
	return &Result{RunID: runID, Shape: shape}
}

// Combine averages iterations that share a shape.
func Combine(shape Shape, iters ...IterationResult) (*Result, error) {
	r := newResult("", shape)
	for _, it := range iters {
		if err := r.add(it); err != nil {
			return nil, err
		}
	}

	return r, nil
}

//////
// Methods.
//////

// add appends an iteration. An iteration with a non-finite mean or
// variance is excluded and recorded as a NumericInstability warning; an
// iteration with the wrong number of streams is a configuration error.
func (r *Result) add(it IterationResult) error {
	ns := r.Shape.NumStreams()
	if it.NumStreams() != ns || len(it.Cov) != ns*ns {
		return configError("iteration has %d streams, result expects %d", it.NumStreams(), ns)
	}

	for a := 0; a < ns; a++ {
		if !isFinite(it.Mean[a]) || !isFinite(it.Var(a)) {
			r.Excluded++
			r.Warnings = append(r.Warnings, newError(CodeNumericInstability, nil,
				"iteration %d excluded: stream %d has mean %g and variance %g",
				len(r.Itn)+r.Excluded, a, it.Mean[a], it.Var(a)))

			return nil
		}
	}

	it.Cov = append([]float64(nil), it.Cov...)
	for a := 0; a < ns; a++ {
		if floor := varianceFloor(it.Mean[a]); it.Cov[a*ns+a] < floor {
			it.Cov[a*ns+a] = floor
			it.Degenerate = true
		}
	}

	r.Itn = append(r.Itn, it)
	r.recompute()

	return nil
}

// Merge returns a new result holding the iterations of r followed by those
// of o. Combining iterations {1,2} and {3} this way equals combining
// {1,2,3} directly.
func (r *Result) Merge(o *Result) (*Result, error) {
	if !r.Shape.equal(o.Shape) {
		return nil, configError("cannot merge results of shapes %s and %s", r.Shape, o.Shape)
	}

	m := newResult(r.RunID, r.Shape)
	m.Excluded = r.Excluded + o.Excluded
	m.Warnings = append(append([]error(nil), r.Warnings...), o.Warnings...)
	m.Itn = append(append([]IterationResult(nil), r.Itn...), o.Itn...)
	m.recompute()

	return m, nil
}

func (r *Result) recompute() {
	ns := r.Shape.NumStreams()
	if len(r.Itn) == 0 {
		r.mean, r.cov, r.chi2 = nil, nil, 0

		return
	}

	inv := make([]float64, ns)
	num := make([]float64, ns)

	for _, it := range r.Itn {
		for a := 0; a < ns; a++ {
			inv[a] += 1 / it.Var(a)
			num[a] += it.Mean[a] / it.Var(a)
		}
	}

	r.mean = make([]float64, ns)
	for a := range r.mean {
		r.mean[a] = num[a] / inv[a]
	}

	r.cov = make([]float64, ns*ns)
	for _, it := range r.Itn {
		for a := 0; a < ns; a++ {
			wa := 1 / it.Var(a) / inv[a]
			for b := 0; b <= a; b++ {
				wb := 1 / it.Var(b) / inv[b]
				r.cov[a*ns+b] += wa * wb * it.CovAt(a, b)
			}
		}
	}

	for a := 0; a < ns; a++ {
		for b := 0; b < a; b++ {
			r.cov[b*ns+a] = r.cov[a*ns+b]
		}
	}

	r.chi2 = 0
	for _, it := range r.Itn {
		for a := 0; a < ns; a++ {
			d := it.Mean[a] - r.mean[a]
			r.chi2 += d * d / it.Var(a)
		}
	}
}

// NumStreams returns the number of output streams.
func (r *Result) NumStreams() int {
	return r.Shape.NumStreams()
}

// Streams returns the stream names, see Shape.StreamNames.
func (r *Result) Streams() []string {
	return r.Shape.StreamNames()
}

// NumIterations returns the number of iterations in the average.
func (r *Result) NumIterations() int {
	return len(r.Itn)
}

// Mean returns the weighted mean of stream a, NaN without iterations.
func (r *Result) Mean(a int) float64 {
	if r.mean == nil {
		return math.NaN()
	}

	return r.mean[a]
}

// Var returns the variance of the weighted mean of stream a.
func (r *Result) Var(a int) float64 {
	return r.Cov(a, a)
}

// Sdev returns the standard deviation of the weighted mean of stream a.
func (r *Result) Sdev(a int) float64 {
	return math.Sqrt(r.Var(a))
}

// Cov returns the covariance of the weighted means of streams a and b.
func (r *Result) Cov(a, b int) float64 {
	if r.cov == nil {
		return math.NaN()
	}

	return r.cov[a*r.NumStreams()+b]
}

// Covariance returns the full covariance matrix of the stream means.
func (r *Result) Covariance() [][]float64 {
	ns := r.NumStreams()
	out := make([][]float64, ns)

	for a := range out {
		out[a] = make([]float64, ns)
		for b := range out[a] {
			out[a][b] = r.Cov(a, b)
		}
	}

	return out
}

// Estimate returns the weighted average of the first stream, the integral
// of a scalar integrand.
func (r *Result) Estimate() Estimate {
	return r.At(0)
}

// At returns the weighted average of stream a.
func (r *Result) At(a int) Estimate {
	return Estimate{Mean: r.Mean(a), Sdev: r.Sdev(a)}
}

// Field returns the estimates of the named field: one element for a scalar
// field, Size elements for a vector field. Scalar and vector integrands use
// the empty name. It returns nil for unknown names.
func (r *Result) Field(name string) []Estimate {
	f, ok := r.Shape.Field(name)
	if !ok {
		return nil
	}

	out := make([]Estimate, f.Size)
	for k := range out {
		out[k] = r.At(f.Offset + k)
	}

	return out
}

// Chi2 returns the chi-squared of the iteration means around the weighted
// average.
func (r *Result) Chi2() float64 {
	return r.chi2
}

// DOF returns the degrees of freedom of Chi2.
func (r *Result) DOF() int {
	if len(r.Itn) < 2 {
		return 0
	}

	return (len(r.Itn) - 1) * r.NumStreams()
}

// Chi2PerDOF returns Chi2/DOF, 0 when DOF is 0.
func (r *Result) Chi2PerDOF() float64 {
	if r.DOF() == 0 {
		return 0
	}

	return r.chi2 / float64(r.DOF())
}

// Q returns the probability that a chi-squared as large as Chi2 arises by
// chance. Values below ~0.05 suggest the grid had not converged or the
// variance estimates are unreliable.
func (r *Result) Q() float64 {
	if r.DOF() == 0 {
		return 1
	}

	return distuv.ChiSquared{K: float64(r.DOF())}.Survival(r.chi2)
}

// checkConvergence returns a convergence warning when Chi2/DOF exceeds max.
func (r *Result) checkConvergence(max float64) error {
	if r.DOF() == 0 || r.Chi2PerDOF() <= max {
		return nil
	}

	return newError(CodeConvergence, nil, "chi2/dof = %.2f exceeds %.2f (Q = %.3g)", r.Chi2PerDOF(), max, r.Q())
}

// Summary returns a table with one row per iteration: the iteration's
// estimate of the first stream, the running weighted average, chi2/dof and
// Q. With extended set, it appends the final average of every stream.
func (r *Result) Summary(extended bool) string {
	var sb strings.Builder

	sb.WriteString("itn   integral        wgt average     chi2/dof        Q\n")
	sb.WriteString(strings.Repeat("-", 55) + "\n")

	partial := newResult(r.RunID, r.Shape)
	for i, it := range r.Itn {
		partial.Itn = append(partial.Itn, it)
		partial.recompute()

		fmt.Fprintf(&sb, "%3d   %s %s %8.2f %8.2f\n",
			i+1,
			padRight(it.Estimate(0).String(), 15),
			padRight(partial.At(0).String(), 15),
			partial.Chi2PerDOF(),
			partial.Q(),
		)
	}

	if !extended || len(r.Itn) == 0 {
		return sb.String()
	}

	names := r.Streams()
	width := len("key/index")

	for _, n := range names {
		width = max(width, len(n))
	}

	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%*s   %s\n", width, "key/index", "value")
	sb.WriteString(strings.Repeat("-", width+20) + "\n")

	for a, n := range names {
		fmt.Fprintf(&sb, "%*s   %s\n", width, n, r.At(a))
	}

	return sb.String()
}

// String returns Summary(false).
func (r *Result) String() string {
	return r.Summary(false)
}
