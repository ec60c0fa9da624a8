package vegas

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// PDFIntegrator computes expectation values under an unnormalized
// probability density ρ:
//
//	E[g] = ∫ρ(x)·g(x) dx / ∫ρ(x) dx
//
// Numerator and denominator come from one integration whose first stream is
// ρ, so the grid adapts to the density and the correlation between the two
// integrals is kept in the error of the ratio. The norm ∫ρ is the Bayes
// factor (evidence) when ρ is likelihood times prior.
//
// The wrapped Integrator keeps its grid between calls: adapt it once with a
// call such as Expect(ctx, nil), then compute as many expectations as needed
// on the adapted grid with WithAdapt(false).
type PDFIntegrator struct {
	integ *Integrator
	pdf   Density
}

// Expectation is the result of PDFIntegrator.Expect or Stats.
type Expectation struct {
	// Result holds the joint integration of ρ followed by ρ·g (and ρ·g_k·g_l
	// for Stats).
	Result *Result

	// Shape is the output shape of g, empty when g is nil.
	Shape Shape

	// Norm is ∫ρ.
	Norm Estimate

	mean  []float64
	cov   []float64
	dmean []float64
	dcov  []float64
}

//////
// Factory.
//////

// NewPDFIntegrator wraps integ to compute expectation values under pdf.
func NewPDFIntegrator(integ *Integrator, pdf Density) (*PDFIntegrator, error) {
	if integ == nil {
		return nil, configError("integrator is required")
	}

	if pdf == nil {
		return nil, configError("density is required")
	}

	return &PDFIntegrator{integ: integ, pdf: pdf}, nil
}

//////
// Methods.
//////

// Integrator returns the wrapped integrator, e.g. to save its grid.
func (p *PDFIntegrator) Integrator() *Integrator {
	return p.integ
}

// Expect estimates E[g] for every stream of g. A nil g estimates only the
// norm, which is the usual way to adapt the grid to the density.
func (p *PDFIntegrator) Expect(ctx context.Context, g Integrand, opts ...Option) (*Expectation, error) {
	return p.run(ctx, g, false, opts)
}

// Stats is Expect that also integrates the second moments ρ·g_k·g_l, so the
// mean, standard deviation and covariance of g under the density are
// available from the Dist methods.
func (p *PDFIntegrator) Stats(ctx context.Context, g Integrand, opts ...Option) (*Expectation, error) {
	if g == nil {
		return nil, configError("stats requires a function of the parameters")
	}

	return p.run(ctx, g, true, opts)
}

func (p *PDFIntegrator) run(ctx context.Context, g Integrand, moments bool, opts []Option) (*Expectation, error) {
	gshape := &shapeResolver{}

	opts = append(opts[:len(opts):len(opts)], func(c *Config) {
		c.AdaptField = ""
	})

	result, err := p.integ.Integrate(ctx, p.joint(g, moments, gshape), opts...)
	if err != nil {
		return nil, err
	}

	shape, _ := gshape.current()

	return newExpectation(result, shape, moments)
}

// joint returns the integrand [ρ, ρ·g_k..., ρ·g_k·g_l for l <= k].
func (p *PDFIntegrator) joint(g Integrand, moments bool, gshape *shapeResolver) Integrand {
	return IntegrandFunc(func(x Batch) (Output, error) {
		n := x.Len()

		rho, err := p.pdf.Eval(x)
		if err != nil {
			return Output{}, integrandError(err, "density failed")
		}

		if len(rho) != n {
			return Output{}, configError("density returned %d values for %d points", len(rho), n)
		}

		for i, r := range rho {
			if !isFinite(r) || r < 0 {
				return Output{}, integrandError(nil, "density at point %d is %g, want finite and non-negative", i, r)
			}
		}

		if g == nil {
			return VectorOutput(1, rho), nil
		}

		out, err := g.Eval(x)
		if err != nil {
			return Output{}, err
		}

		shape, err := gshape.resolve(out, n)
		if err != nil {
			return Output{}, err
		}

		m := shape.NumStreams()

		gv := make([]float64, n*m)
		if err := shape.flatten(out, n, gv); err != nil {
			return Output{}, err
		}

		width := 1 + m
		if moments {
			width += m * (m + 1) / 2
		}

		vals := make([]float64, n*width)

		for i, r := range rho {
			row := vals[i*width : (i+1)*width]
			gi := gv[i*m : (i+1)*m]
			row[0] = r

			for k, v := range gi {
				row[1+k] = r * v
			}

			if !moments {
				continue
			}

			idx := 1 + m
			for k := 0; k < m; k++ {
				for l := 0; l <= k; l++ {
					row[idx] = r * gi[k] * gi[l]
					idx++
				}
			}
		}

		return VectorOutput(width, vals), nil
	})
}

func newExpectation(result *Result, shape Shape, moments bool) (*Expectation, error) {
	norm := result.Mean(0)
	if !(norm > 0) || !isFinite(norm) {
		return nil, newError(CodeNumericInstability, nil, "density integrates to %g", norm)
	}

	m := shape.NumStreams()
	e := &Expectation{
		Result: result,
		Shape:  shape,
		Norm:   result.At(0),
		mean:   make([]float64, m),
		cov:    make([]float64, m*m),
	}

	for k := range e.mean {
		e.mean[k] = result.Mean(1+k) / norm
	}

	// First-order propagation of the joint covariance into R_k = N_k / N.
	cnn := result.Var(0)
	for k := 0; k < m; k++ {
		for l := 0; l < m; l++ {
			rk, rl := e.mean[k], e.mean[l]
			c := result.Cov(1+k, 1+l) - rl*result.Cov(1+k, 0) - rk*result.Cov(1+l, 0) + rk*rl*cnn
			e.cov[k*m+l] = c / (norm * norm)
		}
	}

	if !moments {
		return e, nil
	}

	e.dmean = append([]float64(nil), e.mean...)
	e.dcov = make([]float64, m*m)

	idx := 1 + m
	for k := 0; k < m; k++ {
		for l := 0; l <= k; l++ {
			c := result.Mean(idx)/norm - e.mean[k]*e.mean[l]
			e.dcov[k*m+l] = c
			e.dcov[l*m+k] = c
			idx++
		}
	}

	return e, nil
}

// NumStreams returns the number of streams of g.
func (e *Expectation) NumStreams() int {
	return len(e.mean)
}

// Streams returns the stream names of g.
func (e *Expectation) Streams() []string {
	return e.Shape.StreamNames()
}

// Mean returns the estimate of E[g_k].
func (e *Expectation) Mean(k int) float64 {
	return e.mean[k]
}

// Sdev returns the Monte Carlo error of Mean(k).
func (e *Expectation) Sdev(k int) float64 {
	return math.Sqrt(math.Max(e.cov[k*len(e.mean)+k], 0))
}

// Cov returns the covariance of the estimates of E[g_k] and E[g_l].
func (e *Expectation) Cov(k, l int) float64 {
	return e.cov[k*len(e.mean)+l]
}

// At returns E[g_k] with its Monte Carlo error.
func (e *Expectation) At(k int) Estimate {
	return Estimate{Mean: e.Mean(k), Sdev: e.Sdev(k)}
}

// Field returns the estimates of E[g] for the named field of g, nil for
// unknown names.
func (e *Expectation) Field(name string) []Estimate {
	f, ok := e.Shape.Field(name)
	if !ok {
		return nil
	}

	out := make([]Estimate, f.Size)
	for k := range out {
		out[k] = e.At(f.Offset + k)
	}

	return out
}

// LogBF returns ln ∫ρ with its error.
func (e *Expectation) LogBF() Estimate {
	return Estimate{Mean: math.Log(e.Norm.Mean), Sdev: e.Norm.Sdev / e.Norm.Mean}
}

// HasStats reports whether the Dist methods are available.
func (e *Expectation) HasStats() bool {
	return e.dcov != nil
}

// DistMean returns the mean of g_k under the density, NaN without Stats.
func (e *Expectation) DistMean(k int) float64 {
	if !e.HasStats() {
		return math.NaN()
	}

	return e.dmean[k]
}

// DistCov returns the covariance of g_k and g_l under the density, NaN
// without Stats.
func (e *Expectation) DistCov(k, l int) float64 {
	if !e.HasStats() {
		return math.NaN()
	}

	return e.dcov[k*len(e.mean)+l]
}

// DistSdev returns the standard deviation of g_k under the density, NaN
// without Stats.
func (e *Expectation) DistSdev(k int) float64 {
	return math.Sqrt(math.Max(e.DistCov(k, k), 0))
}

// String lists E[g] per stream and, with Stats, the distribution's mean and
// standard deviation.
func (e *Expectation) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "norm = %s  logBF = %s\n", e.Norm, e.LogBF())

	names := e.Streams()
	width := len("key/index")

	for _, n := range names {
		width = max(width, len(n))
	}

	if len(names) == 0 {
		return sb.String()
	}

	fmt.Fprintf(&sb, "%*s   %-20s", width, "key/index", "E[g]")
	if e.HasStats() {
		sb.WriteString("  mean      sdev")
	}

	sb.WriteString("\n")

	for k, n := range names {
		fmt.Fprintf(&sb, "%*s   %-20s", width, n, e.At(k))
		if e.HasStats() {
			fmt.Fprintf(&sb, "  %-8.4g  %-8.4g", e.DistMean(k), e.DistSdev(k))
		}

		sb.WriteString("\n")
	}

	return sb.String()
}
