package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"

	"github.com/thalesfsp/vegas"
	"gonum.org/v1/gonum/stat"
)

// example is a bundled integrand the CLI can run and compare.
type example struct {
	name  string
	short string

	limits []vegas.Limits

	// f is the integrand. Nil for examples that integrate a density.
	f vegas.Integrand

	// exact is the known value of the first stream, NaN when unknown.
	exact float64

	// warmup is the number of discarded adapting iterations run before the
	// reported one when the flag does not set it.
	warmup int

	// grid returns the starting grid. Nil starts from a uniform grid.
	grid func(cfg vegas.Config) (*vegas.Grid, error)

	// run replaces the plain integrate-and-report flow.
	run func(ctx context.Context, integ *vegas.Integrator, warmup int, w io.Writer) error
}

var examples = map[string]*example{
	"gaussian": {
		name:   "gaussian",
		short:  "exp(-x²-y²) on [-3,3]²",
		limits: box(2, -3, 3),
		f:      vegas.IntegrandFunc(gaussian),
		exact:  math.Pi * math.Pow(math.Erf(3), 2),
	},
	"peak": {
		name:   "peak",
		short:  "normalized Gaussian of width 0.01 at 0.5 on [0,1]",
		limits: box(1, 0, 1),
		f:      vegas.IntegrandFunc(peak),
		exact:  math.Erf(0.5 / (peakWidth * math.Sqrt2)),
		warmup: 5,
	},
	"diagonal": {
		name:   "diagonal",
		short:  "three narrow Gaussians on the diagonal of the 6-D unit cube",
		limits: box(diagonalDim, 0, 1),
		f:      vegas.IntegrandFunc(diagonal),
		exact:  diagonalExact(),
		warmup: 10,
	},
	"rings": {
		name:   "rings",
		short:  "exp(-r²) around the centre of [0,1]² and its distribution in 5 radial bins",
		limits: box(2, 0, 1),
		f:      vegas.IntegrandFunc(rings),
		exact:  math.Pow(math.Sqrt(math.Pi)*math.Erf(0.5), 2),
	},
	"bayes": {
		name:   "bayes",
		short:  "straight-line fit to data with outliers, parameters and log Bayes factor",
		limits: bayesLimits,
		exact:  math.NaN(),
		warmup: 10,
		grid:   bayesGrid,
		run:    runBayes,
	},
}

func exampleNames() []string {
	names := make([]string, 0, len(examples))
	for name := range examples {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func lookupExample(name string) (*example, error) {
	ex, ok := examples[name]
	if !ok {
		return nil, fmt.Errorf("unknown example %q, want one of %v", name, exampleNames())
	}

	return ex, nil
}

func box(dim int, lo, hi float64) []vegas.Limits {
	limits := make([]vegas.Limits, dim)
	for d := range limits {
		limits[d] = vegas.Limits{Lower: lo, Upper: hi}
	}

	return limits
}

//////
// Plain integrands.
//////

func gaussian(x vegas.Batch) (vegas.Output, error) {
	out := make([]float64, x.Len())
	for i := range out {
		a, b := x.At(i, 0), x.At(i, 1)
		out[i] = math.Exp(-a*a - b*b)
	}

	return vegas.ScalarOutput(out), nil
}

const peakWidth = 0.01

func peak(x vegas.Batch) (vegas.Output, error) {
	out := make([]float64, x.Len())
	for i := range out {
		dx := (x.At(i, 0) - 0.5) / peakWidth
		out[i] = math.Exp(-dx*dx/2) / (peakWidth * math.Sqrt(2*math.Pi))
	}

	return vegas.ScalarOutput(out), nil
}

const diagonalDim = 6

var diagonalCentres = []float64{0.23, 0.39, 0.74}

// diagonal averages three Gaussians exp(-100·|x-c|²), each normalized to
// one over all of space.
func diagonal(x vegas.Batch) (vegas.Output, error) {
	norm := math.Pow(100/math.Pi, diagonalDim/2.0) / float64(len(diagonalCentres))

	out := make([]float64, x.Len())
	for i := range out {
		for _, c := range diagonalCentres {
			dx2 := 0.0
			for d := 0; d < diagonalDim; d++ {
				dx := x.At(i, d) - c
				dx2 += dx * dx
			}

			out[i] += math.Exp(-100*dx2) * norm
		}
	}

	return vegas.ScalarOutput(out), nil
}

// diagonalExact is the integral of diagonal over the unit cube: each
// Gaussian loses only its tails outside the cube.
func diagonalExact() float64 {
	sum := 0.0
	for _, c := range diagonalCentres {
		sum += math.Pow((math.Erf(10*c)+math.Erf(10*(1-c)))/2, diagonalDim)
	}

	return sum / float64(len(diagonalCentres))
}

var ringsRMax = math.Sqrt(0.5)

const ringsBins = 5

// rings returns I = exp(-r²), r being the distance to the centre of the
// square, and dI, which holds I in the radial bin of the point and 0 in the
// others, so that the dI integrals sum to the I integral.
func rings(x vegas.Batch) (vegas.Output, error) {
	n := x.Len()
	dr := ringsRMax / ringsBins

	in := make([]float64, n)
	di := make([]float64, n*ringsBins)

	for i := 0; i < n; i++ {
		a, b := x.At(i, 0)-0.5, x.At(i, 1)-0.5
		r2 := a*a + b*b

		j := min(int(math.Sqrt(r2)/dr), ringsBins-1)

		in[i] = math.Exp(-r2)
		di[i*ringsBins+j] = in[i]
	}

	return vegas.MapOutput(map[string]vegas.Output{
		"I":  vegas.ScalarOutput(in),
		"dI": vegas.VectorOutput(ringsBins, di),
	}), nil
}

//////
// Bayesian fit.
//////

var (
	bayesX = []float64{
		0.2, 0.4, 0.6, 0.8, 1.0,
		1.2, 1.4, 1.6, 1.8, 2.0,
		2.2, 2.4, 2.6, 2.8, 3.0,
		3.2, 3.4, 3.6, 3.8,
	}
	bayesY = []float64{
		0.38, 2.89, 0.85, 0.59, 2.88,
		1.44, 0.73, 1.23, 1.68, 1.36,
		1.51, 1.73, 2.16, 1.85, 2.00,
		2.11, 2.75, 0.86, 2.73,
	}
)

var bayesLimits = []vegas.Limits{
	{Lower: -10, Upper: 10},
	{Lower: -10, Upper: 10},
	{Lower: 0, Upper: 1},
	{Lower: 5, Upper: 20},
}

const (
	bayesSigma      = 0.2
	bayesPriorSigma = 5.0
)

func normalPDF(x, sigma float64) float64 {
	return math.Exp(-x*x/(2*sigma*sigma)) / (sigma * math.Sqrt(2*math.Pi))
}

// bayesDensity is the posterior of p = (c0, c1, w, b) for the line
// y = c0 + c1·x, up to the evidence. Each point is either good, with
// probability 1-w, or an outlier whose error is b times larger. The priors
// are normal for c and uniform for w on [0,1] and b on [5,20].
func bayesDensity(x vegas.Batch) ([]float64, error) {
	out := make([]float64, x.Len())
	for i := range out {
		c0, c1, w, b := x.At(i, 0), x.At(i, 1), x.At(i, 2), x.At(i, 3)

		p := normalPDF(c0, bayesPriorSigma) * normalPDF(c1, bayesPriorSigma) / 15
		for j, xj := range bayesX {
			r := bayesY[j] - c0 - c1*xj
			p *= (1-w)*normalPDF(r, bayesSigma) + w*normalPDF(r, b*bayesSigma)
		}

		out[i] = p
	}

	return out, nil
}

func bayesParams(x vegas.Batch) (vegas.Output, error) {
	n := x.Len()

	c := make([]float64, 2*n)
	w := make([]float64, n)
	b := make([]float64, n)

	for i := 0; i < n; i++ {
		c[2*i], c[2*i+1] = x.At(i, 0), x.At(i, 1)
		w[i], b[i] = x.At(i, 2), x.At(i, 3)
	}

	return vegas.MapOutput(map[string]vegas.Output{
		"c": vegas.VectorOutput(2, c),
		"w": vegas.ScalarOutput(w),
		"b": vegas.ScalarOutput(b),
	}), nil
}

// bayesGrid centres the c axes on a least-squares fit, widened because
// the outliers bias it. The w and b axes stay close to uniform.
func bayesGrid(cfg vegas.Config) (*vegas.Grid, error) {
	c0, c1 := stat.LinearRegression(bayesX, bayesY, nil, false)

	n := float64(len(bayesX))
	xbar := stat.Mean(bayesX, nil)
	sxx := stat.Variance(bayesX, nil) * (n - 1)

	s1 := bayesSigma / math.Sqrt(sxx)
	s0 := bayesSigma * math.Sqrt(1/n+xbar*xbar/sxx)

	return vegas.NewGaussianGrid(
		bayesLimits,
		[]float64{c0, c1, 0.5, 12.5},
		[]float64{10 * s0, 10 * s1, 10, 150},
		gridNinc(cfg),
	)
}

func runBayes(ctx context.Context, integ *vegas.Integrator, warmup int, w io.Writer) error {
	p, err := vegas.NewPDFIntegrator(integ, vegas.DensityFunc(bayesDensity))
	if err != nil {
		return err
	}

	if warmup > 0 {
		if _, err := p.Expect(ctx, nil, vegas.WithNitn(warmup)); err != nil {
			return err
		}

		slog.Info("warm-up completed", "iterations", warmup)
	}

	e, err := p.Stats(ctx, vegas.IntegrandFunc(bayesParams), vegas.WithAdapt(false))
	if err != nil {
		return err
	}

	fmt.Fprint(w, e.Result.Summary(false))
	fmt.Fprintln(w, e)

	for _, name := range []string{"c", "w", "b"} {
		f, _ := e.Shape.Field(name)
		for k := f.Offset; k < f.Offset+f.Size; k++ {
			fmt.Fprintf(w, "%-5s = %.4f ± %.4f  (mean %s)\n", e.Streams()[k], e.DistMean(k), e.DistSdev(k), e.At(k))
		}
	}

	c, _ := e.Shape.Field("c")
	corr := e.DistCov(c.Offset, c.Offset+1) / (e.DistSdev(c.Offset) * e.DistSdev(c.Offset+1))

	fmt.Fprintf(w, "corr(c[0], c[1]) = %.3f\n", corr)
	fmt.Fprintf(w, "logBF = %s\n", e.LogBF())

	return nil
}

// gridNinc is the number of increments per axis the integrator would pick
// for cfg.
func gridNinc(cfg vegas.Config) int {
	return max(2, min(cfg.Neval/10, max(cfg.Ninc, 2)))
}
