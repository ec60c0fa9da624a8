package vegas

import (
	"fmt"
)

// Limits defines the integration range along one dimension.
//
// Fields:
// - Lower: The lower integration limit
// - Upper: The upper integration limit
//
// Usage:
//
//	// Unit square.
//	limits := []Limits{{Lower: 0, Upper: 1}, {Lower: 0, Upper: 1}}
//
// Validation:
// - Both limits must be finite
// - Upper must be strictly greater than Lower
type Limits struct {
	// Lower is the lower integration limit.
	Lower float64 `json:"lower" yaml:"lower"`

	// Upper is the upper integration limit.
	Upper float64 `json:"upper" yaml:"upper"`
}

// Width returns Upper - Lower.
func (l Limits) Width() float64 {
	return l.Upper - l.Lower
}

func validateLimits(limits []Limits) error {
	if len(limits) == 0 {
		return configError("at least one dimension is required")
	}

	for d, l := range limits {
		if !isFinite(l.Lower) || !isFinite(l.Upper) {
			return configError("dimension %d: limits must be finite, got [%g, %g]", d, l.Lower, l.Upper)
		}

		if l.Upper <= l.Lower {
			return configError("dimension %d: upper limit %g must exceed lower limit %g", d, l.Upper, l.Lower)
		}
	}

	return nil
}

// Batch is a block of points handed to an integrand in one call. Points are
// stored row-major: coordinate d of point i is X[i*Dim+d].
type Batch struct {
	// Dim is the number of coordinates per point.
	Dim int

	// X holds Len()*Dim coordinates.
	X []float64
}

// Len returns the number of points in the batch.
func (b Batch) Len() int {
	if b.Dim == 0 {
		return 0
	}

	return len(b.X) / b.Dim
}

// At returns coordinate d of point i.
func (b Batch) At(i, d int) float64 {
	return b.X[i*b.Dim+d]
}

// Point returns point i as a slice sharing the batch memory. Callers must not
// modify it.
func (b Batch) Point(i int) []float64 {
	return b.X[i*b.Dim : (i+1)*b.Dim]
}

// Integrand is the function being integrated. Eval is called once per batch
// and must return one value (scalar, vector or named fields) per point, with
// the same shape on every call.
//
// Eval must be total over the integration domain: an error or a non-finite
// value aborts the run. With Config.Workers > 1, Eval is called concurrently
// and must be safe for that.
type Integrand interface {
	Eval(x Batch) (Output, error)
}

// IntegrandFunc adapts a function to the Integrand interface.
//
// Usage example:
//
//	f := IntegrandFunc(func(x Batch) (Output, error) {
//	    out := make([]float64, x.Len())
//	    for i := range out {
//	        out[i] = math.Exp(-x.At(i, 0) * x.At(i, 0))
//	    }
//	    return ScalarOutput(out), nil
//	})
type IntegrandFunc func(x Batch) (Output, error)

// Eval calls f(x).
func (f IntegrandFunc) Eval(x Batch) (Output, error) {
	return f(x)
}

// Density is an unnormalized probability density over the integration
// domain, used by PDFIntegrator. Eval returns one non-negative value per
// point.
type Density interface {
	Eval(x Batch) ([]float64, error)
}

// DensityFunc adapts a function to the Density interface.
type DensityFunc func(x Batch) ([]float64, error)

// Eval calls f(x).
func (f DensityFunc) Eval(x Batch) ([]float64, error) {
	return f(x)
}

// ProgressUpdate represents the state of a run after one iteration.
type ProgressUpdate struct {
	// RunID identifies the Integrate call.
	RunID string

	// Iteration is the 1-based number of the iteration just completed.
	Iteration int

	// TotalIterations is the number of iterations requested for the run.
	TotalIterations int

	// Neval is the number of integrand evaluations in the iteration.
	Neval int

	// Estimate is the iteration's estimate of the first output stream.
	Estimate Estimate

	// Average is the weighted average of the first stream so far.
	Average Estimate

	// Chi2PerDOF is the running consistency statistic (0 after one iteration).
	Chi2PerDOF float64

	// Adapting reports whether the grid was refined after the iteration.
	Adapting bool
}

// Estimate is a mean with its standard deviation.
type Estimate struct {
	Mean float64
	Sdev float64
}

// String renders the estimate as mean(error), e.g. 3.1416(12).
func (e Estimate) String() string {
	return formatUncertain(e.Mean, e.Sdev)
}

// Var returns Sdev squared.
func (e Estimate) Var() float64 {
	return e.Sdev * e.Sdev
}

func (p ProgressUpdate) String() string {
	return fmt.Sprintf("itn %d/%d: %s (average %s, chi2/dof %.2f)",
		p.Iteration, p.TotalIterations, p.Estimate, p.Average, p.Chi2PerDOF)
}
