// Package vegas provides adaptive multidimensional Monte Carlo integration.
// It estimates integrals of scalar, vector and named-field integrands with
// quantified uncertainty, combining importance sampling on an adaptive grid
// with stratified sampling.
//
// # Features
//
// The package includes the following key features:
//
//   - Adaptive Importance Sampling: a per-dimension grid is refined every
//     iteration so that samples concentrate where the integrand is large
//   - Adaptive Stratified Sampling: the unit hypercube is split into strata
//     whose sample budget follows the variance seen in the last iteration
//   - Batch Integrands: the integrand is called once per batch of points
//   - Multi-valued Integrands: vector and named-field outputs share samples,
//     so the covariance between their integrals is estimated too
//   - Reproducible Parallelism: batches run on a worker pool, and results are
//     bit-identical for a given seed whatever the number of workers
//   - Expectation Values: PDFIntegrator computes E[g] and the norm of an
//     unnormalized density, e.g. a Bayesian posterior and its evidence
//   - Reusable Grids: adapted grids can be saved, restored and reused
//   - Observability: structured logs (slog), prometheus metrics, otel spans
//     and progress updates via channels
//
// # Usage
//
//	config := vegas.DefaultConfig()
//	config.Nitn = 10
//	config.Neval = 10_000
//
//	integ, err := vegas.New([]vegas.Limits{{Lower: 0, Upper: 1}, {Lower: 0, Upper: 1}}, config)
//	if err != nil {
//	    return err
//	}
//
//	f := vegas.IntegrandFunc(func(x vegas.Batch) (vegas.Output, error) {
//	    out := make([]float64, x.Len())
//	    for i := range out {
//	        dx, dy := x.At(i, 0)-0.5, x.At(i, 1)-0.5
//	        out[i] = math.Exp(-100 * (dx*dx + dy*dy))
//	    }
//	    return vegas.ScalarOutput(out), nil
//	})
//
//	// Adapt the grid, then integrate on the adapted grid.
//	if _, err := integ.Integrate(ctx, f); err != nil {
//	    return err
//	}
//
//	result, err := integ.Integrate(ctx, f, vegas.WithAdapt(false))
//	if err != nil {
//	    return err
//	}
//
//	fmt.Println(result.Summary(false))
//
// # Results
//
// Each iteration produces an independent estimate. Result averages them with
// inverse-variance weights and reports chi2 per degree of freedom and its Q
// value. A chi2/dof well above 1 means iterations disagree, usually because
// early iterations ran on a poorly adapted grid; the run then carries a
// convergence warning in Result.Warnings.
//
// Recommended settings:
//   - Neval: large enough for several samples per grid increment
//   - Alpha: 0.5 while adapting, lower to stabilize a long run
//   - Adapt: false for the final run, whose estimate is then unbiased
//
// # Thread Safety
//
//   - Grid is immutable and can be shared freely
//   - Integrate calls on one Integrator are serialized
//   - With Workers > 1 the integrand is called concurrently
//   - Progress updates never block: they are dropped when the channel is full
package vegas
