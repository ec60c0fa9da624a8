package vegas

import (
	"errors"
	"math"
)

// evaluator runs the batches of one iteration: it samples the points of a
// batch, calls the integrand once and reduces the values to a partial
// iteration estimate plus grid training data.
type evaluator struct {
	f          Integrand
	resolver   *shapeResolver
	adaptField string
	layout     *strataLayout
	grid       *Grid
	seed       uint64
	itn        uint64
	train      bool
}

// batchOutcome is the contribution of one batch.
type batchOutcome struct {
	acc   *iterationAccumulator
	train *Training

	// sigma is the spread of the adapted stream in every stratum of the
	// batch, normalized to one sample so it does not depend on the budget.
	sigma []float64
}

// run evaluates job.
func (e *evaluator) run(job batchJob) (*batchOutcome, error) {
	block := e.layout.sample(e.grid, job, e.seed, e.itn)

	out, err := e.f.Eval(Batch{Dim: block.dim, X: block.x})
	if err != nil {
		var coded *Error
		if errors.As(err, &coded) {
			return nil, err
		}

		return nil, integrandError(err, "integrand failed on a batch of %d points", job.npts)
	}

	shape, err := e.resolver.resolve(out, job.npts)
	if err != nil {
		return nil, err
	}

	adapt, err := adaptStream(shape, e.adaptField)
	if err != nil {
		return nil, err
	}

	ns := shape.NumStreams()

	vals := make([]float64, job.npts*ns)
	if err := shape.flatten(out, job.npts, vals); err != nil {
		return nil, err
	}

	wf := make([]float64, len(vals))
	for i, w := range block.wgt {
		for a := 0; a < ns; a++ {
			wf[i*ns+a] = w * vals[i*ns+a]
		}
	}

	o := &batchOutcome{
		acc:   newIterationAccumulator(ns),
		sigma: make([]float64, job.last-job.first),
	}

	pos := 0
	for h := job.first; h < job.last; h++ {
		n := e.layout.neval[h]
		v := o.acc.addStratum(wf[pos*ns:(pos+n)*ns], n, adapt)
		o.sigma[h-job.first] = math.Sqrt(v * float64(n))
		pos += n
	}

	if e.train {
		o.train = NewTraining(e.grid)

		for i, jac := range block.jac {
			fj := vals[i*ns+adapt] * jac
			o.train.add(block.iy[i*block.dim:(i+1)*block.dim], fj*fj)
		}
	}

	return o, nil
}

// adaptStream returns the index of the stream the grid adapts to: the first
// stream when field is empty, otherwise the named stream or the first
// element of the named field.
func adaptStream(shape Shape, field string) (int, error) {
	if field == "" {
		return 0, nil
	}

	if i, ok := shape.Stream(field); ok {
		return i, nil
	}

	if f, ok := shape.Field(field); ok {
		return f.Offset, nil
	}

	return 0, configError("adapt field %q not found in output shape %s", field, shape)
}
