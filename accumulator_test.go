package vegas

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/montanaflynn/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulatorStratumCovariance(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))

	const n = 50

	a := make([]float64, n)
	b := make([]float64, n)
	wf := make([]float64, 2*n)

	for k := 0; k < n; k++ {
		a[k] = rng.NormFloat64()
		b[k] = 0.5*a[k] + rng.NormFloat64()
		wf[2*k], wf[2*k+1] = a[k], b[k]
	}

	acc := newIterationAccumulator(2)
	adaptVar := acc.addStratum(wf, n, 1)
	r := acc.result()

	sumA, err := stats.Sum(a)
	require.NoError(t, err)
	sumB, err := stats.Sum(b)
	require.NoError(t, err)

	covAB, err := stats.Covariance(a, b)
	require.NoError(t, err)
	varA, err := stats.Variance(a)
	require.NoError(t, err)
	varB, err := stats.SampleVariance(b)
	require.NoError(t, err)

	assert.InDelta(t, sumA, r.Mean[0], 1e-12)
	assert.InDelta(t, sumB, r.Mean[1], 1e-12)

	// The variance of a sum of n draws is n times the sample variance.
	assert.InDelta(t, n*covAB, r.CovAt(0, 1), 1e-9)
	assert.InDelta(t, n*covAB, r.CovAt(1, 0), 1e-9)
	assert.InDelta(t, n*varA*n/(n-1), r.Var(0), 1e-9)
	assert.InDelta(t, n*varB, r.Var(1), 1e-9)
	assert.InDelta(t, r.Var(1), adaptVar, 1e-12)

	assert.Equal(t, n, r.Neval)
	assert.Equal(t, 1, r.Nstrata)
	assert.False(t, r.Degenerate)
}

func TestAccumulatorMerge(t *testing.T) {
	whole := newIterationAccumulator(1)
	whole.addStratum([]float64{1, 2, 4}, 3, 0)
	whole.addStratum([]float64{0.5, 0.25}, 2, 0)

	first := newIterationAccumulator(1)
	first.addStratum([]float64{1, 2, 4}, 3, 0)

	second := newIterationAccumulator(1)
	second.addStratum([]float64{0.5, 0.25}, 2, 0)
	first.merge(second)

	r, m := whole.result(), first.result()
	assert.InDelta(t, r.Mean[0], m.Mean[0], 1e-15)
	assert.InDelta(t, r.Var(0), m.Var(0), 1e-12)
	assert.Equal(t, r.Neval, m.Neval)

	assert.InDelta(t, 7.75, r.Mean[0], 1e-15)
	assert.Equal(t, 5, r.Neval)
	assert.Equal(t, 2, r.Nstrata)

	// 3/2·((1-7/3)² + (2-7/3)² + (4-7/3)²) + 2·(0.125²·2)
	want := 1.5*(16.0/9+1.0/9+25.0/9) + 2*2*0.125*0.125
	assert.InDelta(t, want, r.Var(0), 1e-12)
}

func TestAccumulatorDegenerate(t *testing.T) {
	acc := newIterationAccumulator(2)
	acc.addStratum([]float64{3, 0, 3, 0}, 2, 0)

	r := acc.result()
	assert.True(t, r.Degenerate)
	assert.InDelta(t, 6.0, r.Mean[0], 1e-15)
	assert.Equal(t, varianceFloor(6), r.Var(0))
	assert.Equal(t, varianceFloor(0), r.Var(1))
	assert.Greater(t, r.Var(1), 0.0)
	assert.False(t, math.IsInf(1/r.Var(1), 0))
}
