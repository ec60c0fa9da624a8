package vegas

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
)

var scalarShape = Shape{Kind: ShapeScalar, Fields: []FieldShape{{Size: 1}}}

func scalarIteration(mean, sdev float64) IterationResult {
	return IterationResult{Mean: []float64{mean}, Cov: []float64{sdev * sdev}, Neval: 100}
}

func TestCombineWeightedAverage(t *testing.T) {
	r, err := Combine(scalarShape, scalarIteration(1, 0.1), scalarIteration(1.2, 0.2))
	require.NoError(t, err)

	// Weights 100 and 25.
	assert.InDelta(t, 1.04, r.Mean(0), 1e-12)
	assert.InDelta(t, 0.008, r.Var(0), 1e-15)
	assert.InDelta(t, math.Sqrt(0.008), r.Sdev(0), 1e-15)

	// 0.04²/0.01 + 0.16²/0.04
	assert.InDelta(t, 0.8, r.Chi2(), 1e-12)
	assert.Equal(t, 1, r.DOF())
	assert.InDelta(t, 0.8, r.Chi2PerDOF(), 1e-12)
	assert.InDelta(t, distuv.ChiSquared{K: 1}.Survival(0.8), r.Q(), 1e-12)
	assert.InDelta(t, 0.371, r.Q(), 1e-3)
}

func TestCombineSingleIteration(t *testing.T) {
	r, err := Combine(scalarShape, scalarIteration(2, 0.5))
	require.NoError(t, err)

	assert.Equal(t, Estimate{Mean: 2, Sdev: 0.5}, r.Estimate())
	assert.Equal(t, 0, r.DOF())
	assert.Equal(t, 0.0, r.Chi2PerDOF())
	assert.Equal(t, 1.0, r.Q())
	assert.NoError(t, r.checkConvergence(1))
}

func TestCombineEmpty(t *testing.T) {
	r, err := Combine(scalarShape)
	require.NoError(t, err)

	assert.Equal(t, 0, r.NumIterations())
	assert.True(t, math.IsNaN(r.Mean(0)))
	assert.True(t, math.IsNaN(r.Sdev(0)))
}

func TestResultMergeAssociative(t *testing.T) {
	its := []IterationResult{
		scalarIteration(1.00, 0.10),
		scalarIteration(1.10, 0.05),
		scalarIteration(0.95, 0.20),
	}

	all, err := Combine(scalarShape, its...)
	require.NoError(t, err)

	left, err := Combine(scalarShape, its[:2]...)
	require.NoError(t, err)

	right, err := Combine(scalarShape, its[2:]...)
	require.NoError(t, err)

	merged, err := left.Merge(right)
	require.NoError(t, err)

	assert.InDelta(t, all.Mean(0), merged.Mean(0), 1e-14)
	assert.InDelta(t, all.Var(0), merged.Var(0), 1e-16)
	assert.InDelta(t, all.Chi2(), merged.Chi2(), 1e-12)
	assert.Equal(t, all.DOF(), merged.DOF())

	// Inputs are untouched.
	assert.Equal(t, 2, left.NumIterations())
	assert.Equal(t, 1, right.NumIterations())

	vector := Shape{Kind: ShapeVector, Fields: []FieldShape{{Size: 2, Vector: true}}}
	_, err = left.Merge(newResult("", vector))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestResultCrossCovariance(t *testing.T) {
	shape := Shape{Kind: ShapeVector, Fields: []FieldShape{{Size: 2, Vector: true}}}

	it1 := IterationResult{Mean: []float64{1, 2}, Cov: []float64{0.01, 0.005, 0.005, 0.04}}
	it2 := IterationResult{Mean: []float64{1.1, 2.2}, Cov: []float64{0.04, 0.01, 0.01, 0.04}}

	r, err := Combine(shape, it1, it2)
	require.NoError(t, err)

	// Stream weights: a = (0.8, 0.2), b = (0.5, 0.5).
	want := 0.8*0.5*0.005 + 0.2*0.5*0.01
	assert.InDelta(t, want, r.Cov(0, 1), 1e-15)
	assert.InDelta(t, want, r.Cov(1, 0), 1e-15)
	assert.InDelta(t, 0.008, r.Var(0), 1e-15)
	assert.InDelta(t, 0.02, r.Var(1), 1e-15)
	assert.Equal(t, 2, r.DOF())

	cov := r.Covariance()
	assert.InDelta(t, want, cov[0][1], 1e-15)

	est := r.Field("")
	require.Len(t, est, 2)
	assert.InDelta(t, 2.1, est[1].Mean, 1e-12)
	assert.Nil(t, r.Field("missing"))
}

func TestResultVarianceFloor(t *testing.T) {
	r, err := Combine(scalarShape, scalarIteration(5, 0))
	require.NoError(t, err)

	require.Equal(t, 1, r.NumIterations())
	assert.True(t, r.Itn[0].Degenerate)
	assert.Equal(t, varianceFloor(5), r.Var(0))
	assert.InDelta(t, 5.0, r.Mean(0), 1e-15)
}

func TestResultExcludesNonFinite(t *testing.T) {
	r, err := Combine(scalarShape,
		scalarIteration(1, 0.1),
		scalarIteration(math.NaN(), 0.1),
		scalarIteration(1, math.Inf(1)),
	)
	require.NoError(t, err)

	assert.Equal(t, 1, r.NumIterations())
	assert.Equal(t, 2, r.Excluded)
	require.Len(t, r.Warnings, 2)

	for _, w := range r.Warnings {
		assert.ErrorIs(t, w, ErrNumericInstability)
	}

	assert.InDelta(t, 1.0, r.Mean(0), 1e-15)
}

func TestResultRejectsWrongStreamCount(t *testing.T) {
	_, err := Combine(scalarShape, IterationResult{Mean: []float64{1, 2}, Cov: make([]float64, 4)})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestResultConvergenceWarning(t *testing.T) {
	r, err := Combine(scalarShape, scalarIteration(1, 0.01), scalarIteration(2, 0.01))
	require.NoError(t, err)

	err = r.checkConvergence(2)
	assert.ErrorIs(t, err, ErrConvergence)
	assert.Equal(t, CodeConvergence, Code(err))
	assert.Less(t, r.Q(), 1e-6)
}

func TestResultSummary(t *testing.T) {
	shape := Shape{Kind: ShapeMap, Fields: []FieldShape{
		{Name: "I", Size: 1},
		{Name: "dI", Size: 2, Vector: true, Offset: 1},
	}}

	it := IterationResult{
		Mean: []float64{1, 0.4, 0.6},
		Cov:  []float64{1e-4, 0, 0, 0, 1e-4, 0, 0, 0, 1e-4},
	}

	r, err := Combine(shape, it, it)
	require.NoError(t, err)

	s := r.Summary(false)
	assert.Contains(t, s, "itn")
	assert.Contains(t, s, "wgt average")
	assert.Equal(t, 4, strings.Count(s, "\n"))
	assert.NotContains(t, s, "key/index")
	assert.Equal(t, s, r.String())

	s = r.Summary(true)
	assert.Contains(t, s, "key/index")
	assert.Contains(t, s, "dI[1]")
	assert.Contains(t, s, "0.6000(71)")
	assert.Equal(t, []string{"I", "dI[0]", "dI[1]"}, r.Streams())
}

func TestFormatUncertain(t *testing.T) {
	cases := []struct {
		mean, sdev float64
		want       string
	}{
		{3.14159, 0.0012, "3.1416(12)"},
		{12345, 67, "12345(67)"},
		{1.5e-7, 2e-9, "1.500(20)e-07"},
		{2.5e8, 3e6, "2.500(30)e+08"},
		{-0.5, 0.25, "-0.50(25)"},
		{1, 0, "1(0)"},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, formatUncertain(c.mean, c.sdev), "%g ± %g", c.mean, c.sdev)
	}

	assert.Equal(t, "3.1416(12)", Estimate{Mean: 3.14159, Sdev: 0.0012}.String())
}
