package vegas

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitGrid(t *testing.T, dim, ninc int) *Grid {
	t.Helper()

	limits := make([]Limits, dim)
	for d := range limits {
		limits[d] = Limits{Lower: 0, Upper: 1}
	}

	g, err := NewGrid(limits, ninc)
	require.NoError(t, err)

	return g
}

func TestStrataLayoutWithinBudget(t *testing.T) {
	for dim := 1; dim <= 8; dim++ {
		for _, neval := range []int{2, 10, 100, 1000, 12345} {
			for _, minPer := range []int{2, 3, 10} {
				if neval < minPer {
					continue
				}

				t.Run(fmt.Sprintf("d%d_n%d_m%d", dim, neval, minPer), func(t *testing.T) {
					g := unitGrid(t, dim, 50)
					l := newStrataLayout(g, neval, minPer)

					total := 1
					for d, s := range l.nstrat {
						assert.GreaterOrEqual(t, s, 1)
						assert.LessOrEqual(t, s, g.Ninc(d))
						total *= s
					}

					assert.Equal(t, total, l.total)
					assert.LessOrEqual(t, l.total, max(neval/minPer, 1))
				})
			}
		}
	}
}

func TestStrataLayoutMergesHighIndexAxes(t *testing.T) {
	g := unitGrid(t, 10, 10)
	l := newStrataLayout(g, 100, 2)

	assert.Equal(t, []int{2, 2, 2, 2, 2, 1, 1, 1, 1, 1}, l.nstrat)
	assert.Equal(t, 32, l.total)
}

func TestStrataLayoutCappedByIncrements(t *testing.T) {
	l := newStrataLayout(unitGrid(t, 1, 100), 1000, 2)
	assert.Equal(t, []int{100}, l.nstrat)

	l = newStrataLayout(unitGrid(t, 2, 100), 1000, 2)
	assert.Equal(t, []int{22, 22}, l.nstrat)
	assert.Equal(t, []int{22, 1}, l.stride)
}

func TestStrataLayoutAllocateUniform(t *testing.T) {
	l := newStrataLayout(unitGrid(t, 2, 100), 1000, 2)
	l.allocate(1000, 2, nil)

	assert.Equal(t, 1000, l.evaluations())
	assert.Equal(t, 3, l.neval[0])
	assert.Equal(t, 3, l.neval[31])
	assert.Equal(t, 2, l.neval[32])
	assert.Equal(t, 2, l.neval[483])
}

func TestStrataLayoutAllocateTargets(t *testing.T) {
	l := newStrataLayout(unitGrid(t, 1, 10), 100, 2)
	require.Equal(t, 10, l.total)

	targets := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 11}
	l.allocate(100, 2, targets)

	assert.Equal(t, 100, l.evaluations())

	for _, n := range l.neval {
		assert.GreaterOrEqual(t, n, 2)
	}

	assert.Equal(t, 2+int(80*11.0/20), l.neval[9])
	assert.Greater(t, l.neval[9], l.neval[0])

	// Shares of 80/3 each: floors give 26, the largest remainders (all
	// equal) go to the lowest indices.
	l = newStrataLayout(unitGrid(t, 1, 3), 86, 2)
	require.Equal(t, 3, l.total)

	l.allocate(86, 2, []float64{1, 1, 1})
	assert.Equal(t, []int{29, 29, 28}, l.neval)
}

func TestStrataLayoutBatches(t *testing.T) {
	l := newStrataLayout(unitGrid(t, 1, 10), 100, 2)
	l.allocate(100, 2, []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 31})

	jobs := l.batches(15)
	require.NotEmpty(t, jobs)

	next, npts := 0, 0
	for _, job := range jobs {
		assert.Equal(t, next, job.first)
		assert.Greater(t, job.last, job.first)

		n := 0
		for h := job.first; h < job.last; h++ {
			n += l.neval[h]
		}

		assert.Equal(t, n, job.npts)

		if job.last-job.first > 1 {
			assert.LessOrEqual(t, job.npts, 15)
		}

		next = job.last
		npts += job.npts
	}

	assert.Equal(t, l.total, next)
	assert.Equal(t, l.evaluations(), npts)

	// The large last stratum gets a job of its own.
	last := jobs[len(jobs)-1]
	assert.Equal(t, 9, last.first)
	assert.Greater(t, last.npts, 15)
}

func TestStrataLayoutSample(t *testing.T) {
	g, err := NewGrid([]Limits{{Lower: -1, Upper: 1}, {Lower: 0, Upper: 3}}, 8)
	require.NoError(t, err)

	l := newStrataLayout(g, 200, 2)
	l.allocate(200, 2, nil)

	job := batchJob{first: 0, last: l.total, npts: l.evaluations()}
	b := l.sample(g, job, 42, 0)

	require.Len(t, b.x, 2*job.npts)

	var sum float64
	for i := 0; i < job.npts; i++ {
		assert.GreaterOrEqual(t, b.x[2*i], -1.0)
		assert.LessOrEqual(t, b.x[2*i], 1.0)
		assert.GreaterOrEqual(t, b.x[2*i+1], 0.0)
		assert.LessOrEqual(t, b.x[2*i+1], 3.0)
		assert.InDelta(t, g.Volume(), b.jac[i], 1e-12)

		sum += b.wgt[i]
	}

	// The weights of a uniform grid integrate the constant 1 exactly.
	assert.InDelta(t, g.Volume(), sum, 1e-12)

	// Points stay inside their stratum.
	c := make([]int, 2)
	pos := 0

	for h := 0; h < l.total; h++ {
		l.coords(h, c)

		for k := 0; k < l.neval[h]; k++ {
			y0 := (b.x[2*pos] + 1) / 2
			y1 := b.x[2*pos+1] / 3

			assert.GreaterOrEqual(t, y0*float64(l.nstrat[0]), float64(c[0])-1e-9)
			assert.LessOrEqual(t, y0*float64(l.nstrat[0]), float64(c[0]+1)+1e-9)
			assert.GreaterOrEqual(t, y1*float64(l.nstrat[1]), float64(c[1])-1e-9)
			assert.LessOrEqual(t, y1*float64(l.nstrat[1]), float64(c[1]+1)+1e-9)

			pos++
		}
	}
}

func TestStrataLayoutSampleReproducible(t *testing.T) {
	g := unitGrid(t, 3, 10)

	l := newStrataLayout(g, 500, 2)
	l.allocate(500, 2, nil)

	all := batchJob{first: 0, last: l.total, npts: l.evaluations()}
	a := l.sample(g, all, 7, 3)
	b := l.sample(g, all, 7, 3)
	assert.Equal(t, a.x, b.x)

	// Sub-streams are keyed by stratum, so a job split changes nothing.
	var split []float64
	for _, job := range l.batches(37) {
		split = append(split, l.sample(g, job, 7, 3).x...)
	}

	assert.Equal(t, a.x, split)

	// Other iterations and seeds draw other points.
	assert.NotEqual(t, a.x, l.sample(g, all, 7, 4).x)
	assert.NotEqual(t, a.x, l.sample(g, all, 8, 3).x)
}
