package vegas

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
)

//////
// Const, vars, types.
//////

// strataLayout is the lattice of hypercubes (strata) laid over the unit
// hypercube that the grid maps into the domain, plus the number of samples
// each stratum receives in the current iteration.
//
// Strata are indexed in mixed radix with the last dimension varying fastest.
type strataLayout struct {
	nstrat []int
	stride []int
	total  int
	neval  []int
}

// batchJob is a run of consecutive strata evaluated in one integrand call.
type batchJob struct {
	first, last int
	npts        int
}

// sampleBlock holds the points of one batch in structure-of-arrays form.
type sampleBlock struct {
	dim int
	x   []float64
	iy  []int
	jac []float64
	wgt []float64
}

//////
// Factory.
//////

// newStrataLayout chooses the number of strata per dimension for a budget
// of neval samples with at least minPer samples per stratum.
//
// Every dimension first gets s = floor((neval/minPer)^(1/dim)) strata, capped
// by its increment count. Dimensions are then given one more stratum each,
// in ascending index order, while the total stays within the budget. When
// the budget cannot cover s >= 2 everywhere, the highest-index dimensions are
// the ones left merged into a single stratum.
func newStrataLayout(g *Grid, neval, minPer int) *strataLayout {
	dim := g.Dim()
	maxStrata := max(neval/minPer, 1)

	s := max(int(math.Pow(float64(maxStrata), 1/float64(dim))), 1)
	for ipowAtMost(s+1, dim, maxStrata) {
		s++
	}

	for s > 1 && !ipowAtMost(s, dim, maxStrata) {
		s--
	}

	l := &strataLayout{nstrat: make([]int, dim), stride: make([]int, dim), total: 1}

	for d := range l.nstrat {
		l.nstrat[d] = clamp(s, 1, g.Ninc(d))
		l.total *= l.nstrat[d]
	}

	for d := range l.nstrat {
		if l.nstrat[d] >= g.Ninc(d) {
			continue
		}

		grown := l.total / l.nstrat[d] * (l.nstrat[d] + 1)
		if grown <= maxStrata {
			l.total = grown
			l.nstrat[d]++
		}
	}

	stride := 1
	for d := dim - 1; d >= 0; d-- {
		l.stride[d] = stride
		stride *= l.nstrat[d]
	}

	return l
}

//////
// Methods.
//////

// allocate distributes neval samples over the strata. Every stratum gets
// minPer samples. The rest goes out uniformly (remainder to the lowest
// indices) when targets is nil, otherwise in proportion to targets. Either
// way the strata receive exactly neval samples.
func (l *strataLayout) allocate(neval, minPer int, targets []float64) {
	l.neval = make([]int, l.total)

	if targets == nil {
		base, rem := neval/l.total, neval%l.total
		for h := range l.neval {
			l.neval[h] = base
			if h < rem {
				l.neval[h]++
			}
		}

		return
	}

	extra := float64(neval - minPer*l.total)
	sum := floats.Sum(targets)
	frac := make([]float64, l.total)
	used := 0

	for h := range l.neval {
		share := extra * targets[h] / sum
		whole := math.Floor(share)
		l.neval[h] = minPer + int(whole)
		frac[h] = share - whole
		used += l.neval[h]
	}

	// Largest remainders first, lowest index on ties.
	order := make([]int, l.total)
	for h := range order {
		order[h] = h
	}

	sort.SliceStable(order, func(i, j int) bool {
		return frac[order[i]] > frac[order[j]]
	})

	for _, h := range order[:clamp(neval-used, 0, l.total)] {
		l.neval[h]++
	}
}

// coords writes the lattice coordinates of stratum h into c.
func (l *strataLayout) coords(h int, c []int) {
	for d := range l.nstrat {
		c[d] = (h / l.stride[d]) % l.nstrat[d]
	}
}

// evaluations returns the number of samples allocated for the iteration.
func (l *strataLayout) evaluations() int {
	n := 0
	for _, v := range l.neval {
		n += v
	}

	return n
}

// spread returns the smallest and largest per-stratum sample counts.
func (l *strataLayout) spread() (lo, hi int) {
	if len(l.neval) == 0 {
		return 0, 0
	}

	lo, hi = l.neval[0], l.neval[0]
	for _, n := range l.neval[1:] {
		lo, hi = min(lo, n), max(hi, n)
	}

	return lo, hi
}

// batches groups consecutive strata into jobs of at most maxBatch points.
// A stratum larger than maxBatch gets a job of its own.
func (l *strataLayout) batches(maxBatch int) []batchJob {
	var jobs []batchJob

	job := batchJob{}
	for h, n := range l.neval {
		if job.npts > 0 && job.npts+n > maxBatch {
			job.last = h
			jobs = append(jobs, job)
			job = batchJob{first: h}
		}

		job.npts += n
	}

	job.last = l.total
	if job.npts > 0 {
		jobs = append(jobs, job)
	}

	return jobs
}

// sample draws the points of job. Each stratum uses its own generator keyed
// by (seed, itn, stratum), so the points do not depend on how jobs are
// scheduled.
func (l *strataLayout) sample(g *Grid, job batchJob, seed, itn uint64) *sampleBlock {
	dim := g.Dim()
	b := &sampleBlock{
		dim: dim,
		x:   make([]float64, job.npts*dim),
		iy:  make([]int, job.npts*dim),
		jac: make([]float64, job.npts),
		wgt: make([]float64, job.npts),
	}

	vh := 1 / float64(l.total)
	c := make([]int, dim)
	y := make([]float64, dim)
	pos := 0

	for h := job.first; h < job.last; h++ {
		n := l.neval[h]
		rng := rand.New(rand.NewPCG(seed, streamSeed(itn, h)))
		l.coords(h, c)

		for k := 0; k < n; k++ {
			for d := range y {
				y[d] = (float64(c[d]) + rng.Float64()) / float64(l.nstrat[d])
			}

			jac := g.mapPoint(y, b.x[pos*dim:(pos+1)*dim], b.iy[pos*dim:(pos+1)*dim])
			b.jac[pos] = jac
			b.wgt[pos] = jac * vh / float64(n)
			pos++
		}
	}

	return b
}
