package vegas

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

//////
// Const, vars, types.
//////

var tracer = otel.Tracer("github.com/thalesfsp/vegas")

// Integrator estimates integrals over a fixed domain with an adaptive grid.
// The grid, and the per-stratum budget learned from it, persist across
// Integrate calls, so a warm-up call can adapt the grid that a later
// production call (WithAdapt(false)) reuses.
//
// Integrate calls on one Integrator are serialized. Use separate
// integrators to run integrations concurrently.
type Integrator struct {
	mu     sync.Mutex
	config Config
	grid   *Grid
	sigma  []float64

	// itn counts completed iterations over the integrator's lifetime. It keys
	// the random sub-streams, so repeating a call continues the sequence
	// instead of replaying it.
	itn uint64
}

// iteration is the reduced output of one iteration.
type iteration struct {
	result IterationResult
	train  *Training
	sigma  []float64
}

//////
// Factory.
//////

// New returns an integrator over limits, starting from a uniform grid.
//
// Usage example:
//
//	config := DefaultConfig()
//	config.Nitn = 10
//	config.Neval = 1000
//
//	integ, err := New([]Limits{{-1, 1}, {0, math.Pi}}, config)
//	if err != nil {
//	    return err
//	}
//
//	// Adapt the grid; discard the result.
//	if _, err := integ.Integrate(ctx, f); err != nil {
//	    return err
//	}
//
//	// Production run on the adapted grid.
//	result, err := integ.Integrate(ctx, f, WithAdapt(false))
func New(limits []Limits, cfg Config) (*Integrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g, err := NewGrid(limits, cfg.effectiveNinc())
	if err != nil {
		return nil, err
	}

	return &Integrator{config: cfg, grid: g}, nil
}

// NewFromGrid returns an integrator that starts from a previously adapted or
// restored grid. The domain is the grid's domain.
func NewFromGrid(g *Grid, cfg Config) (*Integrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if g == nil {
		return nil, configError("grid is required")
	}

	return &Integrator{config: cfg, grid: g}, nil
}

//////
// Methods.
//////

// Config returns the integrator's base configuration.
func (in *Integrator) Config() Config {
	in.mu.Lock()
	defer in.mu.Unlock()

	return in.config
}

// Grid returns the current grid.
func (in *Integrator) Grid() *Grid {
	in.mu.Lock()
	defer in.mu.Unlock()

	return in.grid
}

// SetGrid replaces the grid, e.g. with one restored by ReadGrid. The learned
// stratum budget is reset.
func (in *Integrator) SetGrid(g *Grid) error {
	if g == nil {
		return configError("grid is required")
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if g.Dim() != in.grid.Dim() {
		return configError("grid has %d dimensions, integrator has %d", g.Dim(), in.grid.Dim())
	}

	in.grid = g
	in.sigma = nil

	return nil
}

// Integrate runs Nitn iterations of f and returns their weighted average.
// opts override the base configuration for this call only.
//
// How it works, per iteration:
//  1. The unit hypercube is split into strata and the budget distributed
//     over them (uniformly, or following the previous iteration's spread)
//  2. Every stratum draws its points from its own random sub-stream; the
//     grid maps them into the domain
//  3. Batches of whole strata are evaluated on Workers goroutines and
//     reduced in batch order, so results do not depend on Workers
//  4. With Adapt set, the grid is refined and the budget re-targeted
//
// Errors:
//   - ErrConfiguration: invalid options, or an output shape that changes
//   - ErrIntegrand: f failed or returned a non-finite value; the result is nil
//   - ErrNumericInstability: every iteration was excluded
//   - context errors: the result holds the iterations completed before
//     cancellation and the grid is left as after the last of them
//
// Convergence warnings (chi2/dof above MaxChi2PerDOF) and excluded iterations
// are reported in Result.Warnings, never as the returned error.
func (in *Integrator) Integrate(ctx context.Context, f Integrand, opts ...Option) (*Result, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	cfg := in.config.apply(opts...)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := cfg.Validate(); err != nil {
		cfg.Metrics.observeFailure(err)

		return nil, err
	}

	if f == nil {
		return nil, configError("integrand is required")
	}

	runID := uuid.NewString()
	logger = logger.With(slog.String("run_id", runID))

	ctx, span := tracer.Start(ctx, "vegas.Integrate",
		trace.WithAttributes(
			attribute.String("vegas.run_id", runID),
			attribute.Int("vegas.dim", in.grid.Dim()),
			attribute.Int("vegas.nitn", cfg.Nitn),
			attribute.Int("vegas.neval", cfg.Neval),
			attribute.Bool("vegas.adapt", cfg.Adapt),
		),
	)
	defer span.End()

	ad := adapter{alpha: cfg.Alpha, beta: cfg.Beta, ninc: cfg.effectiveNinc()}
	resolver := &shapeResolver{}

	var result *Result

	// partial returns the result so far, empty when no iteration completed.
	partial := func() *Result {
		if result != nil {
			return result
		}

		shape, _ := resolver.current()

		return newResult(runID, shape)
	}

	for i := 0; i < cfg.Nitn; i++ {
		if err := ctx.Err(); err != nil {
			return in.cancelled(span, logger, partial(), err)
		}

		start := time.Now()

		it, err := in.iterate(ctx, f, cfg, ad, resolver)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return in.cancelled(span, logger, partial(), ctxErr)
			}

			cfg.Metrics.observeFailure(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("integration failed", slog.Int("iteration", i+1), slog.Any("error", err))

			return nil, err
		}

		in.itn++

		if result == nil {
			shape, _ := resolver.current()
			result = newResult(runID, shape)
		}

		excluded := result.Excluded
		if err := result.add(it.result); err != nil {
			return nil, err
		}

		usable := result.Excluded == excluded
		if !usable {
			warning := result.Warnings[len(result.Warnings)-1]
			cfg.Metrics.observeFailure(warning)
			logger.Warn("iteration excluded", slog.Int("iteration", i+1), slog.Any("error", warning))
		}

		adapting := cfg.Adapt && usable
		if adapting {
			in.grid = ad.refine(in.grid, it.train)
			in.sigma = it.sigma
		}

		elapsed := time.Since(start)
		cfg.Metrics.observeIteration(it.result.Neval, adapting, elapsed)

		update := ProgressUpdate{
			RunID:           runID,
			Iteration:       i + 1,
			TotalIterations: cfg.Nitn,
			Neval:           it.result.Neval,
			Estimate:        it.result.Estimate(0),
			Average:         result.Estimate(),
			Chi2PerDOF:      result.Chi2PerDOF(),
			Adapting:        adapting,
		}

		logger.Debug("iteration completed",
			slog.Int("iteration", update.Iteration),
			slog.Int("neval", update.Neval),
			slog.Int("nstrata", it.result.Nstrata),
			slog.String("estimate", update.Estimate.String()),
			slog.String("average", update.Average.String()),
			slog.Float64("chi2_per_dof", update.Chi2PerDOF),
			slog.Duration("elapsed", elapsed),
		)

		if cfg.ProgressChan != nil {
			select {
			case cfg.ProgressChan <- update:
			default:
				// Skip update if channel is full.
			}
		}
	}

	if result.NumIterations() == 0 {
		err := newError(CodeNumericInstability, nil, "all %d iterations were excluded", result.Excluded)
		cfg.Metrics.observeFailure(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return result, err
	}

	if warning := result.checkConvergence(cfg.MaxChi2PerDOF); warning != nil {
		result.Warnings = append(result.Warnings, warning)
		cfg.Metrics.observeFailure(warning)
		logger.Warn("iterations are not consistent", slog.Any("error", warning))
	}

	cfg.Metrics.observeChi2(result.Chi2PerDOF())

	span.SetAttributes(
		attribute.Float64("vegas.mean", result.Mean(0)),
		attribute.Float64("vegas.sdev", result.Sdev(0)),
		attribute.Float64("vegas.chi2_per_dof", result.Chi2PerDOF()),
	)
	span.SetStatus(codes.Ok, "")

	logger.Info("integration completed",
		slog.String("estimate", result.Estimate().String()),
		slog.Int("iterations", result.NumIterations()),
		slog.Float64("chi2_per_dof", result.Chi2PerDOF()),
		slog.Float64("q", result.Q()),
	)

	return result, nil
}

// iterate runs one iteration on the current grid.
func (in *Integrator) iterate(ctx context.Context, f Integrand, cfg Config, ad adapter, resolver *shapeResolver) (*iteration, error) {
	ctx, span := tracer.Start(ctx, "vegas.Iteration",
		trace.WithAttributes(attribute.Int64("vegas.itn", int64(in.itn))),
	)
	defer span.End()

	layout := newStrataLayout(in.grid, cfg.layoutBudget(), cfg.MinEvalPerStratum)

	var targets []float64
	if cfg.Adapt {
		targets = ad.targets(in.sigma, layout.total)
	}

	layout.allocate(cfg.Neval, cfg.MinEvalPerStratum, targets)

	jobs := layout.batches(cfg.MaxBatch)
	span.SetAttributes(
		attribute.Int("vegas.nstrata", layout.total),
		attribute.Int("vegas.batches", len(jobs)),
	)

	ev := &evaluator{
		f:          f,
		resolver:   resolver,
		adaptField: cfg.AdaptField,
		layout:     layout,
		grid:       in.grid,
		seed:       cfg.Seed,
		itn:        in.itn,
		train:      cfg.Adapt && cfg.Alpha > 0,
	}

	outcomes := make([]*batchOutcome, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)

	for j, job := range jobs {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			o, err := ev.run(job)
			if err != nil {
				return err
			}

			outcomes[j] = o

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)

		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	it := &iteration{sigma: make([]float64, layout.total)}

	var acc *iterationAccumulator

	for j, o := range outcomes {
		if acc == nil {
			acc = o.acc
		} else {
			acc.merge(o.acc)
		}

		copy(it.sigma[jobs[j].first:jobs[j].last], o.sigma)

		if o.train == nil {
			continue
		}

		if it.train == nil {
			it.train = o.train
		} else {
			it.train.merge(o.train)
		}
	}

	it.result = acc.result()
	it.result.MinStratumNeval, it.result.MaxStratumNeval = layout.spread()

	return it, nil
}

// cancelled ends a run stopped by its context.
func (in *Integrator) cancelled(span trace.Span, logger *slog.Logger, result *Result, err error) (*Result, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "context canceled")
	logger.Warn("integration cancelled",
		slog.Int("iterations", result.NumIterations()),
		slog.Any("error", err),
	)

	return result, err
}
