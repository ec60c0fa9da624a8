package vegas

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//////
// Const, vars, types.
//////

// configValidate is the shared validator instance for Config.
var configValidate = validator.New()

// Config holds the parameters of an Integrator.
//
// Fields explanation:
// - Nitn: Iterations per Integrate call
// - Neval: Upper bound on integrand evaluations per iteration
// - Ninc: Upper bound on grid increments per dimension
// - Alpha: Grid adaptation damping (0 = no grid adaptation)
// - Beta: Stratum budget adaptation exponent (0 = uniform budget)
// - Adapt: Whether iterations adapt the grid and budget at all
//
// Usage example:
//
//	config := DefaultConfig()
//	config.Nitn = 10
//	config.Neval = 10_000
//	config.Seed = 1
//
//	integ, err := New(limits, config)
//
// Default values recommendations:
// - Alpha: 0.5 while adapting, 0.1 or lower for long runs on a converged grid
// - Neval: enough for at least a few samples per grid increment
//
// Note:
// - Logger, Metrics and ProgressChan are runtime-only and never serialized.
type Config struct {
	// Nitn is the number of iterations per Integrate call.
	Nitn int `json:"nitn" yaml:"nitn" validate:"gte=1"`

	// Neval bounds the integrand evaluations per iteration. It also sets
	// how finely the domain is stratified.
	Neval int `json:"neval" yaml:"neval" validate:"gte=2,gtefield=MinEvalPerStratum"`

	// Ninc bounds the grid increments per dimension. The grid uses
	// min(Ninc, Neval/10) increments, but never fewer than 2.
	Ninc int `json:"ninc" yaml:"ninc" validate:"gte=1"`

	// Alpha damps grid adaptation. 0 freezes the grid; larger values adapt
	// faster but less stably.
	Alpha float64 `json:"alpha" yaml:"alpha" validate:"gte=0"`

	// Beta sets how strongly the per-stratum budget follows the per-stratum
	// standard deviation of the previous iteration. 0 keeps it uniform.
	Beta float64 `json:"beta" yaml:"beta" validate:"gte=0"`

	// NevalFrac is the share of Neval held back from the per-stratum
	// minimum so that Beta can redistribute it. It applies only while
	// adapting with Beta > 0; otherwise the strata take the whole budget.
	NevalFrac float64 `json:"neval_frac" yaml:"neval_frac" validate:"gte=0,lt=1"`

	// Adapt enables adaptation. Production runs on an adapted grid set it
	// to false so the estimate is unbiased.
	Adapt bool `json:"adapt" yaml:"adapt"`

	// Seed seeds every random sub-stream. Equal seeds and call sequences
	// give bit-identical results.
	Seed uint64 `json:"seed" yaml:"seed"`

	// MinEvalPerStratum is the smallest number of samples in a stratum.
	MinEvalPerStratum int `json:"min_eval_per_stratum" yaml:"min_eval_per_stratum" validate:"gte=2"`

	// MaxBatch bounds the points passed to one integrand call. Whole strata
	// are never split, so a batch holds at least one stratum.
	MaxBatch int `json:"max_batch" yaml:"max_batch" validate:"gte=1"`

	// Workers is the number of batches evaluated concurrently. Values above
	// 1 require a goroutine-safe integrand.
	Workers int `json:"workers" yaml:"workers" validate:"gte=1"`

	// MaxChi2PerDOF is the chi2/dof above which a run reports a convergence
	// warning.
	MaxChi2PerDOF float64 `json:"max_chi2_per_dof" yaml:"max_chi2_per_dof" validate:"gt=0"`

	// AdaptField names the stream the grid adapts to. Empty selects the
	// first stream.
	AdaptField string `json:"adapt_field" yaml:"adapt_field"`

	// Logger receives structured logs. Nil uses slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-" validate:"-"`

	// Metrics receives prometheus metrics. Nil disables them.
	Metrics *Metrics `json:"-" yaml:"-" validate:"-"`

	// ProgressChan receives one update per iteration. Updates are dropped
	// when the channel is full. Nil disables them.
	ProgressChan chan<- ProgressUpdate `json:"-" yaml:"-" validate:"-"`
}

// Option overrides Config fields for one Integrate call.
type Option func(*Config)

//////
// Exported functionalities.
//////

// DefaultConfig returns a default configuration, seeded from the clock.
func DefaultConfig() Config {
	return Config{
		Nitn:              10,
		Neval:             1000,
		Ninc:              1000,
		Alpha:             0.5,
		Beta:              0.75,
		NevalFrac:         0.75,
		Adapt:             true,
		Seed:              uint64(time.Now().UnixNano()),
		MinEvalPerStratum: 2,
		MaxBatch:          10_000,
		Workers:           1,
		MaxChi2PerDOF:     3,
	}
}

// LoadConfig reads a YAML configuration file. Keys missing from the file
// keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, newError(CodeConfiguration, err, "parse config %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return newError(CodeConfiguration, err, "invalid configuration")
	}

	if math.IsInf(c.Alpha, 0) || math.IsInf(c.Beta, 0) {
		return configError("alpha and beta must be finite, got %g and %g", c.Alpha, c.Beta)
	}

	return nil
}

// apply returns a copy of c with opts applied.
func (c Config) apply(opts ...Option) Config {
	for _, opt := range opts {
		opt(&c)
	}

	return c
}

// effectiveNinc is the increment count used for new or refined grids.
func (c Config) effectiveNinc() int {
	return clamp(c.Neval/10, 2, max(c.Ninc, 2))
}

// layoutBudget is the number of samples the strata lattice is sized for.
func (c Config) layoutBudget() int {
	if !c.Adapt || c.Beta <= 0 {
		return c.Neval
	}

	return max(int(float64(c.Neval)*(1-c.NevalFrac)), c.MinEvalPerStratum)
}

// WithNitn sets the number of iterations.
func WithNitn(n int) Option {
	return func(c *Config) {
		c.Nitn = n
	}
}

// WithNeval sets the evaluation budget per iteration.
func WithNeval(n int) Option {
	return func(c *Config) {
		c.Neval = n
	}
}

// WithAlpha sets the grid adaptation damping.
func WithAlpha(alpha float64) Option {
	return func(c *Config) {
		c.Alpha = alpha
	}
}

// WithBeta sets the stratum budget adaptation exponent.
func WithBeta(beta float64) Option {
	return func(c *Config) {
		c.Beta = beta
	}
}

// WithAdapt enables or freezes adaptation.
func WithAdapt(adapt bool) Option {
	return func(c *Config) {
		c.Adapt = adapt
	}
}

// WithSeed sets the random seed.
func WithSeed(seed uint64) Option {
	return func(c *Config) {
		c.Seed = seed
	}
}

// WithWorkers sets the number of concurrent batch workers.
func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

// WithMaxBatch sets the maximum number of points per integrand call.
func WithMaxBatch(n int) Option {
	return func(c *Config) {
		c.MaxBatch = n
	}
}

// WithProgress sets the progress channel.
func WithProgress(ch chan<- ProgressUpdate) Option {
	return func(c *Config) {
		c.ProgressChan = ch
	}
}
