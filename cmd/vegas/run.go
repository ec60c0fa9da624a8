package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/thalesfsp/vegas"
)

var (
	configPath string
	nitn       int
	neval      int
	alpha      float64
	beta       float64
	seed       uint64
	workers    int
	warmup     int
	saveGrid   string
	loadGrid   string
)

var rootCmd = &cobra.Command{
	Use:   "vegas",
	Short: "Adaptive multidimensional Monte Carlo integration",
	Long: `vegas runs the bundled example integrals with the adaptive Monte Carlo
integrator, reports the weighted average of the iterations with its
chi2/dof and Q, and can save the adapted grid for later runs.`,
}

var runCmd = &cobra.Command{
	Use:   "run <example>",
	Short: "Integrate one of the bundled examples",
	Long: fmt.Sprintf(`Integrate one of the bundled examples and print the summary.

Examples: %s

With --warmup, a first run adapts the grid and its iterations are
discarded; the reported run then keeps the adapted grid fixed, so its
estimate is unbiased. Without it the reported run adapts as it goes.
Interrupting the run prints the iterations completed so far.`, strings.Join(exampleNames(), ", ")),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ex, err := lookupExample(args[0])
		if err != nil {
			return err
		}

		cfg, err := buildConfig(cmd)
		if err != nil {
			return err
		}

		integ, err := newIntegrator(ex, cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		rounds := ex.warmup
		if cmd.Flags().Changed("warmup") {
			rounds = warmup
		}

		slog.Info("running example", "example", ex.name, "seed", cfg.Seed, "nitn", cfg.Nitn, "neval", cfg.Neval, "warmup", rounds)

		run := ex.run
		if run == nil {
			run = integrateExample(ex)
		}

		if err := run(ctx, integ, rounds, cmd.OutOrStdout()); err != nil {
			return err
		}

		if saveGrid != "" {
			return writeGridFile(saveGrid, integ.Grid())
		}

		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the bundled examples",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range exampleNames() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", name, examples[name].short)
		}
	},
}

func init() {
	addConfigFlags(runCmd)
	runCmd.Flags().IntVar(&warmup, "warmup", 0, "Adapting iterations run and discarded first (default: per example)")
	runCmd.Flags().StringVar(&saveGrid, "save-grid", "", "Write the final grid to this JSON file")
	runCmd.Flags().StringVar(&loadGrid, "load-grid", "", "Start from the grid in this JSON file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
}

// addConfigFlags registers the flags that override Config fields.
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	cmd.Flags().IntVar(&nitn, "nitn", 10, "Iterations per run")
	cmd.Flags().IntVar(&neval, "neval", 1000, "Integrand evaluations per iteration")
	cmd.Flags().Float64Var(&alpha, "alpha", 0.5, "Grid adaptation damping (0 freezes the grid)")
	cmd.Flags().Float64Var(&beta, "beta", 0.75, "Stratified sampling adaptation (0 keeps it uniform)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Random seed (default: time based)")
	cmd.Flags().IntVar(&workers, "workers", 1, "Batches evaluated concurrently")
}

// buildConfig loads --config when set, then applies the flags the user
// changed.
func buildConfig(cmd *cobra.Command) (vegas.Config, error) {
	cfg := vegas.DefaultConfig()

	if configPath != "" {
		var err error
		if cfg, err = vegas.LoadConfig(configPath); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()

	if flags.Changed("nitn") {
		cfg.Nitn = nitn
	}

	if flags.Changed("neval") {
		cfg.Neval = neval
	}

	if flags.Changed("alpha") {
		cfg.Alpha = alpha
	}

	if flags.Changed("beta") {
		cfg.Beta = beta
	}

	if flags.Changed("seed") {
		cfg.Seed = seed
	}

	if flags.Changed("workers") {
		cfg.Workers = workers
	}

	cfg.Logger = slog.Default()

	return cfg, cfg.Validate()
}

// newIntegrator starts from --load-grid, the example's own grid or a
// uniform grid, in that order.
func newIntegrator(ex *example, cfg vegas.Config) (*vegas.Integrator, error) {
	if loadGrid != "" {
		g, err := readGridFile(loadGrid)
		if err != nil {
			return nil, err
		}

		if g.Dim() != len(ex.limits) {
			return nil, fmt.Errorf("grid in %s has %d dimensions, example %s has %d", loadGrid, g.Dim(), ex.name, len(ex.limits))
		}

		return vegas.NewFromGrid(g, cfg)
	}

	if ex.grid != nil {
		g, err := ex.grid(cfg)
		if err != nil {
			return nil, err
		}

		return vegas.NewFromGrid(g, cfg)
	}

	return vegas.New(ex.limits, cfg)
}

// integrateExample adapts the grid for warmup iterations, then reports a
// run on that grid with adaptation off. Without warm-up the reported run
// adapts.
func integrateExample(ex *example) func(context.Context, *vegas.Integrator, int, io.Writer) error {
	return func(ctx context.Context, integ *vegas.Integrator, warmup int, w io.Writer) error {
		var opts []vegas.Option

		if warmup > 0 {
			res, err := integ.Integrate(ctx, ex.f, vegas.WithNitn(warmup))
			if err != nil {
				return err
			}

			slog.Info("warm-up completed", "iterations", warmup, "estimate", res.Estimate().String())

			opts = append(opts, vegas.WithAdapt(false))
		}

		res, err := integ.Integrate(ctx, ex.f, opts...)
		if res != nil {
			report(w, ex, res)
		}

		return err
	}
}

func report(w io.Writer, ex *example, res *vegas.Result) {
	fmt.Fprint(w, res.Summary(true))

	if !math.IsNaN(ex.exact) {
		est := res.Estimate()
		fmt.Fprintf(w, "exact = %.8g, pull = %.2f\n", ex.exact, (est.Mean-ex.exact)/est.Sdev)
	}

	if ex.name == "rings" {
		in := res.Field("I")[0]
		sum := 0.0

		for k, d := range res.Field("dI") {
			fmt.Fprintf(w, "dI[%d]/I = %.4f\n", k, d.Mean/in.Mean)
			sum += d.Mean
		}

		fmt.Fprintf(w, "sum(dI)/I = %.6f\n", sum/in.Mean)
	}

	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
}

func readGridFile(path string) (*vegas.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return vegas.ReadGrid(f)
}

func writeGridFile(path string, g *vegas.Grid) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := vegas.WriteGrid(f, g); err != nil {
		f.Close()

		return err
	}

	slog.Info("grid saved", "path", path, "dim", g.Dim())

	return f.Close()
}
