package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/montanaflynn/stats"
	"github.com/spf13/cobra"
	"github.com/thalesfsp/vegas"
)

var runs int

var compareCmd = &cobra.Command{
	Use:   "compare <example>",
	Short: "Compare adaptive and uniform sampling over repeated runs",
	Long: `Repeat an example with consecutive seeds, once adapting the grid and
once on the uniform grid with the same number of evaluations, and report
the spread of the estimates. A reliable error estimate has a spread close
to the mean reported error and pulls with a standard deviation close to 1.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ex, err := lookupExample(args[0])
		if err != nil {
			return err
		}

		if ex.f == nil {
			return fmt.Errorf("example %s integrates a density and cannot be compared", ex.name)
		}

		if runs < 2 {
			return fmt.Errorf("need at least 2 runs, got %d", runs)
		}

		cfg, err := buildConfig(cmd)
		if err != nil {
			return err
		}

		rounds := ex.warmup
		if cmd.Flags().Changed("warmup") {
			rounds = warmup
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-10s %14s %12s %12s %10s %10s\n", "mode", "mean", "spread", "mean error", "pulls", "chi2/dof")

		for _, adapt := range []bool{true, false} {
			s, err := compareRuns(cmd.Context(), ex, cfg, rounds, adapt)
			if err != nil {
				return err
			}

			if err := s.print(w); err != nil {
				return err
			}
		}

		return nil
	},
}

func init() {
	addConfigFlags(compareCmd)
	compareCmd.Flags().IntVar(&runs, "runs", 8, "Number of seeds per mode")
	compareCmd.Flags().IntVar(&warmup, "warmup", 0, "Adapting iterations run and discarded first (default: per example)")

	rootCmd.AddCommand(compareCmd)
}

// spread summarizes the estimates of repeated runs.
type spread struct {
	mode     string
	means    []float64
	errors   []float64
	pulls    []float64
	combined *vegas.Result
}

// compareRuns integrates ex once per seed. Uniform runs fold the warm-up
// budget into the reported run so both modes spend the same evaluations.
func compareRuns(ctx context.Context, ex *example, cfg vegas.Config, rounds int, adapt bool) (*spread, error) {
	s := &spread{mode: "adaptive"}
	if !adapt {
		s.mode = "uniform"
	}

	for i := 0; i < runs; i++ {
		c := cfg
		c.Seed = cfg.Seed + uint64(i)

		integ, err := vegas.New(ex.limits, c)
		if err != nil {
			return nil, err
		}

		opts := []vegas.Option{vegas.WithAdapt(false), vegas.WithNitn(c.Nitn + rounds)}

		if adapt {
			if rounds > 0 {
				if _, err := integ.Integrate(ctx, ex.f, vegas.WithNitn(rounds)); err != nil {
					return nil, err
				}
			}

			opts = nil
		}

		res, err := integ.Integrate(ctx, ex.f, opts...)
		if err != nil {
			return nil, err
		}

		est := res.Estimate()
		s.means = append(s.means, est.Mean)
		s.errors = append(s.errors, est.Sdev)

		if !math.IsNaN(ex.exact) {
			s.pulls = append(s.pulls, (est.Mean-ex.exact)/est.Sdev)
		}

		if s.combined == nil {
			s.combined = res
		} else if s.combined, err = s.combined.Merge(res); err != nil {
			return nil, err
		}

		slog.Debug("comparison run completed", "mode", s.mode, "seed", c.Seed, "estimate", est.String())
	}

	return s, nil
}

func (s *spread) print(w io.Writer) error {
	mean, err := stats.Mean(s.means)
	if err != nil {
		return err
	}

	sd, err := stats.StandardDeviationSample(s.means)
	if err != nil {
		return err
	}

	errMean, err := stats.Mean(s.errors)
	if err != nil {
		return err
	}

	pulls := math.NaN()
	if len(s.pulls) > 1 {
		if pulls, err = stats.StandardDeviationSample(s.pulls); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "%-10s %14.8g %12.3g %12.3g %10.2f %10.2f\n",
		s.mode, mean, sd, errMean, pulls, s.combined.Chi2PerDOF())
	fmt.Fprintf(w, "%-10s %s\n", "", s.combined.Estimate())

	return nil
}
