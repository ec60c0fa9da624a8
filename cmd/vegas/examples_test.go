package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thalesfsp/vegas"
)

func exampleConfig() vegas.Config {
	cfg := vegas.DefaultConfig()
	cfg.Seed = 1
	cfg.Neval = 25_000

	return cfg
}

func TestExamplesMatchExact(t *testing.T) {
	for _, name := range []string{"gaussian", "peak", "diagonal", "rings"} {
		t.Run(name, func(t *testing.T) {
			ex, err := lookupExample(name)
			require.NoError(t, err)

			integ, err := vegas.New(ex.limits, exampleConfig())
			require.NoError(t, err)

			if ex.warmup > 0 {
				_, err = integ.Integrate(context.Background(), ex.f, vegas.WithNitn(ex.warmup))
				require.NoError(t, err)
			}

			res, err := integ.Integrate(context.Background(), ex.f)
			require.NoError(t, err)

			est := res.Estimate()
			assert.InDelta(t, ex.exact, est.Mean, 5*est.Sdev+0.01*ex.exact)
		})
	}
}

func TestRingsBinsSumToTotal(t *testing.T) {
	ex, err := lookupExample("rings")
	require.NoError(t, err)

	integ, err := vegas.New(ex.limits, exampleConfig())
	require.NoError(t, err)

	// One iteration: averages over several weight each stream separately.
	res, err := integ.Integrate(context.Background(), ex.f, vegas.WithNitn(1))
	require.NoError(t, err)

	total := res.Field("I")[0].Mean
	sum := 0.0

	for _, d := range res.Field("dI") {
		assert.Greater(t, d.Mean, 0.0)
		sum += d.Mean
	}

	assert.InDelta(t, total, sum, 1e-9*total)
}

func TestBayesDensity(t *testing.T) {
	cfg := exampleConfig()

	g, err := bayesGrid(cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, g.Dim())

	// A line through the bulk of the data is far more likely than a flat
	// line far above it.
	good := vegas.Batch{Dim: 4, X: []float64{0.5, 0.5, 0.2, 10, 5, 0, 0.2, 10}}

	rho, err := bayesDensity(good)
	require.NoError(t, err)
	require.Len(t, rho, 2)
	assert.Greater(t, rho[0], 0.0)
	assert.Greater(t, rho[0], 1e6*rho[1])
}

func TestIntegrateExampleKeepsWarmedUpGrid(t *testing.T) {
	ex, err := lookupExample("gaussian")
	require.NoError(t, err)

	cfg := exampleConfig()
	cfg.Neval = 2000
	cfg.Nitn = 3

	warmed, err := vegas.New(ex.limits, cfg)
	require.NoError(t, err)

	_, err = warmed.Integrate(context.Background(), ex.f, vegas.WithNitn(2))
	require.NoError(t, err)

	integ, err := vegas.New(ex.limits, cfg)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, integrateExample(ex)(context.Background(), integ, 2, &out))
	assert.Contains(t, out.String(), "exact =")

	// The reported run does not move the grid left by the warm-up.
	assert.Equal(t, warmed.Grid().State(), integ.Grid().State())
}

func TestSpreadPrintRejectsEmptyRuns(t *testing.T) {
	var out bytes.Buffer

	err := (&spread{mode: "adaptive"}).print(&out)
	assert.Error(t, err)
	assert.Empty(t, out.String())
}

func TestUnknownExample(t *testing.T) {
	_, err := lookupExample("missing")
	assert.Error(t, err)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	configPath, saveGrid, loadGrid = "", "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()

	return out.String(), err
}

func TestRunCommandSavesAndLoadsGrid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.json")

	out, err := execute(t, "run", "gaussian", "--nitn", "3", "--neval", "2000", "--seed", "1", "--warmup", "2", "--save-grid", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wgt average")
	assert.Contains(t, out, "exact =")

	g, err := readGridFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Dim())

	out, err = execute(t, "run", "gaussian", "--nitn", "2", "--neval", "2000", "--seed", "2", "--warmup", "0", "--load-grid", path)
	require.NoError(t, err)
	assert.Contains(t, out, "exact =")

	_, err = execute(t, "run", "peak", "--nitn", "2", "--neval", "2000", "--seed", "2", "--warmup", "0", "--load-grid", path)
	assert.ErrorContains(t, err, "dimensions")
}

func TestRunCommandRejectsInvalidConfig(t *testing.T) {
	_, err := execute(t, "run", "gaussian", "--nitn", "0", "--neval", "2000", "--seed", "1", "--warmup", "0")
	assert.ErrorIs(t, err, vegas.ErrConfiguration)
}

func TestCompareCommand(t *testing.T) {
	out, err := execute(t, "compare", "gaussian", "--runs", "3", "--nitn", "3", "--neval", "1000", "--seed", "1", "--warmup", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "adaptive")
	assert.Contains(t, out, "uniform")

	_, err = execute(t, "compare", "bayes", "--runs", "3", "--nitn", "3", "--neval", "1000", "--seed", "1", "--warmup", "2")
	assert.ErrorContains(t, err, "density")
}

func TestListCommand(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)

	for _, name := range exampleNames() {
		assert.Contains(t, out, name)
	}
}
