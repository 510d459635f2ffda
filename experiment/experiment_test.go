package experiment

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gonum.org/v1/gonum/mat"

	"github.com/apoorvalal/Functional-GEL/core/model"
	"github.com/apoorvalal/Functional-GEL/estimator"
	"github.com/apoorvalal/Functional-GEL/internal/synthetic"
	"github.com/apoorvalal/Functional-GEL/linear"
	"github.com/apoorvalal/Functional-GEL/pkg/errors"
)

func newSynthetic(t *testing.T, n int, seed uint64) *synthetic.Heteroskedastic {
	t.Helper()
	h := synthetic.NewHeteroskedastic(1.7, 1.0, seed)
	require.NoError(t, h.SetupData(n, n, 200))
	return h
}

// nanModel always produces NaN moments.
type nanModel struct {
	*linear.MomentModel
}

func (m nanModel) Psi(x mat.Matrix) *mat.Dense {
	n, _ := x.Dims()
	psi := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		psi.Set(i, 0, math.NaN())
	}
	return psi
}

// brokenFirst hands out a NaN model for the first InitModel call only.
type brokenFirst struct {
	*synthetic.Heteroskedastic
	calls int
}

func (b *brokenFirst) InitModel() model.Model {
	b.calls++
	if b.calls == 1 {
		return nanModel{linear.NewMomentModel(1, 1)}
	}
	return b.Heteroskedastic.InitModel()
}

type failingSetup struct {
	*synthetic.Heteroskedastic
}

func (failingSetup) SetupData(int, int, int) error { return errors.New("no data") }

func TestRunExperimentWithoutGrid(t *testing.T) {
	h := newSynthetic(t, 80, 1)
	m, stats, err := RunExperiment(h, "OrdinaryLeastSquares", HyperGrid{})
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, "OrdinaryLeastSquares", stats.Method)
	assert.Empty(t, stats.HyperName)
	assert.True(t, math.IsNaN(stats.Hyperparam))
	assert.Equal(t, m.Parameters(), stats.Params)
	assert.InDelta(t, (stats.Params[0]-1.7)*(stats.Params[0]-1.7), stats.MSE, 1e-12)
	assert.GreaterOrEqual(t, stats.ValMMR, 0.0)
	assert.GreaterOrEqual(t, stats.TestRisk, 0.0)
	assert.Equal(t, model.StatusConverged.String(), stats.Status)
}

func TestRunExperimentSelectsLowestMMR(t *testing.T) {
	h := newSynthetic(t, 60, 2)
	alphas := []float64{1e-2, 1, 100}
	_, stats, err := RunExperiment(h, "KernelVMM", AlphaGrid(alphas...))
	require.NoError(t, err)
	assert.Equal(t, "alpha", stats.HyperName)
	assert.Contains(t, alphas, stats.Hyperparam)

	x, z := h.Train()
	xv, zv := h.Val()
	for _, a := range alphas {
		est := estimator.NewKernelVMM(h.InitModel(), estimator.WithAlpha(a))
		require.NoError(t, est.Train(x, z, xv, zv))
		mmr, err := est.CalcValMMR(xv, zv)
		require.NoError(t, err)
		assert.LessOrEqual(t, stats.ValMMR, mmr+1e-12)
	}
}

func TestRunExperimentExhaustedCountsAsInfinite(t *testing.T) {
	exp := &brokenFirst{Heteroskedastic: newSynthetic(t, 40, 3)}
	_, stats, err := RunExperiment(exp, "KernelVMM", AlphaGrid(1, 1e-2))
	require.NoError(t, err)
	assert.Equal(t, 1e-2, stats.Hyperparam)
	assert.Equal(t, model.StatusConverged.String(), stats.Status)
	assert.False(t, math.IsNaN(stats.ValMMR))
}

func TestRunExperimentAllExhausted(t *testing.T) {
	exp := &brokenFirst{Heteroskedastic: newSynthetic(t, 40, 4)}
	_, stats, err := RunExperiment(exp, "KernelVMM", AlphaGrid(1))
	require.NoError(t, err)
	assert.Equal(t, model.StatusDegenerate.String(), stats.Status)
	assert.True(t, math.IsNaN(stats.ValMMR))
}

func TestRunExperimentUnknownMethod(t *testing.T) {
	_, _, err := RunExperiment(newSynthetic(t, 10, 5), "GMM", HyperGrid{})
	var valErr *errors.ValueError
	assert.True(t, errors.As(err, &valErr))
}

func TestRunRepeated(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := &Config{NTrain: 40, NTest: 100, Repetitions: 3, Seed: 10, Workers: 2}
	newExp := func(seed uint64) Experiment {
		return synthetic.NewHeteroskedastic(1.7, 1.0, seed)
	}
	s, err := RunRepeated(context.Background(), cfg, newExp, "OrdinaryLeastSquares", HyperGrid{})
	require.NoError(t, err)

	assert.Equal(t, 3, s.NRuns)
	require.Len(t, s.Runs, 3)
	assert.Len(t, s.TrainRisks, 3)
	assert.NotEqual(t, s.Runs[0].Params, s.Runs[1].Params)
	assert.GreaterOrEqual(t, s.MeanSquareError, 0.0)
	assert.GreaterOrEqual(t, s.MaxSquareError, s.MeanSquareError)
	assert.GreaterOrEqual(t, s.MaxRisk, s.MeanRisk)
	assert.Positive(t, s.StdSquareError)

	again, err := RunRepeated(context.Background(), cfg, newExp, "OrdinaryLeastSquares", HyperGrid{})
	require.NoError(t, err)
	assert.Equal(t, s.MeanSquareError, again.MeanSquareError)
}

func TestRunRepeatedPropagatesErrors(t *testing.T) {
	cfg := &Config{NTrain: 20, NTest: 50, Repetitions: 4, Seed: 1, Workers: 1}
	newExp := func(seed uint64) Experiment {
		return failingSetup{synthetic.NewHeteroskedastic(1.7, 1.0, seed)}
	}
	_, err := RunRepeated(context.Background(), cfg, newExp, "OrdinaryLeastSquares", HyperGrid{})
	assert.Error(t, err)

	_, err = RunRepeated(context.Background(), &Config{NTrain: 0, NTest: 1, Repetitions: 1}, newExp, "OrdinaryLeastSquares", HyperGrid{})
	assert.Error(t, err)
}

func TestSummarizeSingleRun(t *testing.T) {
	s := summarize("KernelVMM", 10, []Stats{{MSE: 0.5, TestRisk: 0.2, ValMMR: 0.1, Hyperparam: 1}})
	assert.Equal(t, 0.5, s.MeanSquareError)
	assert.Equal(t, 0.0, s.StdSquareError)
	assert.Equal(t, 0.5, s.MaxSquareError)
	assert.Equal(t, []float64{1}, s.Hyperparams)
}

func TestSummarizePopulationStd(t *testing.T) {
	s := summarize("OrdinaryLeastSquares", 10, []Stats{{MSE: 1, TestRisk: 2}, {MSE: 3, TestRisk: 2}})
	assert.Equal(t, 2.0, s.MeanSquareError)
	assert.InDelta(t, 1.0, s.StdSquareError, 1e-12)
	assert.Equal(t, 0.0, s.StdRisk)
	assert.Equal(t, 3.0, s.MaxSquareError)
}
