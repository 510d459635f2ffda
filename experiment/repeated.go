package experiment

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/apoorvalal/Functional-GEL/estimator"
	"github.com/apoorvalal/Functional-GEL/pkg/errors"
	"github.com/apoorvalal/Functional-GEL/pkg/log"
)

// NewExperiment returns a fresh experiment whose data is drawn with seed.
type NewExperiment func(seed uint64) Experiment

// Summary aggregates the selected runs of RunRepeated. Standard deviations
// are population standard deviations, so a single run reports zero.
type Summary struct {
	Method          string
	NTrain          int
	MeanSquareError float64
	StdSquareError  float64
	MaxSquareError  float64
	MeanRisk        float64
	StdRisk         float64
	MaxRisk         float64
	MeanMMR         float64
	StdMMR          float64
	NRuns           int
	Hyperparams     []float64
	TrainRisks      []float64
	Runs            []Stats
}

// RunRepeated runs RunExperiment cfg.Repetitions times with seeds
// cfg.Seed, cfg.Seed+1, ... on at most cfg.Workers goroutines. Every
// repetition owns its experiment, models and estimators. The first error
// cancels the repetitions that have not started yet.
func RunRepeated(ctx context.Context, cfg *Config, newExp NewExperiment, method string, grid HyperGrid, opts ...estimator.Option) (*Summary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, ok := Methods[method]; !ok {
		return nil, errors.NewValueError("experiment.RunRepeated", "unknown method "+method)
	}
	logger := log.GetLoggerWithName("experiment").With(log.ModelNameKey, method)
	start := time.Now()

	runs := make([]Stats, cfg.Repetitions)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers())
	for i := 0; i < cfg.Repetitions; i++ {
		seed := cfg.Seed + uint64(i)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			exp := newExp(seed)
			if err := exp.SetupData(cfg.NTrain, cfg.nVal(), cfg.NTest); err != nil {
				return err
			}
			runOpts := append(append([]estimator.Option(nil), opts...), estimator.WithSeed(seed))
			_, stats, err := RunExperiment(exp, method, grid, runOpts...)
			if err != nil {
				return errors.Wrapf(err, "repetition %d", i)
			}
			runs[i] = stats
			logger.Debug("Repetition finished",
				log.RandomSeedKey, seed,
				log.MMRKey, stats.ValMMR,
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := summarize(method, cfg.NTrain, runs)
	logger.Info("Repeated experiment finished",
		"runs", s.NRuns,
		"mean_square_error", s.MeanSquareError,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return s, nil
}

func summarize(method string, nTrain int, runs []Stats) *Summary {
	n := len(runs)
	mse := make([]float64, n)
	risk := make([]float64, n)
	mmr := make([]float64, n)
	s := &Summary{
		Method:      method,
		NTrain:      nTrain,
		NRuns:       n,
		Hyperparams: make([]float64, n),
		TrainRisks:  make([]float64, n),
		Runs:        runs,
	}
	for i, r := range runs {
		mse[i], risk[i], mmr[i] = r.MSE, r.TestRisk, r.ValMMR
		s.Hyperparams[i] = r.Hyperparam
		s.TrainRisks[i] = r.TrainRisk
	}
	s.MeanSquareError, s.StdSquareError = stat.PopMeanStdDev(mse, nil)
	s.MeanRisk, s.StdRisk = stat.PopMeanStdDev(risk, nil)
	s.MeanMMR, s.StdMMR = stat.PopMeanStdDev(mmr, nil)
	s.MaxSquareError = floats.Max(mse)
	s.MaxRisk = floats.Max(risk)
	return s
}
