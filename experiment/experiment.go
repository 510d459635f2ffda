// Package experiment runs estimators on synthetic designs, selects the
// hyperparameter with the lowest validation MMR and aggregates repeated runs.
package experiment

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/apoorvalal/Functional-GEL/core/model"
	"github.com/apoorvalal/Functional-GEL/estimator"
	"github.com/apoorvalal/Functional-GEL/metrics"
	"github.com/apoorvalal/Functional-GEL/pkg/errors"
	"github.com/apoorvalal/Functional-GEL/pkg/log"
)

// Experiment is a data-generating design with a known parameter.
type Experiment interface {
	SetupData(nTrain, nVal, nTest int) error
	InitModel() model.Model
	Train() (x, z *mat.Dense)
	Val() (x, z *mat.Dense)
	Test() (x, z *mat.Dense)
	EvalTestRisk(m model.Model, x mat.Matrix) (float64, error)
	TrueParameters() []float64
}

// Factory builds an estimator that borrows m.
type Factory func(m model.Model, opts ...estimator.Option) model.Estimator

// Methods are the estimators the runner knows by name.
var Methods = map[string]Factory{
	"OrdinaryLeastSquares": func(m model.Model, opts ...estimator.Option) model.Estimator {
		return estimator.NewLeastSquares(m, opts...)
	},
	"KernelVMM": func(m model.Model, opts ...estimator.Option) model.Estimator {
		return estimator.NewKernelVMM(m, opts...)
	},
	"NeuralVMM": func(m model.Model, opts ...estimator.Option) model.Estimator {
		return estimator.NewNeuralVMM(m, opts...)
	},
}

// HyperGrid is a one-dimensional hyperparameter grid. The zero value runs
// the estimator once with its defaults.
type HyperGrid struct {
	Name   string
	Values []float64
	Option func(float64) estimator.Option
}

// AlphaGrid searches the Kernel-VMM regularization strength.
func AlphaGrid(values ...float64) HyperGrid {
	return HyperGrid{Name: "alpha", Values: values, Option: estimator.WithAlpha}
}

// KernelLambdaGrid searches the Neural-VMM kernel regularizer weight.
func KernelLambdaGrid(values ...float64) HyperGrid {
	return HyperGrid{Name: "kernel_lambda", Values: values, Option: estimator.WithKernelLambda}
}

// Stats describes the selected run of RunExperiment.
type Stats struct {
	Method     string
	HyperName  string
	Hyperparam float64 // NaN without a grid
	Params     []float64
	TrainRisk  float64
	TestRisk   float64
	MSE        float64
	ValMMR     float64
	Status     string
}

type candidate struct {
	model model.Model
	stats Stats
	score float64
}

// RunExperiment trains one estimator per grid value on the experiment's
// data, which must already be set up, and returns the model with the lowest
// validation MMR. A NaN score, or a Kernel-VMM run that exhausted its
// regularization, counts as +Inf. With a single candidate no selection is
// made.
func RunExperiment(exp Experiment, method string, grid HyperGrid, opts ...estimator.Option) (model.Model, Stats, error) {
	factory, ok := Methods[method]
	if !ok {
		return nil, Stats{}, errors.NewValueError("experiment.RunExperiment", "unknown method "+method)
	}
	logger := log.GetLoggerWithName("experiment").With(log.ModelNameKey, method)

	values := grid.Values
	if len(values) == 0 || grid.Option == nil {
		values = []float64{math.NaN()}
	}

	xTrain, zTrain := exp.Train()
	xVal, zVal := exp.Val()
	xTest, _ := exp.Test()
	truth := exp.TrueParameters()

	candidates := make([]candidate, 0, len(values))
	for _, v := range values {
		m := exp.InitModel()
		estOpts := opts
		if !math.IsNaN(v) {
			estOpts = append(append([]estimator.Option(nil), opts...), grid.Option(v))
		}
		est := factory(m, estOpts...)

		exhausted := false
		if err := est.Train(xTrain, zTrain, xVal, zVal); err != nil {
			if !errors.Is(err, errors.ErrRegularizationExhausted) {
				return nil, Stats{}, errors.Wrapf(err, "experiment: %s with %s=%g", method, grid.Name, v)
			}
			exhausted = true
		}

		c, err := evaluate(exp, m, est, xTrain, xTest, xVal, zVal, truth, exhausted)
		if err != nil {
			return nil, Stats{}, err
		}
		c.stats.Method = method
		c.stats.Hyperparam = v
		if !math.IsNaN(v) {
			c.stats.HyperName = grid.Name
		}
		if exhausted || math.IsNaN(c.score) {
			c.score = math.Inf(1)
		}
		logger.Debug("Candidate evaluated",
			"hyperparam.name", grid.Name,
			"hyperparam.value", v,
			log.MMRKey, c.stats.ValMMR,
			log.StatusKey, c.stats.Status,
		)
		candidates = append(candidates, c)
	}

	best := 0
	if len(candidates) > 1 {
		for i, c := range candidates {
			if c.score < candidates[best].score {
				best = i
			}
		}
	}
	return candidates[best].model, candidates[best].stats, nil
}

// evaluate scores a trained candidate. When the estimator exhausted its
// regularization the parameters may be non-finite, so scoring errors are
// replaced by NaN instead of being returned.
func evaluate(exp Experiment, m model.Model, est model.Estimator, xTrain, xTest, xVal, zVal *mat.Dense, truth []float64, exhausted bool) (candidate, error) {
	tolerate := func(v float64, err error) (float64, error) {
		if err != nil && exhausted {
			return math.NaN(), nil
		}
		return v, err
	}

	params := m.Parameters()
	mse, err := metrics.ParameterMSE(params, truth)
	if err != nil {
		return candidate{}, err
	}
	trainRisk, err := tolerate(exp.EvalTestRisk(m, xTrain))
	if err != nil {
		return candidate{}, err
	}
	testRisk, err := tolerate(exp.EvalTestRisk(m, xTest))
	if err != nil {
		return candidate{}, err
	}
	mmr, err := tolerate(est.CalcValMMR(xVal, zVal))
	if err != nil {
		return candidate{}, err
	}
	return candidate{
		model: m,
		score: mmr,
		stats: Stats{
			Params:    params,
			TrainRisk: trainRisk,
			TestRisk:  testRisk,
			MSE:       mse,
			ValMMR:    mmr,
			Status:    est.Status().String(),
		},
	}, nil
}
