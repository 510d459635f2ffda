package estimator

import (
	"github.com/apoorvalal/Functional-GEL/kernel"
	"github.com/apoorvalal/Functional-GEL/pkg/log"
)

// DegeneratePolicy decides what Train reports when Kernel-VMM exhausts its
// regularization budget without finite parameters.
type DegeneratePolicy int

const (
	// StrictDegenerate makes Train fail with ErrRegularizationExhausted and
	// leaves the estimator untrained.
	StrictDegenerate DegeneratePolicy = iota
	// AcceptDegenerate marks the estimator as trained with
	// StatusDegenerate. Callers must check Status or Model().IsFinite().
	AcceptDegenerate
)

func (p DegeneratePolicy) String() string {
	if p == AcceptDegenerate {
		return "accept"
	}
	return "strict"
}

// config holds every estimator option. Each estimator reads the fields it
// understands and ignores the rest.
type config struct {
	kernel  kernel.Config
	logger  log.Logger
	maxIter int

	// Kernel-VMM
	alpha      float64
	numIter    int
	verbose    bool
	degenerate DegeneratePolicy

	// Neural-VMM
	kernelLambda float64
	l2Lambda     float64
	thetaLR      float64
	dualLR       float64
	batchSize    int
	maxEpochs    int
	evalFreq     int
	maxNoImprove int
	hidden       []int
	pretrain     bool
	seed         uint64
}

func defaultConfig() *config {
	return &config{
		kernel:  kernel.DefaultConfig(),
		maxIter: 100,

		alpha:      1e-6,
		numIter:    2,
		degenerate: StrictDegenerate,

		thetaLR:      5e-3,
		dualLR:       5e-3,
		batchSize:    200,
		maxEpochs:    3000,
		evalFreq:     100,
		maxNoImprove: 5,
		hidden:       []int{50, 20},
		pretrain:     true,
		seed:         12345,
	}
}

// Option configures an estimator.
type Option func(*config)

// WithKernel sets the RBF kernel used for regularization and validation.
func WithKernel(cfg kernel.Config) Option {
	return func(c *config) {
		c.kernel = cfg
	}
}

// WithLogger replaces the default zerolog-backed logger.
func WithLogger(logger log.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithMaxIterations bounds the major iterations of every quasi-Newton run.
func WithMaxIterations(n int) Option {
	return func(c *config) {
		c.maxIter = n
	}
}

// WithAlpha sets the Kernel-VMM regularization seed.
func WithAlpha(alpha float64) Option {
	return func(c *config) {
		c.alpha = alpha
	}
}

// WithNumIter sets the number of Kernel-VMM reweighting iterations.
func WithNumIter(n int) Option {
	return func(c *config) {
		c.numIter = n
	}
}

// WithVerbose logs the validation MMR after every reweighting iteration.
func WithVerbose(verbose bool) Option {
	return func(c *config) {
		c.verbose = verbose
	}
}

// WithDegeneratePolicy sets how Kernel-VMM reports exhausted regularization.
func WithDegeneratePolicy(p DegeneratePolicy) Option {
	return func(c *config) {
		c.degenerate = p
	}
}

// WithKernelLambda sets the weight of the kernel-norm penalty on the dual function.
func WithKernelLambda(lambda float64) Option {
	return func(c *config) {
		c.kernelLambda = lambda
	}
}

// WithL2Lambda sets the weight of the L2 penalty on the dual function.
func WithL2Lambda(lambda float64) Option {
	return func(c *config) {
		c.l2Lambda = lambda
	}
}

// WithThetaLR sets the Adam learning rate of the model parameters.
func WithThetaLR(lr float64) Option {
	return func(c *config) {
		c.thetaLR = lr
	}
}

// WithDualLR sets the Adam learning rate of the dual function.
func WithDualLR(lr float64) Option {
	return func(c *config) {
		c.dualLR = lr
	}
}

// WithBatchSize sets the mini-batch size; values ≤ 0 use the full sample.
func WithBatchSize(n int) Option {
	return func(c *config) {
		c.batchSize = n
	}
}

// WithMaxEpochs bounds the adversarial training epochs.
func WithMaxEpochs(n int) Option {
	return func(c *config) {
		c.maxEpochs = n
	}
}

// WithEvalFreq sets how many epochs pass between early-stopping evaluations.
func WithEvalFreq(n int) Option {
	return func(c *config) {
		c.evalFreq = n
	}
}

// WithMaxNoImprove sets the early-stopping patience in evaluations.
func WithMaxNoImprove(n int) Option {
	return func(c *config) {
		c.maxNoImprove = n
	}
}

// WithHiddenUnits sets the hidden layer widths of the dual network.
func WithHiddenUnits(units ...int) Option {
	return func(c *config) {
		c.hidden = append([]int(nil), units...)
	}
}

// WithPretrain toggles the MMR warm start of θ before adversarial training.
func WithPretrain(pretrain bool) Option {
	return func(c *config) {
		c.pretrain = pretrain
	}
}

// WithSeed seeds mini-batch shuffling and dual network initialization.
func WithSeed(seed uint64) Option {
	return func(c *config) {
		c.seed = seed
	}
}
