// Package estimator implements moment-restriction estimators: ordinary least
// squares on the moments, the iteratively reweighted kernel estimator
// Kernel-VMM, and the adversarial Neural-VMM. They share Base, which owns
// the lazily built kernel matrices and the validation MMR score.
package estimator

import (
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/apoorvalal/Functional-GEL/core/model"
	"github.com/apoorvalal/Functional-GEL/kernel"
	"github.com/apoorvalal/Functional-GEL/metrics"
	"github.com/apoorvalal/Functional-GEL/pkg/errors"
	"github.com/apoorvalal/Functional-GEL/pkg/log"
)

// trainHook is the algorithm a concrete estimator runs inside Train.
type trainHook func(x, z, xVal, zVal mat.Matrix) (model.TrainStatus, error)

// Base holds what every estimator needs: the borrowed model, the kernel
// configuration, the training state and the cached kernel matrices.
type Base struct {
	name   string
	id     string
	model  model.Model
	cfg    *config
	state  *model.StateManager
	logger log.Logger

	// 学習用カーネル（初回に一度だけ構築）
	trainK      *mat.SymDense
	trainFactor *kernel.Factor

	// 検証用カーネル（valZが変わった時だけ再構築）
	valZ mat.Matrix
	valK *mat.SymDense
}

func newBase(name string, m model.Model, opts []Option) *Base {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	id := uuid.NewString()
	logger := cfg.logger
	if logger == nil {
		logger = log.GetLoggerWithName("estimator")
	}
	return &Base{
		name:  name,
		id:    id,
		model: m,
		cfg:   cfg,
		state: model.NewStateManager(),
		logger: logger.With(
			log.ModelNameKey, name,
			log.EstimatorIDKey, id,
		),
	}
}

// Name returns the estimator name.
func (b *Base) Name() string { return b.name }

// ID returns the unique id attached to every log line of this estimator.
func (b *Base) ID() string { return b.id }

// Model returns the borrowed model.
func (b *Base) Model() model.Model { return b.model }

// Status returns the outcome of the last training run.
func (b *Base) Status() model.TrainStatus { return b.state.Status() }

// IsTrained reports whether Train has completed.
func (b *Base) IsTrained() bool { return b.state.IsTrained() }

// TrainedParameters returns the model parameters after training.
func (b *Base) TrainedParameters() ([]float64, error) {
	if err := b.state.RequireTrained(b.name, "TrainedParameters"); err != nil {
		return nil, err
	}
	return b.model.Parameters(), nil
}

// run validates the data, runs hook once and records the result.
func (b *Base) run(x, z, xVal, zVal mat.Matrix, hook trainHook) (err error) {
	defer errors.Recover(&err, b.name+".Train")

	n, err := b.checkData("Train", x, z)
	if err != nil {
		return err
	}
	nVal := 0
	if xVal != nil || zVal != nil {
		if xVal == nil || zVal == nil {
			return errors.NewValueError(b.name+".Train", "xVal and zVal must both be set or both be nil")
		}
		if nVal, err = b.checkData("Train", xVal, zVal); err != nil {
			return err
		}
		// 検証用カーネルのキャッシュは*mat.Denseの同一性で引くため、ここで一度だけ変換する
		xVal, zVal = denseOf(xVal), denseOf(zVal)
	}
	if err := b.state.Begin(); err != nil {
		return err
	}

	start := time.Now()
	b.logger.Info("Training started",
		log.OperationKey, log.OperationTrain,
		log.PhaseKey, log.PhaseTraining,
		log.SamplesKey, n,
		log.ValSamplesKey, nVal,
		log.PsiDimKey, b.model.PsiDim(),
		log.DimZKey, b.model.DimZ(),
	)

	status, err := hook(x, z, xVal, zVal)
	if err != nil {
		b.state.SetStatus(status)
		b.logger.Error("Training failed", err,
			log.OperationKey, log.OperationTrain,
			log.StatusKey, status.String(),
		)
		return err
	}
	b.state.SetDimensions(n, b.model.PsiDim())
	b.state.MarkTrained(status)

	b.logger.Info("Training completed",
		log.OperationKey, log.OperationTrain,
		log.PhaseKey, log.PhaseTraining,
		log.StatusKey, status.String(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// checkData validates a pair of data and instrument matrices and returns
// the number of rows.
func (b *Base) checkData(op string, x, z mat.Matrix) (int, error) {
	if err := model.Validate(b.model); err != nil {
		return 0, err
	}
	if x == nil || z == nil {
		return 0, errors.NewModelError(b.name+"."+op, "empty data", errors.ErrEmptyData)
	}
	n, _ := x.Dims()
	nz, dz := z.Dims()
	if n == 0 || nz == 0 {
		return 0, errors.NewModelError(b.name+"."+op, "empty data", errors.ErrEmptyData)
	}
	if nz != n {
		return 0, errors.NewDimensionError(b.name+"."+op, n, nz, 0)
	}
	if dz != b.model.DimZ() {
		return 0, errors.NewDimensionError(b.name+"."+op, b.model.DimZ(), dz, 1)
	}
	return n, nil
}

// trainKernel returns the training Gram matrix and its Cholesky factor,
// building them on first use.
func (b *Base) trainKernel(z mat.Matrix) (*mat.SymDense, *kernel.Factor, error) {
	if b.trainK != nil {
		return b.trainK, b.trainFactor, nil
	}
	k, err := kernel.Gram(z, b.cfg.kernel)
	if err != nil {
		return nil, nil, err
	}
	f := kernel.CholeskyFactor(k)
	b.trainK, b.trainFactor = k, f

	b.logger.Debug("Training kernel built",
		log.SamplesKey, k.SymmetricDim(),
		"kernel.factor", f.Method(),
		"kernel.jitter", f.Jitter(),
	)
	return k, f, nil
}

// validationKernel returns the Gram matrix of zVal. It is rebuilt only when
// a different matrix than the cached one is passed.
func (b *Base) validationKernel(zVal mat.Matrix) (*mat.SymDense, error) {
	if b.valK != nil && sameMatrix(b.valZ, zVal) {
		return b.valK, nil
	}
	k, err := kernel.Gram(zVal, b.cfg.kernel)
	if err != nil {
		return nil, err
	}
	b.valZ, b.valK = zVal, k
	b.logger.Debug("Validation kernel built",
		log.PhaseKey, log.PhaseValidation,
		log.SamplesKey, k.SymmetricDim(),
	)
	return k, nil
}

// denseOf returns m itself when it is a *mat.Dense and a copy otherwise.
func denseOf(m mat.Matrix) mat.Matrix {
	if d, ok := m.(*mat.Dense); ok {
		return d
	}
	return mat.DenseCopyOf(m)
}

func sameMatrix(a, c mat.Matrix) bool {
	pa, ok := a.(*mat.Dense)
	if !ok {
		return false
	}
	pc, ok := c.(*mat.Dense)
	return ok && pa == pc
}

// CalcValMMR returns Σᵢⱼᵣ ψ[i,r]·K_val[i,j]·ψ[j,r] / n² at the current
// parameters. It only reads the model and only touches the validation
// kernel cache. The cache is keyed on the identity of a *mat.Dense zVal;
// any other mat.Matrix (views, transposes) rebuilds the Gram matrix on
// every call, so repeated callers should pass the same *mat.Dense.
func (b *Base) CalcValMMR(xVal, zVal mat.Matrix) (mmr float64, err error) {
	defer errors.Recover(&err, b.name+".CalcValMMR")

	if _, err := b.checkData("CalcValMMR", xVal, zVal); err != nil {
		return 0, err
	}
	k, err := b.validationKernel(zVal)
	if err != nil {
		return 0, err
	}
	return metrics.MMR(b.model.Psi(xVal), k)
}

// pretrainTheta runs one quasi-Newton minimization of the training MMR, or
// of the mean squared moment when useMMR is false.
func (b *Base) pretrainTheta(x, z mat.Matrix, useMMR bool) error {
	b.logger.Debug("Pretraining parameters",
		log.OperationKey, log.OperationPretrain,
		"pretrain.mmr", useMMR,
	)
	if !useMMR {
		return b.minimizePsi(x, meanSquareObjective, b.name+".pretrain")
	}
	k, _, err := b.trainKernel(z)
	if err != nil {
		return err
	}
	return b.minimizePsi(x, mmrObjective(k), b.name+".pretrain")
}
