package estimator

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/apoorvalal/Functional-GEL/core/model"
	"github.com/apoorvalal/Functional-GEL/kernel"
	"github.com/apoorvalal/Functional-GEL/metrics"
	"github.com/apoorvalal/Functional-GEL/nn"
	"github.com/apoorvalal/Functional-GEL/pkg/errors"
	"github.com/apoorvalal/Functional-GEL/pkg/log"
	"github.com/apoorvalal/Functional-GEL/preprocessing"
)

// neuralObjective evaluates an objective pair on a batch.
type neuralObjective func(psi, f *mat.Dense, factor *kernel.Factor) (objectiveTerms, error)

// neuralTrainer alternates Adam steps on the dual network and on θ,
// evaluates every evalFreq epochs and keeps the θ with the lowest
// validation MMR.
type neuralTrainer struct {
	base      *Base
	objective neuralObjective
	epochs    int
}

func (t *neuralTrainer) train(x, z, xVal, zVal mat.Matrix) (model.TrainStatus, error) {
	b := t.base
	cfg := b.cfg
	if cfg.pretrain {
		if err := b.pretrainTheta(x, z, true); err != nil {
			return model.StatusDegenerate, err
		}
	}

	xd, zd := mat.DenseCopyOf(x), mat.DenseCopyOf(z)
	n, _ := xd.Dims()
	rng := rand.New(rand.NewPCG(cfg.seed, cfg.seed+1))

	// 双対関数の入力は標準化する
	zs, err := preprocessing.NewStandardScalerDefault().FitTransform(zd)
	if err != nil {
		return model.StatusDegenerate, err
	}
	dual, err := nn.NewMLP(b.model.DimZ(), cfg.hidden, b.model.PsiDim(), rng)
	if err != nil {
		return model.StatusDegenerate, err
	}
	thetaOpt := nn.NewAdam(cfg.thetaLR)
	dualOpt := nn.NewAdam(cfg.dualLR)

	batch := cfg.batchSize
	if batch <= 0 || batch > n {
		batch = n
	}
	evalFreq := max(cfg.evalFreq, 1)

	score := func() (float64, error) {
		if xVal != nil {
			return b.CalcValMMR(xVal, zVal)
		}
		k, _, err := b.trainKernel(zd)
		if err != nil {
			return 0, err
		}
		return metrics.MMR(b.model.Psi(xd), k)
	}

	s0, err := score()
	if err != nil {
		return model.StatusDegenerate, err
	}
	if math.IsNaN(s0) {
		s0 = math.Inf(1)
	}
	best := model.TakeSnapshot(b.model, s0, 0)
	noImprove := 0

	for epoch := 1; epoch <= cfg.maxEpochs; epoch++ {
		t.epochs = epoch
		err := t.epoch(xd, zd, zs, batch, rng, dual, thetaOpt, dualOpt)
		var ni *errors.NumericalInstabilityError
		if err != nil && !errors.As(err, &ni) {
			return model.StatusDegenerate, err
		}
		if err != nil || !b.model.IsFinite() {
			b.logger.Warn("Parameters became non-finite, stopping",
				log.EpochKey, epoch,
				log.ErrorCodeKey, log.ErrorNumericalInstability,
			)
			break
		}
		if epoch%evalFreq != 0 && epoch != cfg.maxEpochs {
			continue
		}

		s, err := score()
		if err != nil {
			return model.StatusDegenerate, err
		}
		b.logger.Debug("Epoch evaluated",
			log.EpochKey, epoch,
			log.MMRKey, s,
		)
		if s < best.Score {
			best = model.TakeSnapshot(b.model, s, epoch)
			noImprove = 0
			continue
		}
		noImprove++
		if noImprove >= cfg.maxNoImprove {
			b.logger.Info("Early stopping",
				log.EpochKey, epoch,
				"best_epoch", best.Epoch,
			)
			break
		}
	}

	if err := best.Restore(b.model); err != nil {
		return model.StatusDegenerate, err
	}
	return model.StatusConverged, nil
}

// epoch runs one pass over the sample in shuffled mini-batches, or one
// full-batch step when batch covers the whole sample.
func (t *neuralTrainer) epoch(x, z, zs *mat.Dense, batch int, rng *rand.Rand, dual *nn.MLP, thetaOpt, dualOpt *nn.Adam) error {
	n, _ := x.Dims()
	if batch == n {
		return t.step(x, z, zs, nil, dual, thetaOpt, dualOpt)
	}
	perm := rng.Perm(n)
	for start := 0; start < n; start += batch {
		idx := perm[start:min(start+batch, n)]
		if err := t.step(x, z, zs, idx, dual, thetaOpt, dualOpt); err != nil {
			return err
		}
	}
	return nil
}

// step performs one dual update followed by one θ update on the rows idx.
// A nil idx selects the full sample in its original order, which lets the
// kernel regularizer reuse the cached training factor.
func (t *neuralTrainer) step(x, z, zs *mat.Dense, idx []int, dual *nn.MLP, thetaOpt, dualOpt *nn.Adam) error {
	b := t.base
	xb, zb, zsb := x, z, zs
	if idx != nil {
		xb, zb, zsb = selectRows(x, idx), selectRows(z, idx), selectRows(zs, idx)
	}

	var factor *kernel.Factor
	if b.cfg.kernelLambda > 0 {
		if idx == nil {
			_, f, err := b.trainKernel(z)
			if err != nil {
				return err
			}
			factor = f
		} else {
			k, err := kernel.Gram(zb, b.cfg.kernel)
			if err != nil {
				return err
			}
			factor = kernel.CholeskyFactor(k)
		}
	}

	psi := b.model.Psi(xb)

	// dual: minimize the regularized objective
	f, tr, err := dual.ForwardTrace(zsb)
	if err != nil {
		return err
	}
	terms, err := t.objective(psi, f, factor)
	if err != nil {
		return err
	}
	g, err := dual.Backward(tr, terms.DualCot)
	if err != nil {
		return err
	}
	w := dual.Parameters()
	if err := dualOpt.Step(w, g); err != nil {
		return err
	}
	if err := dual.SetParameters(w); err != nil {
		return err
	}

	// θ: minimize the moment against the updated dual
	if f, err = dual.Forward(zsb); err != nil {
		return err
	}
	if terms, err = t.objective(psi, f, factor); err != nil {
		return err
	}
	grad, err := b.psiGradient(xb, terms.ModelCot)
	if err != nil {
		return err
	}
	if !errors.AllFinite(grad) {
		return errors.NewNumericalInstabilityError(b.name+".step", grad, t.epochs)
	}
	theta := b.model.Parameters()
	if err := thetaOpt.Step(theta, grad); err != nil {
		return err
	}
	return b.model.SetParameters(theta)
}

func selectRows(m *mat.Dense, idx []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for i, src := range idx {
		out.SetRow(i, m.RawRowView(src))
	}
	return out
}
