package estimator

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/apoorvalal/Functional-GEL/core/model"
	"github.com/apoorvalal/Functional-GEL/pkg/errors"
	"github.com/apoorvalal/Functional-GEL/pkg/log"
)

const (
	// alphaFloor replaces a zero alpha after a failed attempt.
	alphaFloor = 1e-8
	// alphaCeiling stops escalation once a failed attempt used a larger alpha.
	alphaCeiling = 10.0
	// alphaStep multiplies alpha after a failed attempt.
	alphaStep = 10.0
)

// FitOutcome is the result of one Kernel-VMM fitting attempt at a fixed alpha.
type FitOutcome int

const (
	// FitSucceeded means every reweighting iteration finished with finite parameters.
	FitSucceeded FitOutcome = iota
	// FitSingular means a linear-algebra step failed or panicked.
	FitSingular
	// FitNonFinite means the moments or parameters became NaN or Inf.
	FitNonFinite
)

func (o FitOutcome) String() string {
	switch o {
	case FitSucceeded:
		return "succeeded"
	case FitSingular:
		return "singular"
	case FitNonFinite:
		return "non_finite"
	default:
		return "unknown"
	}
}

// KernelVMM is the iteratively reweighted kernel GMM estimator. Each
// reweighting iteration builds
//
//	M = L·Q⁺·L,  L = blockdiag(K, …, K),  Q = q·qᵀ/n + α·L
//
// from the moments at the current θ and then minimizes ψᵀ·M·ψ over θ with M
// held fixed. A failed attempt is retried with a larger α.
type KernelVMM struct {
	*Base

	attempts   int
	finalAlpha float64
}

var _ model.Estimator = (*KernelVMM)(nil)

// NewKernelVMM returns a Kernel-VMM estimator for m. Use WithAlpha,
// WithNumIter, WithVerbose and WithDegeneratePolicy to configure it.
func NewKernelVMM(m model.Model, opts ...Option) *KernelVMM {
	return &KernelVMM{Base: newBase("KernelVMM", m, opts)}
}

// Attempts returns how many fitting attempts the last Train made.
func (e *KernelVMM) Attempts() int { return e.attempts }

// Alpha returns the regularization strength of the last attempt.
func (e *KernelVMM) Alpha() float64 { return e.finalAlpha }

// Train fits θ. It may be called once. Every attempt starts from the
// parameters the model had when Train was called. When every α up to the
// ceiling fails it returns ErrRegularizationExhausted under
// StrictDegenerate, and nil with Status() == StatusDegenerate under
// AcceptDegenerate. In both cases the model keeps the parameters of the
// last attempt. Configuration errors such as an invalid kernel bandwidth
// are returned as they are, without escalating α.
func (e *KernelVMM) Train(x, z, xVal, zVal mat.Matrix) error {
	return e.run(x, z, xVal, zVal, e.trainInternal)
}

func (e *KernelVMM) trainInternal(x, z, xVal, zVal mat.Matrix) (model.TrainStatus, error) {
	// カーネル設定の誤りはαでは直せないので試行の前に失敗させる
	if _, _, err := e.trainKernel(z); err != nil {
		return model.StatusUntrained, err
	}
	start := model.TakeSnapshot(e.model, 0, 0)

	alpha := e.cfg.alpha
	for {
		if e.attempts > 0 {
			if err := start.Restore(e.model); err != nil {
				return model.StatusUntrained, err
			}
		}
		e.attempts++
		e.finalAlpha = alpha
		outcome, err := e.tryFit(x, z, xVal, zVal, alpha)
		if outcome == FitSucceeded {
			return model.StatusConverged, nil
		}
		var valErr *errors.ValueError
		if errors.As(err, &valErr) {
			return model.StatusUntrained, err
		}
		e.logger.Warn("Fitting attempt failed",
			log.AttemptKey, e.attempts,
			log.RegularizationKey, alpha,
			"fit.outcome", outcome.String(),
			log.ErrAttrKey, err,
		)
		if alpha > alphaCeiling {
			break
		}
		if alpha == 0 {
			alpha = alphaFloor
		} else {
			alpha *= alphaStep
		}
	}

	if e.cfg.degenerate == AcceptDegenerate {
		e.logger.Warn("Regularization exhausted, keeping degenerate parameters",
			log.RegularizationKey, alpha,
			log.ErrorCodeKey, log.ErrorRegularization,
		)
		return model.StatusDegenerate, nil
	}
	return model.StatusDegenerate, errors.Wrapf(errors.ErrRegularizationExhausted,
		"%s: %d attempts, last alpha %g", e.name, e.attempts, alpha)
}

// tryFit runs the reweighting loop at a fixed alpha. Panics are converted
// into FitSingular.
func (e *KernelVMM) tryFit(x, z, xVal, zVal mat.Matrix, alpha float64) (outcome FitOutcome, err error) {
	defer func() {
		if err != nil && outcome == FitSucceeded {
			outcome = FitSingular
		}
	}()
	defer errors.Recover(&err, e.name+".tryFit")

	k, _, err := e.trainKernel(z)
	if err != nil {
		return FitSingular, err
	}

	for iter := 0; iter < e.cfg.numIter; iter++ {
		psi := e.model.Psi(x)
		if err := errors.CheckMatrix(e.name+".psi", psi, iter); err != nil {
			return FitNonFinite, err
		}
		m, method, err := calcMMatrix(k, psi, alpha)
		if err != nil {
			return FitSingular, err
		}
		e.logger.Debug("Reweighting operator built",
			log.IterationKey, iter,
			log.RegularizationKey, alpha,
			"solve.method", method,
		)

		if err := e.minimizePsi(x, quadraticObjective(m), e.name+".reweight"); err != nil {
			var ni *errors.NumericalInstabilityError
			if errors.As(err, &ni) {
				return FitNonFinite, err
			}
			return FitSingular, err
		}
		if !e.model.IsFinite() {
			return FitNonFinite, errors.NewNumericalInstabilityError(e.name+".reweight", e.model.Parameters(), iter)
		}

		if e.cfg.verbose && xVal != nil {
			mmr, err := e.CalcValMMR(xVal, zVal)
			if err != nil {
				return FitSingular, err
			}
			e.logger.Info("Validation MMR",
				log.PhaseKey, log.PhaseValidation,
				log.IterationKey, iter,
				log.MMRKey, mmr,
			)
		}
	}
	return FitSucceeded, nil
}

// quadraticObjective is ψ_flatᵀ·M·ψ_flat with moment-major flattening and
// gradient 2·M·ψ_flat.
func quadraticObjective(m *mat.SymDense) psiObjective {
	return func(psi, grad *mat.Dense) float64 {
		n, p := psi.Dims()
		v := mat.NewVecDense(n*p, flattenInto(make([]float64, n*p), psi))
		var mv mat.VecDense
		mv.MulVec(m, v)
		if grad != nil {
			mv2 := make([]float64, n*p)
			for i := range mv2 {
				mv2[i] = 2 * mv.AtVec(i)
			}
			unflattenInto(grad, mv2)
		}
		return mat.Dot(v, &mv)
	}
}

// calcMMatrix builds the reweighting operator M = L·Q⁻¹·L. Q is solved
// exactly with LU first; if Q is singular or ill-conditioned the
// minimum-norm least-squares solution from an SVD is used instead. The
// second result names the solve that was used ("lu" or "lstsq").
func calcMMatrix(k mat.Symmetric, psi mat.Matrix, alpha float64) (*mat.SymDense, string, error) {
	n, p := psi.Dims()
	if kn := k.SymmetricDim(); kn != n {
		return nil, "", errors.NewDimensionError("calcMMatrix", n, kn, 0)
	}
	size := p * n

	// q[(r,i),j] = K[i,j]·ψ[j,r]
	q := mat.NewDense(size, n, nil)
	for r := 0; r < p; r++ {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				q.Set(r*n+i, j, k.At(i, j)*psi.At(j, r))
			}
		}
	}

	l := mat.NewDense(size, size, nil)
	for r := 0; r < p; r++ {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				l.Set(r*n+i, r*n+j, k.At(i, j))
			}
		}
	}

	qq := mat.NewDense(size, size, nil)
	qq.Mul(q, q.T())
	qq.Scale(1/float64(n), qq)
	var al mat.Dense
	al.Scale(alpha, l)
	qq.Add(qq, &al)

	sol := new(mat.Dense)
	method := "lu"
	var lu mat.LU
	lu.Factorize(qq)
	if err := lu.SolveTo(sol, false, l); err != nil || !allFinite(sol) {
		method = "lstsq"
		sol = new(mat.Dense)
		if err := lstsq(sol, qq, l); err != nil {
			return nil, method, err
		}
	}

	var full mat.Dense
	full.Mul(l, sol)
	m := mat.NewSymDense(size, nil)
	for i := 0; i < size; i++ {
		for j := i; j < size; j++ {
			m.SetSym(i, j, 0.5*(full.At(i, j)+full.At(j, i)))
		}
	}
	return m, method, nil
}

// lstsq writes the minimum-norm least-squares solution of a·x = b into dst,
// which must be empty. Singular values below eps·max(rows, cols)·σ_max are
// treated as zero.
func lstsq(dst *mat.Dense, a, b mat.Matrix) error {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return errors.NewModelError("lstsq", "svd failed", errors.ErrSingularMatrix)
	}
	r, c := a.Dims()
	eps := math.Nextafter(1, 2) - 1
	rank := svd.Rank(eps * float64(max(r, c)))
	if rank == 0 {
		_, bc := b.Dims()
		dst.ReuseAs(c, bc)
		return nil
	}
	svd.SolveTo(dst, b, rank)
	return nil
}

func allFinite(m *mat.Dense) bool {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		for _, v := range m.RawRowView(i) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
