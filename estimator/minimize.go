package estimator

import (
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/apoorvalal/Functional-GEL/core/model"
	"github.com/apoorvalal/Functional-GEL/metrics"
	"github.com/apoorvalal/Functional-GEL/pkg/errors"
	"github.com/apoorvalal/Functional-GEL/pkg/log"
)

// psiObjective returns a loss of the moments ψ. When grad is non-nil it
// also writes ∂loss/∂ψ into grad, which has the shape of psi.
type psiObjective func(psi, grad *mat.Dense) float64

// meanSquareObjective is Σᵢᵣ ψ[i,r]² / (n·p).
func meanSquareObjective(psi, grad *mat.Dense) float64 {
	n, p := psi.Dims()
	denom := float64(n * p)
	if grad != nil {
		grad.Scale(2/denom, psi)
	}
	var s float64
	for i := 0; i < n; i++ {
		for _, v := range psi.RawRowView(i) {
			s += v * v
		}
	}
	return s / denom
}

// momentSquareObjective is Σᵢᵣ ψ[i,r]² / n.
func momentSquareObjective(psi, grad *mat.Dense) float64 {
	v, err := metrics.MeanSquaredMoment(psi)
	if err != nil {
		panic(err)
	}
	if grad != nil {
		metrics.MeanSquaredMomentGrad(grad, psi)
	}
	return v
}

// mmrObjective is the kernel MMR over the training instruments.
func mmrObjective(k mat.Symmetric) psiObjective {
	return func(psi, grad *mat.Dense) float64 {
		v, err := metrics.MMR(psi, k)
		if err != nil {
			panic(err)
		}
		if grad != nil {
			metrics.MMRGrad(grad, psi, k)
		}
		return v
	}
}

// psiGradient back-propagates cot = ∂loss/∂ψ to ∂loss/∂θ at the current
// parameters. Models without an analytic VJP are differentiated by central
// finite differences; the parameters are restored afterwards.
func (b *Base) psiGradient(x mat.Matrix, cot *mat.Dense) ([]float64, error) {
	if d, ok := b.model.(model.Differentiable); ok {
		return d.PsiVJP(x, cot), nil
	}

	theta := b.model.Parameters()
	n, p := cot.Dims()
	jac := mat.NewDense(n*p, len(theta), nil)
	var setErr error
	fd.Jacobian(jac, func(y, th []float64) {
		if err := b.model.SetParameters(th); err != nil {
			setErr = err
			return
		}
		flattenInto(y, b.model.Psi(x))
	}, theta, &fd.JacobianSettings{Formula: fd.Central})
	if err := b.model.SetParameters(theta); err != nil {
		return nil, err
	}
	if setErr != nil {
		return nil, setErr
	}

	flat := mat.NewVecDense(n*p, flattenInto(make([]float64, n*p), cot))
	grad := mat.NewVecDense(len(theta), nil)
	grad.MulVec(jac.T(), flat)
	return grad.RawVector().Data, nil
}

// flattenInto writes psi in moment-major order, dst[r·n+i] = psi[i,r].
func flattenInto(dst []float64, psi mat.Matrix) []float64 {
	n, p := psi.Dims()
	for r := 0; r < p; r++ {
		for i := 0; i < n; i++ {
			dst[r*n+i] = psi.At(i, r)
		}
	}
	return dst
}

// unflattenInto is the inverse of flattenInto.
func unflattenInto(dst *mat.Dense, flat []float64) {
	n, p := dst.Dims()
	for r := 0; r < p; r++ {
		for i := 0; i < n; i++ {
			dst.Set(i, r, flat[r*n+i])
		}
	}
}

// minimizePsi minimizes obj(ψ(x;θ)) over θ with L-BFGS and a More-Thuente
// line search, which enforces the strong Wolfe conditions. The model is
// left at the best point found. An optimizer error with finite parameters
// is reported as a ConvergenceWarning; non-finite parameters are an error.
func (b *Base) minimizePsi(x mat.Matrix, obj psiObjective, op string) (err error) {
	defer errors.Recover(&err, op)

	n, _ := x.Dims()
	p := b.model.PsiDim()
	var setErr error
	set := func(theta []float64) bool {
		if err := b.model.SetParameters(theta); err != nil {
			setErr = err
			return false
		}
		return true
	}

	problem := optimize.Problem{
		Func: func(theta []float64) float64 {
			if !set(theta) {
				return 0
			}
			return obj(b.model.Psi(x), nil)
		},
		Grad: func(grad, theta []float64) {
			if !set(theta) {
				return
			}
			cot := mat.NewDense(n, p, nil)
			obj(b.model.Psi(x), cot)
			g, err := b.psiGradient(x, cot)
			if err != nil {
				setErr = err
				return
			}
			copy(grad, g)
		},
	}
	settings := &optimize.Settings{MajorIterations: b.cfg.maxIter}
	method := &optimize.LBFGS{Linesearcher: &optimize.MoreThuente{}}

	result, optErr := optimize.Minimize(problem, b.model.Parameters(), settings, method)
	if setErr != nil {
		return setErr
	}
	if result == nil {
		return errors.Wrapf(optErr, "%s: optimizer did not start", op)
	}
	if err := b.model.SetParameters(result.X); err != nil {
		return err
	}
	if !b.model.IsFinite() {
		return errors.NewNumericalInstabilityError(op, result.X, result.MajorIterations)
	}
	if optErr != nil {
		errors.Warn(errors.NewConvergenceWarning("L-BFGS", result.MajorIterations, optErr.Error()))
	}
	b.logger.Debug("Quasi-Newton run finished",
		log.OperationKey, op,
		log.LossKey, result.F,
		log.IterationKey, result.MajorIterations,
		log.StatusKey, result.Status.String(),
	)
	return nil
}
