package estimator

import (
	"gonum.org/v1/gonum/mat"

	"github.com/apoorvalal/Functional-GEL/core/model"
	"github.com/apoorvalal/Functional-GEL/kernel"
	"github.com/apoorvalal/Functional-GEL/pkg/errors"
)

// NeuralVMM is the adversarial estimator with a learned dual function f(z).
// θ minimizes the moment mean(Σᵣ ψ·f); f minimizes
//
//	−moment + 0.25·mean(m²) + kernel_reg + l2_reg
//
// where m = Σᵣ ψ[:,r]·f[:,r]. The two are trained in alternation by the
// loop in neural.go.
type NeuralVMM struct {
	*Base
	trainer *neuralTrainer
}

var _ model.Estimator = (*NeuralVMM)(nil)

// NewNeuralVMM returns a Neural-VMM estimator for m.
func NewNeuralVMM(m model.Model, opts ...Option) *NeuralVMM {
	e := &NeuralVMM{Base: newBase("NeuralVMM", m, opts)}
	e.trainer = &neuralTrainer{base: e.Base, objective: e.objective}
	return e
}

// Train runs the adversarial training loop. It may be called once.
func (e *NeuralVMM) Train(x, z, xVal, zVal mat.Matrix) error {
	return e.run(x, z, xVal, zVal, e.trainer.train)
}

// Epochs returns the number of epochs the last Train ran.
func (e *NeuralVMM) Epochs() int { return e.trainer.epochs }

// objectiveTerms are the values of the objective pair and their
// cotangents.
type objectiveTerms struct {
	Moment    float64    // minimized by θ
	Dual      float64    // minimized by f
	KernelReg float64    // 2·λ_k·Σᵣ w_r·f_r
	L2Reg     float64    // λ₂·mean(f²)
	ModelCot  *mat.Dense // ∂Moment/∂ψ
	DualCot   *mat.Dense // ∂Dual/∂f, with w held constant
}

// objective evaluates the objective pair on one batch. factor is the
// Cholesky factor of the batch kernel and may be nil when kernel
// regularization is off.
func (e *NeuralVMM) objective(psi, f *mat.Dense, factor *kernel.Factor) (objectiveTerms, error) {
	n, p := psi.Dims()
	fn, fp := f.Dims()
	if fn != n {
		return objectiveTerms{}, errors.NewDimensionError("NeuralVMM.objective", n, fn, 0)
	}
	if fp != p {
		return objectiveTerms{}, errors.NewDimensionError("NeuralVMM.objective", p, fp, 1)
	}
	nf := float64(n)

	m := make([]float64, n)
	var moment, sq float64
	for i := 0; i < n; i++ {
		for r := 0; r < p; r++ {
			m[i] += psi.At(i, r) * f.At(i, r)
		}
		moment += m[i]
		sq += m[i] * m[i]
	}
	moment /= nf

	terms := objectiveTerms{
		Moment:   moment,
		ModelCot: mat.NewDense(n, p, nil),
		DualCot:  mat.NewDense(n, p, nil),
	}
	terms.ModelCot.Scale(1/nf, f)
	for i := 0; i < n; i++ {
		for r := 0; r < p; r++ {
			terms.DualCot.Set(i, r, (-1+0.5*m[i])*psi.At(i, r)/nf)
		}
	}

	if lambda := e.cfg.kernelLambda; lambda > 0 {
		if factor == nil || factor.Size() != n {
			return objectiveTerms{}, errors.NewValueError("NeuralVMM.objective", "kernel factor does not match the batch")
		}
		var w mat.VecDense
		for r := 0; r < p; r++ {
			fr := mat.NewVecDense(n, mat.Col(nil, r, f))
			if err := factor.SolveVecTo(&w, fr); err != nil {
				return objectiveTerms{}, err
			}
			terms.KernelReg += mat.Dot(&w, fr)
			for i := 0; i < n; i++ {
				terms.DualCot.Set(i, r, terms.DualCot.At(i, r)+2*lambda*w.AtVec(i))
			}
		}
		terms.KernelReg *= 2 * lambda
	}

	if lambda := e.cfg.l2Lambda; lambda > 0 {
		denom := float64(n * p)
		var s float64
		for i := 0; i < n; i++ {
			for r := 0; r < p; r++ {
				v := f.At(i, r)
				s += v * v
				terms.DualCot.Set(i, r, terms.DualCot.At(i, r)+2*lambda*v/denom)
			}
		}
		terms.L2Reg = lambda * s / denom
	}

	terms.Dual = -moment + 0.25*sq/nf + terms.KernelReg + terms.L2Reg
	return terms, nil
}
