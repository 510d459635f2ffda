package nn

import (
	"math"

	"github.com/apoorvalal/Functional-GEL/pkg/errors"
)

// Adam is the Adam optimizer over a flat parameter vector. The moment
// buffers are allocated on the first Step.
type Adam struct {
	LR       float64
	Beta1    float64
	Beta2    float64
	Eps      float64
	ClipNorm float64 // ≤ 0 disables gradient clipping

	m []float64
	v []float64
	t int
}

// NewAdam returns an optimizer with the usual defaults β₁ = 0.9, β₂ = 0.999.
func NewAdam(lr float64) *Adam {
	return &Adam{LR: lr, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int { return a.t }

// Reset clears the moment estimates.
func (a *Adam) Reset() {
	a.m, a.v, a.t = nil, nil, 0
}

// Step updates params in place to descend along grad. grad may be
// rescaled by clipping.
func (a *Adam) Step(params, grad []float64) error {
	if len(params) != len(grad) {
		return errors.NewDimensionError("nn.Adam.Step", len(params), len(grad), 0)
	}
	if len(a.m) != len(params) {
		a.m = make([]float64, len(params))
		a.v = make([]float64, len(params))
		a.t = 0
	}
	errors.ClipGradient(grad, a.ClipNorm)

	a.t++
	b1, b2 := a.Beta1, a.Beta2
	b1Corr := 1.0 - math.Pow(b1, float64(a.t))
	b2Corr := 1.0 - math.Pow(b2, float64(a.t))
	for j, g := range grad {
		a.m[j] = b1*a.m[j] + (1-b1)*g
		a.v[j] = b2*a.v[j] + (1-b2)*(g*g)
		mhat := a.m[j] / b1Corr
		vhat := a.v[j] / b2Corr
		params[j] -= a.LR * mhat / (math.Sqrt(vhat) + a.Eps)
	}
	return nil
}
