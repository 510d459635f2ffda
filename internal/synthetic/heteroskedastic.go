// Package synthetic generates the heteroskedastic linear design used by the
// tests and the example program.
package synthetic

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/apoorvalal/Functional-GEL/core/model"
	"github.com/apoorvalal/Functional-GEL/linear"
	"github.com/apoorvalal/Functional-GEL/metrics"
	"github.com/apoorvalal/Functional-GEL/pkg/errors"
)

// Heteroskedastic draws t ~ N(0,1), z = t and
//
//	y = θ·t + Noise·(0.1 + |t|)·ε,  ε ~ N(0,1).
//
// Rows of x are [t, y], so the moment is ψ = y − t·θ.
type Heteroskedastic struct {
	Theta float64
	Noise float64

	rng *rand.Rand

	xTrain, zTrain *mat.Dense
	xVal, zVal     *mat.Dense
	xTest, zTest   *mat.Dense
}

// NewHeteroskedastic returns a generator seeded with seed.
func NewHeteroskedastic(theta, noise float64, seed uint64) *Heteroskedastic {
	return &Heteroskedastic{
		Theta: theta,
		Noise: noise,
		rng:   rand.New(rand.NewPCG(seed, seed^0x5bd1e995)),
	}
}

// Generate draws n rows.
func (h *Heteroskedastic) Generate(n int) (x, z *mat.Dense) {
	x = mat.NewDense(n, 2, nil)
	z = mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		t := h.rng.NormFloat64()
		y := h.Theta*t + h.Noise*(0.1+math.Abs(t))*h.rng.NormFloat64()
		x.Set(i, 0, t)
		x.Set(i, 1, y)
		z.Set(i, 0, t)
	}
	return x, z
}

// SetupData draws the train, validation and test splits.
func (h *Heteroskedastic) SetupData(nTrain, nVal, nTest int) error {
	if nTrain <= 0 || nVal <= 0 || nTest <= 0 {
		return errors.NewValueError("Heteroskedastic.SetupData", "split sizes must be positive")
	}
	h.xTrain, h.zTrain = h.Generate(nTrain)
	h.xVal, h.zVal = h.Generate(nVal)
	h.xTest, h.zTest = h.Generate(nTest)
	return nil
}

// InitModel returns a fresh linear moment model at θ = 0.
func (h *Heteroskedastic) InitModel() model.Model {
	return linear.NewMomentModel(1, 1)
}

// Train returns the training split.
func (h *Heteroskedastic) Train() (x, z *mat.Dense) { return h.xTrain, h.zTrain }

// Val returns the validation split.
func (h *Heteroskedastic) Val() (x, z *mat.Dense) { return h.xVal, h.zVal }

// Test returns the test split.
func (h *Heteroskedastic) Test() (x, z *mat.Dense) { return h.xTest, h.zTest }

// TrueParameters returns θ₀.
func (h *Heteroskedastic) TrueParameters() []float64 { return []float64{h.Theta} }

// EvalTestRisk returns mean((ψ(x;θ̂) − ψ(x;θ₀))²) = mean((t·(θ₀ − θ̂))²).
func (h *Heteroskedastic) EvalTestRisk(m model.Model, x mat.Matrix) (float64, error) {
	n, c := x.Dims()
	if n == 0 {
		return 0, errors.NewModelError("Heteroskedastic.EvalTestRisk", "empty data", errors.ErrEmptyData)
	}
	if c != 2 {
		return 0, errors.NewDimensionError("Heteroskedastic.EvalTestRisk", 2, c, 1)
	}
	psi := m.Psi(x)
	est := mat.NewVecDense(n, mat.Col(nil, 0, psi))
	truth := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		truth.SetVec(i, x.At(i, 1)-h.Theta*x.At(i, 0))
	}
	return metrics.MSE(truth, est)
}
