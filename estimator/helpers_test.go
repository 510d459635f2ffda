package estimator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/apoorvalal/Functional-GEL/core/model"
	"github.com/apoorvalal/Functional-GEL/internal/synthetic"
	"github.com/apoorvalal/Functional-GEL/linear"
)

const trueTheta = 1.7

type dataset struct {
	x, z       *mat.Dense
	xVal, zVal *mat.Dense
}

func heteroskedastic(t *testing.T, n int, seed uint64) dataset {
	t.Helper()
	h := synthetic.NewHeteroskedastic(trueTheta, 1.0, seed)
	require.NoError(t, h.SetupData(n, n, 10))
	x, z := h.Train()
	xv, zv := h.Val()
	return dataset{x: x, z: z, xVal: xv, zVal: zv}
}

// opaqueModel hides PsiVJP so that gradients fall back to finite differences.
type opaqueModel struct {
	model.Model
}

// nanModel always produces NaN moments.
type nanModel struct {
	*linear.MomentModel
}

func (m nanModel) Psi(x mat.Matrix) *mat.Dense {
	n, _ := x.Dims()
	psi := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		psi.Set(i, 0, math.NaN())
	}
	return psi
}

// poisonOnce drives θ to NaN on its first evaluation, like a fit that
// diverged, and behaves normally afterwards.
type poisonOnce struct {
	*linear.MomentModel
	poisoned bool
}

func (m *poisonOnce) Psi(x mat.Matrix) *mat.Dense {
	if !m.poisoned {
		m.poisoned = true
		_ = m.MomentModel.SetParameters([]float64{math.NaN()})
	}
	return m.MomentModel.Psi(x)
}

// matrixView hides the concrete *mat.Dense behind mat.Matrix.
type matrixView struct {
	mat.Matrix
}
