package nn

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/apoorvalal/Functional-GEL/pkg/errors"
)

func sumWeighted(out, w *mat.Dense) float64 {
	return mat.Sum(mulElem(out, w))
}

func mulElem(a, b *mat.Dense) *mat.Dense {
	var c mat.Dense
	c.MulElem(a, b)
	return &c
}

func TestMLPBackwardMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	net, err := NewMLP(2, []int{5, 4}, 2, rng)
	require.NoError(t, err)

	z := mat.NewDense(7, 2, nil)
	w := mat.NewDense(7, 2, nil)
	for i := 0; i < 7; i++ {
		for j := 0; j < 2; j++ {
			z.Set(i, j, rng.NormFloat64())
			w.Set(i, j, rng.NormFloat64())
		}
	}

	_, tr, err := net.ForwardTrace(z)
	require.NoError(t, err)
	grad, err := net.Backward(tr, w)
	require.NoError(t, err)
	require.Len(t, grad, net.NumParameters())

	theta := net.Parameters()
	const h = 1e-6
	for k := 0; k < len(theta); k += 3 {
		orig := theta[k]
		theta[k] = orig + h
		require.NoError(t, net.SetParameters(theta))
		up, _ := net.Forward(z)
		theta[k] = orig - h
		require.NoError(t, net.SetParameters(theta))
		down, _ := net.Forward(z)
		theta[k] = orig
		fd := (sumWeighted(up, w) - sumWeighted(down, w)) / (2 * h)
		assert.InDeltaf(t, fd, grad[k], 1e-5, "parameter %d", k)
	}
	require.NoError(t, net.SetParameters(theta))
}

func TestMLPParametersRoundTrip(t *testing.T) {
	net, err := NewMLP(3, []int{4}, 1, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)
	assert.Equal(t, 3*4+4+4*1+1, net.NumParameters())
	assert.Equal(t, 3, net.InDim())
	assert.Equal(t, 1, net.OutDim())

	theta := net.Parameters()
	for i := range theta {
		theta[i] = float64(i)
	}
	require.NoError(t, net.SetParameters(theta))
	assert.Equal(t, theta, net.Parameters())

	var dimErr *errors.DimensionError
	assert.True(t, errors.As(net.SetParameters(theta[1:]), &dimErr))
	_, err = net.Forward(mat.NewDense(2, 2, nil))
	assert.True(t, errors.As(err, &dimErr))
}

func TestNewMLPInvalidSizes(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	_, err := NewMLP(0, nil, 1, rng)
	assert.Error(t, err)
	_, err = NewMLP(1, []int{0}, 1, rng)
	assert.Error(t, err)

	// 隠れ層なしは線形写像
	net, err := NewMLP(1, nil, 1, rng)
	require.NoError(t, err)
	require.NoError(t, net.SetParameters([]float64{2, 1}))
	out, err := net.Forward(mat.NewDense(2, 1, []float64{-1, 3}))
	require.NoError(t, err)
	assert.Equal(t, -1.0, out.At(0, 0))
	assert.Equal(t, 7.0, out.At(1, 0))
}

func TestAdamMinimizesQuadratic(t *testing.T) {
	opt := NewAdam(0.05)
	x := []float64{3, -2}
	for i := 0; i < 2000; i++ {
		grad := []float64{2 * (x[0] - 1), 2 * (x[1] + 0.5)}
		require.NoError(t, opt.Step(x, grad))
	}
	assert.InDelta(t, 1.0, x[0], 1e-2)
	assert.InDelta(t, -0.5, x[1], 1e-2)
	assert.Equal(t, 2000, opt.Steps())

	opt.Reset()
	assert.Equal(t, 0, opt.Steps())
	assert.Error(t, opt.Step(x, []float64{1}))
}

func TestAdamFirstStepSize(t *testing.T) {
	// バイアス補正後の最初の一歩はほぼ lr·sign(g)
	opt := NewAdam(0.1)
	x := []float64{0}
	require.NoError(t, opt.Step(x, []float64{123}))
	assert.InDelta(t, -0.1, x[0], 1e-6)

	clipped := NewAdam(0.1)
	clipped.ClipNorm = 1
	g := []float64{3, 4}
	require.NoError(t, clipped.Step([]float64{0, 0}, g))
	assert.InDelta(t, 1.0, math.Hypot(g[0], g[1]), 1e-12)
}
