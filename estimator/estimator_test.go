package estimator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/apoorvalal/Functional-GEL/core/model"
	"github.com/apoorvalal/Functional-GEL/kernel"
	"github.com/apoorvalal/Functional-GEL/linear"
	"github.com/apoorvalal/Functional-GEL/pkg/errors"
	"github.com/apoorvalal/Functional-GEL/pkg/log"
)

func TestTrainedParametersBeforeTrain(t *testing.T) {
	for _, est := range []model.Estimator{
		NewLeastSquares(linear.NewMomentModel(1, 1)),
		NewKernelVMM(linear.NewMomentModel(1, 1)),
		NewNeuralVMM(linear.NewMomentModel(1, 1)),
	} {
		t.Run(est.Name(), func(t *testing.T) {
			_, err := est.TrainedParameters()
			var nf *errors.NotFittedError
			require.True(t, errors.As(err, &nf), "got %v", err)
			assert.Equal(t, est.Name(), nf.ModelName)
			assert.Equal(t, model.StatusUntrained, est.Status())
		})
	}
}

func TestLeastSquaresEndToEnd(t *testing.T) {
	d := heteroskedastic(t, 200, 1)
	m := linear.NewMomentModel(1, 1)
	est := NewLeastSquares(m)

	require.NoError(t, est.Train(d.x, d.z, d.xVal, d.zVal))
	theta, err := est.TrainedParameters()
	require.NoError(t, err)
	require.Len(t, theta, 1)
	assert.Less(t, math.Abs(theta[0]-trueTheta), 0.5)
	assert.Equal(t, model.StatusConverged, est.Status())

	ref, err := linear.NewMomentModel(1, 1).NormalEquations(d.x)
	require.NoError(t, err)
	assert.InDelta(t, ref[0], theta[0], 1e-4)

	mmr, err := est.CalcValMMR(d.xVal, d.zVal)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(mmr) || math.IsInf(mmr, 0))
	assert.GreaterOrEqual(t, mmr, 0.0)
	assert.Nil(t, est.trainK, "least squares never needs the training kernel")
}

func TestTrainTwiceFails(t *testing.T) {
	d := heteroskedastic(t, 50, 2)
	m := linear.NewMomentModel(1, 1)
	est := NewLeastSquares(m)
	require.NoError(t, est.Train(d.x, d.z, nil, nil))
	before := m.Parameters()

	err := est.Train(d.xVal, d.zVal, nil, nil)
	assert.True(t, errors.Is(err, errors.ErrAlreadyTrained))
	assert.Equal(t, before, m.Parameters())
	assert.True(t, est.IsTrained())
}

func TestTrainValidatesInput(t *testing.T) {
	d := heteroskedastic(t, 30, 3)
	est := NewLeastSquares(linear.NewMomentModel(1, 1))

	err := est.Train(d.x, mat.NewDense(29, 1, nil), nil, nil)
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(err, &dimErr))

	err = est.Train(d.x, mat.NewDense(30, 2, nil), nil, nil)
	assert.True(t, errors.As(err, &dimErr))

	err = est.Train(d.x, d.z, d.xVal, nil)
	var valErr *errors.ValueError
	assert.True(t, errors.As(err, &valErr))

	// 入力エラーは学習回数に数えない
	require.NoError(t, est.Train(d.x, d.z, nil, nil))
}

func TestFiniteDifferenceGradientMatchesAnalytic(t *testing.T) {
	d := heteroskedastic(t, 100, 4)
	m := opaqueModel{linear.NewMomentModel(1, 1)}
	_, ok := model.Model(m).(model.Differentiable)
	require.False(t, ok)

	est := NewLeastSquares(m)
	require.NoError(t, est.Train(d.x, d.z, nil, nil))
	theta, err := est.TrainedParameters()
	require.NoError(t, err)

	ref, err := linear.NewMomentModel(1, 1).NormalEquations(d.x)
	require.NoError(t, err)
	assert.InDelta(t, ref[0], theta[0], 1e-4)
}

func TestCalcValMMRPermutationInvariant(t *testing.T) {
	d := heteroskedastic(t, 60, 5)
	n := 60
	perm := make([]int, n)
	for i := range perm {
		perm[i] = (i*7 + 3) % n
	}
	xp := selectRows(d.xVal, perm)
	zp := selectRows(d.zVal, perm)

	a := NewLeastSquares(linear.NewMomentModel(1, 1, linear.WithInitialParameters([]float64{1.2})))
	b := NewLeastSquares(linear.NewMomentModel(1, 1, linear.WithInitialParameters([]float64{1.2})))

	va, err := a.CalcValMMR(d.xVal, d.zVal)
	require.NoError(t, err)
	vb, err := b.CalcValMMR(xp, zp)
	require.NoError(t, err)
	assert.InDelta(t, va, vb, 1e-12)
	assert.Greater(t, va, 0.0)
}

func TestValidationKernelCache(t *testing.T) {
	d := heteroskedastic(t, 40, 6)
	m := linear.NewMomentModel(1, 1, linear.WithInitialParameters([]float64{0.5}))
	est := NewKernelVMM(m)

	v1, err := est.CalcValMMR(d.xVal, d.zVal)
	require.NoError(t, err)
	cached := est.valK
	require.NotNil(t, cached)
	assert.Nil(t, est.trainK, "validation never builds the training kernel")

	v2, err := est.CalcValMMR(d.xVal, d.zVal)
	require.NoError(t, err)
	assert.Same(t, cached, est.valK)
	assert.Equal(t, v1, v2)
	assert.Equal(t, []float64{0.5}, m.Parameters())

	_, err = est.CalcValMMR(d.x, d.z)
	require.NoError(t, err)
	assert.NotSame(t, cached, est.valK)
}

func TestKernelVMMEndToEnd(t *testing.T) {
	d := heteroskedastic(t, 200, 7)
	logger, _ := log.NewTestLogger(log.LevelDebug)
	est := NewKernelVMM(linear.NewMomentModel(1, 1),
		WithAlpha(1e-2),
		WithVerbose(true),
		WithLogger(logger),
	)

	require.NoError(t, est.Train(d.x, d.z, d.xVal, d.zVal))
	theta, err := est.TrainedParameters()
	require.NoError(t, err)
	assert.Less(t, math.Abs(theta[0]-trueTheta), 0.5)
	assert.Equal(t, model.StatusConverged, est.Status())
	assert.Equal(t, 1, est.Attempts())

	assert.Equal(t, 2, logger.CountMessage("Validation MMR"))
	assert.True(t, logger.ContainsField(log.ModelNameKey, "KernelVMM"))
	assert.True(t, logger.ContainsMessage("Training completed"))
}

func TestKernelVMMHeavyAlphaApproachesLeastSquares(t *testing.T) {
	d := heteroskedastic(t, 200, 8)
	ols, err := linear.NewMomentModel(1, 1).NormalEquations(d.x)
	require.NoError(t, err)

	// 極小のバンド幅ではK = Iとなり、αが大きいほど重みが一様になる
	fit := func(alpha float64) float64 {
		m := linear.NewMomentModel(1, 1)
		est := NewKernelVMM(m, WithAlpha(alpha), WithKernel(kernel.Fixed(1e-6)))
		require.NoError(t, est.Train(d.x, d.z, nil, nil))
		return m.Parameters()[0]
	}
	heavy := math.Abs(fit(1e4) - ols[0])
	light := math.Abs(fit(1e-6) - ols[0])

	assert.Less(t, heavy, 1e-3)
	assert.Less(t, heavy, light)
}

func TestKernelVMMEscalationIsBounded(t *testing.T) {
	d := heteroskedastic(t, 20, 9)

	t.Run("strict", func(t *testing.T) {
		logger, _ := log.NewTestLogger(log.LevelDebug)
		est := NewKernelVMM(nanModel{linear.NewMomentModel(1, 1)}, WithAlpha(1), WithLogger(logger))

		err := est.Train(d.x, d.z, nil, nil)
		assert.True(t, errors.Is(err, errors.ErrRegularizationExhausted))
		assert.Equal(t, 3, est.Attempts())
		assert.Equal(t, 100.0, est.Alpha())
		assert.Equal(t, model.StatusDegenerate, est.Status())
		assert.False(t, est.IsTrained())
		assert.Equal(t, 3, logger.CountMessage("Fitting attempt failed"))

		_, err = est.TrainedParameters()
		var nf *errors.NotFittedError
		assert.True(t, errors.As(err, &nf))
	})

	t.Run("accept", func(t *testing.T) {
		est := NewKernelVMM(nanModel{linear.NewMomentModel(1, 1)},
			WithAlpha(1),
			WithDegeneratePolicy(AcceptDegenerate),
		)
		require.NoError(t, est.Train(d.x, d.z, nil, nil))
		assert.Equal(t, 3, est.Attempts())
		assert.Equal(t, model.StatusDegenerate, est.Status())
		_, err := est.TrainedParameters()
		assert.NoError(t, err)
	})

	t.Run("zero seed", func(t *testing.T) {
		est := NewKernelVMM(nanModel{linear.NewMomentModel(1, 1)}, WithAlpha(0))
		assert.Error(t, est.Train(d.x, d.z, nil, nil))
		// 0, 1e-8, 1e-7, ..., 1e2 (丸め誤差で10を超えると一回少ない)
		assert.GreaterOrEqual(t, est.Attempts(), 11)
		assert.LessOrEqual(t, est.Attempts(), 12)
		assert.Greater(t, est.Alpha(), alphaCeiling)
	})
}

func TestCalcMMatrix(t *testing.T) {
	id := mat.NewSymDense(3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	psi := mat.NewDense(3, 1, []float64{1, 0, 2})

	// α = 0 でQは特異になり最小ノルム解に切り替わる
	m, method, err := calcMMatrix(id, psi, 0)
	require.NoError(t, err)
	assert.Equal(t, "lstsq", method)
	assert.InDelta(t, 3.0, m.At(0, 0), 1e-10)
	assert.InDelta(t, 0.0, m.At(1, 1), 1e-10)
	assert.InDelta(t, 0.75, m.At(2, 2), 1e-10)

	m, method, err = calcMMatrix(id, psi, 1)
	require.NoError(t, err)
	assert.Equal(t, "lu", method)
	for i, v := range []float64{1, 0, 2} {
		assert.InDelta(t, 1/(v*v/3+1), m.At(i, i), 1e-12)
	}

	_, _, err = calcMMatrix(id, mat.NewDense(2, 1, nil), 1)
	assert.Error(t, err)
}

func TestCalcMMatrixSymmetric(t *testing.T) {
	d := heteroskedastic(t, 15, 10)
	k, err := kernel.Gram(d.z, kernel.DefaultConfig())
	require.NoError(t, err)

	// 2本のモーメント
	psi := mat.NewDense(15, 2, nil)
	for i := 0; i < 15; i++ {
		psi.Set(i, 0, d.x.At(i, 1)-d.x.At(i, 0))
		psi.Set(i, 1, d.x.At(i, 0)*(d.x.At(i, 1)-d.x.At(i, 0)))
	}
	m, _, err := calcMMatrix(k, psi, 1e-3)
	require.NoError(t, err)
	require.Equal(t, 30, m.SymmetricDim())

	var dense mat.Dense
	dense.CloneFrom(m)
	assert.True(t, mat.EqualApprox(&dense, dense.T(), 1e-12))
}

func TestQuadraticObjectiveGradient(t *testing.T) {
	m := mat.NewSymDense(4, []float64{
		2, 1, 0, 0,
		1, 3, 0, 1,
		0, 0, 1, 0,
		0, 1, 0, 4,
	})
	obj := quadraticObjective(m)
	psi := mat.NewDense(2, 2, []float64{1, -1, 0.5, 2})
	grad := mat.NewDense(2, 2, nil)
	v := obj(psi, grad)

	const h = 1e-6
	for i := 0; i < 2; i++ {
		for r := 0; r < 2; r++ {
			up := mat.DenseCopyOf(psi)
			up.Set(i, r, psi.At(i, r)+h)
			dn := mat.DenseCopyOf(psi)
			dn.Set(i, r, psi.At(i, r)-h)
			assert.InDelta(t, (obj(up, nil)-obj(dn, nil))/(2*h), grad.At(i, r), 1e-6)
		}
	}
	// flat = [1, 0.5, -1, 2]
	assert.InDelta(t, 2+3*0.25+1+16+2*0.5+2*0.5*2, v, 1e-12)
}

func TestKernelVMMInvalidKernelIsNotEscalated(t *testing.T) {
	d := heteroskedastic(t, 20, 15)
	for _, policy := range []DegeneratePolicy{StrictDegenerate, AcceptDegenerate} {
		t.Run(policy.String(), func(t *testing.T) {
			m := linear.NewMomentModel(1, 1)
			est := NewKernelVMM(m, WithKernel(kernel.Fixed(0)), WithDegeneratePolicy(policy))

			err := est.Train(d.x, d.z, d.xVal, d.zVal)
			var valErr *errors.ValueError
			require.True(t, errors.As(err, &valErr), "got %v", err)
			assert.False(t, errors.Is(err, errors.ErrRegularizationExhausted))
			assert.Equal(t, 0, est.Attempts())
			assert.False(t, est.IsTrained())
			assert.Equal(t, model.StatusUntrained, est.Status())

			_, err = est.TrainedParameters()
			var nf *errors.NotFittedError
			assert.True(t, errors.As(err, &nf))
		})
	}
}

func TestKernelVMMRetryStartsFromInitialParameters(t *testing.T) {
	d := heteroskedastic(t, 50, 16)
	m := &poisonOnce{MomentModel: linear.NewMomentModel(1, 1)}
	est := NewKernelVMM(m, WithAlpha(1e-2))

	require.NoError(t, est.Train(d.x, d.z, nil, nil))
	assert.Equal(t, 2, est.Attempts())
	assert.InDelta(t, 0.1, est.Alpha(), 1e-15)
	assert.Equal(t, model.StatusConverged, est.Status())
	assert.True(t, m.IsFinite())
}

func TestValidationKernelBuiltOnceForNonDenseInput(t *testing.T) {
	d := heteroskedastic(t, 40, 17)
	logger, _ := log.NewTestLogger(log.LevelDebug)
	est := NewKernelVMM(linear.NewMomentModel(1, 1),
		WithAlpha(1e-2),
		WithVerbose(true),
		WithLogger(logger),
	)

	require.NoError(t, est.Train(d.x, d.z, matrixView{d.xVal}, matrixView{d.zVal}))
	assert.Equal(t, 2, logger.CountMessage("Validation MMR"))
	assert.Equal(t, 1, logger.CountMessage("Validation kernel built"))
	_, ok := est.valZ.(*mat.Dense)
	assert.True(t, ok)
}

func TestDenseOf(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	assert.Same(t, a, denseOf(a))

	c := denseOf(matrixView{a})
	require.IsType(t, &mat.Dense{}, c)
	assert.NotSame(t, a, c)
	assert.True(t, mat.Equal(a, c))
}
