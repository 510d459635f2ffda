// Package linear provides a linear moment model
//
//	ψ(x;θ) = y − t·β − b
//
// where the rows of x hold the regressors t followed by the outcome y. It
// implements model.Differentiable so that estimators can back-propagate
// through ψ without finite differences.
package linear

import (
	"github.com/apoorvalal/Functional-GEL/core/model"
	"github.com/apoorvalal/Functional-GEL/core/parallel"
	"github.com/apoorvalal/Functional-GEL/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// 並列処理の閾値（この値以下の行数では逐次処理を使用）
const parallelThreshold = 1000

// MomentModel は線形モーメントモデル
type MomentModel struct {
	theta     []float64 // 係数（interceptがtrueなら末尾に切片）
	dimT      int       // 説明変数の数
	dimZ      int       // 操作変数の次元
	intercept bool
}

var _ model.Differentiable = (*MomentModel)(nil)

// NewMomentModel は新しい線形モーメントモデルを作成する。
// パラメータの初期値は0。
func NewMomentModel(dimT, dimZ int, opts ...Option) *MomentModel {
	m := &MomentModel{dimT: dimT, dimZ: dimZ}
	for _, opt := range opts {
		opt(m)
	}
	nParams := dimT
	if m.intercept {
		nParams++
	}
	if len(m.theta) != nParams {
		m.theta = make([]float64, nParams)
	}
	return m
}

// Psi は各行の残差 y − t·β − b を n×1 行列として返す
func (m *MomentModel) Psi(x mat.Matrix) *mat.Dense {
	r, c := x.Dims()
	if c != m.dimT+1 {
		panic(errors.NewDimensionError("MomentModel.Psi", m.dimT+1, c, 1))
	}
	psi := mat.NewDense(r, 1, nil)

	parallel.ParallelizeWithThreshold(r, parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			v := x.At(i, m.dimT)
			for j := 0; j < m.dimT; j++ {
				v -= x.At(i, j) * m.theta[j]
			}
			if m.intercept {
				v -= m.theta[m.dimT]
			}
			psi.Set(i, 0, v)
		}
	})
	return psi
}

// PsiVJP は Σᵢ cot[i]·∂ψᵢ/∂θ を返す。∂ψᵢ/∂βⱼ = −tᵢⱼ, ∂ψᵢ/∂b = −1
func (m *MomentModel) PsiVJP(x mat.Matrix, cotangent *mat.Dense) []float64 {
	r, c := x.Dims()
	if c != m.dimT+1 {
		panic(errors.NewDimensionError("MomentModel.PsiVJP", m.dimT+1, c, 1))
	}
	if cr, _ := cotangent.Dims(); cr != r {
		panic(errors.NewDimensionError("MomentModel.PsiVJP", r, cr, 0))
	}
	grad := make([]float64, len(m.theta))
	for i := 0; i < r; i++ {
		g := cotangent.At(i, 0)
		for j := 0; j < m.dimT; j++ {
			grad[j] -= g * x.At(i, j)
		}
		if m.intercept {
			grad[m.dimT] -= g
		}
	}
	return grad
}

// Parameters はパラメータのコピーを返す
func (m *MomentModel) Parameters() []float64 {
	out := make([]float64, len(m.theta))
	copy(out, m.theta)
	return out
}

// SetParameters はパラメータを設定する
func (m *MomentModel) SetParameters(theta []float64) error {
	if len(theta) != len(m.theta) {
		return errors.NewDimensionError("MomentModel.SetParameters", len(m.theta), len(theta), 0)
	}
	copy(m.theta, theta)
	return nil
}

// IsFinite はパラメータが全て有限かを返す
func (m *MomentModel) IsFinite() bool {
	return model.FiniteParameters(m.theta)
}

// PsiDim はモーメント条件の数（常に1）
func (m *MomentModel) PsiDim() int { return 1 }

// DimZ は操作変数の次元
func (m *MomentModel) DimZ() int { return m.dimZ }

// DimT は説明変数の数
func (m *MomentModel) DimT() int { return m.dimT }

// Predict は t·β + b を返す。xは説明変数の列だけ、もしくは末尾にyを含んでもよい
func (m *MomentModel) Predict(x mat.Matrix) (*mat.VecDense, error) {
	r, c := x.Dims()
	if c != m.dimT && c != m.dimT+1 {
		return nil, errors.NewDimensionError("MomentModel.Predict", m.dimT, c, 1)
	}
	pred := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		var v float64
		for j := 0; j < m.dimT; j++ {
			v += x.At(i, j) * m.theta[j]
		}
		if m.intercept {
			v += m.theta[m.dimT]
		}
		pred.SetVec(i, v)
	}
	return pred, nil
}

// NormalEquations は最小二乗解を正規方程式 (TᵀT)β = Tᵀy で求める。
// 勾配法によらない参照解として使う。
func (m *MomentModel) NormalEquations(x mat.Matrix) ([]float64, error) {
	r, c := x.Dims()
	if r == 0 || c == 0 {
		return nil, errors.NewModelError("MomentModel.NormalEquations", "empty data", errors.ErrEmptyData)
	}
	if c != m.dimT+1 {
		return nil, errors.NewDimensionError("MomentModel.NormalEquations", m.dimT+1, c, 1)
	}

	p := len(m.theta)
	design := mat.NewDense(r, p, nil)
	y := mat.NewVecDense(r, nil)
	parallel.ParallelizeWithThreshold(r, parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			for j := 0; j < m.dimT; j++ {
				design.Set(i, j, x.At(i, j))
			}
			if m.intercept {
				design.Set(i, m.dimT, 1.0) // 切片項
			}
			y.SetVec(i, x.At(i, m.dimT))
		}
	})

	var xtx mat.Dense
	xtx.Mul(design.T(), design)
	var xty mat.VecDense
	xty.MulVec(design.T(), y)

	var beta mat.VecDense
	if err := beta.SolveVec(&xtx, &xty); err != nil {
		return nil, errors.NewModelError("MomentModel.NormalEquations", "singular matrix", errors.ErrSingularMatrix)
	}
	return beta.RawVector().Data, nil
}
