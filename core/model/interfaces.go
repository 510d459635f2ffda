// Package model defines the contracts shared by moment models and the
// estimators that fit them.
package model

import (
	"gonum.org/v1/gonum/mat"
)

// Model is a parametric moment function ψ(x;θ) whose conditional
// expectation given the instrument z should vanish at the true θ.
//
// A Model is owned by the caller and borrowed by exactly one estimator for
// the estimator's lifetime. Validation scoring only reads it.
type Model interface {
	// Psi evaluates the moment function on the rows of x and returns an
	// n × PsiDim() matrix.
	Psi(x mat.Matrix) *mat.Dense

	// Parameters returns a copy of the flat trainable parameter vector θ.
	Parameters() []float64

	// SetParameters replaces θ. The length must match Parameters().
	SetParameters(theta []float64) error

	// IsFinite reports whether θ contains no NaN or Inf.
	IsFinite() bool

	// PsiDim is the number of moment conditions.
	PsiDim() int

	// DimZ is the dimension of the instrument.
	DimZ() int
}

// Differentiable is implemented by models that can back-propagate a
// cotangent through ψ analytically.
type Differentiable interface {
	Model

	// PsiVJP returns the vector-Jacobian product Σᵢᵣ cot[i,r]·∂ψ[i,r]/∂θ
	// evaluated at the current parameters.
	PsiVJP(x mat.Matrix, cotangent *mat.Dense) []float64
}

// Transformer はデータ変換のインターフェース
type Transformer interface {
	// Fit は変換に必要な統計量を学習する
	Fit(X mat.Matrix) error

	// Transform はデータを変換する
	Transform(X mat.Matrix) (*mat.Dense, error)

	// FitTransform はFitとTransformを同時に実行する
	FitTransform(X mat.Matrix) (*mat.Dense, error)
}
