package model

import (
	"math"

	"github.com/apoorvalal/Functional-GEL/pkg/errors"
)

// FiniteParameters はパラメータにNaNやInfが含まれていないかを返す
func FiniteParameters(theta []float64) bool {
	for _, v := range theta {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Validate はモデルの次元情報が学習に使えるかを検証する
func Validate(m Model) error {
	if m == nil {
		return errors.NewValueError("model.Validate", "model is nil")
	}
	if m.PsiDim() <= 0 {
		return errors.NewValueError("model.Validate", "psi dimension must be positive")
	}
	if m.DimZ() <= 0 {
		return errors.NewValueError("model.Validate", "instrument dimension must be positive")
	}
	if len(m.Parameters()) == 0 {
		return errors.NewValueError("model.Validate", "model has no trainable parameters")
	}
	return nil
}
