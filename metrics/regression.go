package metrics

import (
	"github.com/apoorvalal/Functional-GEL/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// MSE は平均二乗誤差（Mean Squared Error）を計算する
func MSE(yTrue, yPred *mat.VecDense) (float64, error) {
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError("MSE", "empty vector")
	}

	if yPred.Len() != n {
		return 0, errors.NewDimensionError("MSE", n, yPred.Len(), 0)
	}

	// MSE = (1/n) * Σ(yTrue - yPred)²
	var sum float64
	for i := 0; i < n; i++ {
		diff := yTrue.AtVec(i) - yPred.AtVec(i)
		sum += diff * diff
	}

	return sum / float64(n), nil
}

// ParameterMSE は推定パラメータと真のパラメータの平均二乗誤差を計算する
func ParameterMSE(estimated, truth []float64) (float64, error) {
	if len(estimated) == 0 {
		return 0, errors.NewValueError("ParameterMSE", "empty parameter vector")
	}
	if len(truth) != len(estimated) {
		return 0, errors.NewDimensionError("ParameterMSE", len(truth), len(estimated), 0)
	}
	return MSE(mat.NewVecDense(len(truth), truth), mat.NewVecDense(len(estimated), estimated))
}
