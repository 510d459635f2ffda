package estimator

import (
	"gonum.org/v1/gonum/mat"

	"github.com/apoorvalal/Functional-GEL/core/model"
)

// LeastSquares fits θ by minimizing the unweighted moment risk Σψ²/n. It
// needs no training kernel; the kernel is only built for validation.
type LeastSquares struct {
	*Base
}

var _ model.Estimator = (*LeastSquares)(nil)

// NewLeastSquares returns an ordinary least-squares estimator for m.
func NewLeastSquares(m model.Model, opts ...Option) *LeastSquares {
	return &LeastSquares{Base: newBase("OrdinaryLeastSquares", m, opts)}
}

// Train runs a single quasi-Newton minimization. It may be called once.
func (e *LeastSquares) Train(x, z, xVal, zVal mat.Matrix) error {
	return e.run(x, z, xVal, zVal, e.trainInternal)
}

func (e *LeastSquares) trainInternal(x, _, _, _ mat.Matrix) (model.TrainStatus, error) {
	if err := e.minimizePsi(x, momentSquareObjective, e.name+".Train"); err != nil {
		return model.StatusDegenerate, err
	}
	return model.StatusConverged, nil
}
