package metrics

import (
	"gonum.org/v1/gonum/mat"

	"github.com/apoorvalal/Functional-GEL/pkg/errors"
)

// MMR computes the kernel moment-matching risk
//
//	Σᵢⱼᵣ ψ[i,r]·K[i,j]·ψ[j,r] / n²
//
// for moments psi (n × psi_dim) and a Gram matrix k (n × n) over the
// instruments of the same rows. It is invariant to any permutation applied
// to the rows of psi and to both axes of k together.
func MMR(psi mat.Matrix, k mat.Symmetric) (float64, error) {
	n, p := psi.Dims()
	if n == 0 || p == 0 {
		return 0, errors.NewValueError("MMR", "empty moment matrix")
	}
	if kn := k.SymmetricDim(); kn != n {
		return 0, errors.NewDimensionError("MMR", n, kn, 0)
	}
	var sum float64
	for r := 0; r < p; r++ {
		col := mat.Col(nil, r, psi)
		v := mat.NewVecDense(n, col)
		sum += mat.Inner(v, k, v)
	}
	return sum / float64(n*n), nil
}

// MMRGrad writes ∂MMR/∂ψ = 2·K·ψ/n² into dst, resizing it if empty.
func MMRGrad(dst *mat.Dense, psi mat.Matrix, k mat.Symmetric) {
	n, _ := psi.Dims()
	dst.Mul(k, psi)
	dst.Scale(2/float64(n*n), dst)
}

// MeanSquaredMoment returns Σᵢᵣ ψ[i,r]² / n, the objective of the
// least-squares baseline.
func MeanSquaredMoment(psi mat.Matrix) (float64, error) {
	n, p := psi.Dims()
	if n == 0 || p == 0 {
		return 0, errors.NewValueError("MeanSquaredMoment", "empty moment matrix")
	}
	var sum float64
	for i := 0; i < n; i++ {
		for r := 0; r < p; r++ {
			v := psi.At(i, r)
			sum += v * v
		}
	}
	return sum / float64(n), nil
}

// MeanSquaredMomentGrad writes ∂/∂ψ of MeanSquaredMoment, 2ψ/n, into dst.
func MeanSquaredMomentGrad(dst *mat.Dense, psi mat.Matrix) {
	n, _ := psi.Dims()
	dst.Scale(2/float64(n), psi)
}
