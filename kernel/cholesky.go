package kernel

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/apoorvalal/Functional-GEL/pkg/errors"
)

const (
	jitterBase     = 1e-10
	jitterAttempts = 10
)

// Factor is a Cholesky factorization L·Lᵀ ≈ K of an empirical Gram matrix.
type Factor struct {
	chol   mat.Cholesky
	n      int
	jitter float64
	method string
}

// Size returns the order of the factorized matrix.
func (f *Factor) Size() int { return f.n }

// Jitter returns the diagonal shift that was added to K before factorizing.
// It is zero when K was positive definite as given.
func (f *Factor) Jitter() float64 { return f.jitter }

// Method reports how the factor was obtained: "cholesky", "jitter" or "eigen".
func (f *Factor) Method() string { return f.method }

// L returns the lower-triangular factor.
func (f *Factor) L() *mat.TriDense {
	l := mat.NewTriDense(f.n, mat.Lower, nil)
	f.chol.LTo(l)
	return l
}

// U returns the transposed (upper-triangular) factor.
func (f *Factor) U() *mat.TriDense {
	u := mat.NewTriDense(f.n, mat.Upper, nil)
	f.chol.UTo(u)
	return u
}

// SolveVecTo solves L·Lᵀ·w = b.
func (f *Factor) SolveVecTo(dst *mat.VecDense, b mat.Vector) error {
	if b.Len() != f.n {
		return errors.NewDimensionError("kernel.Factor.SolveVecTo", f.n, b.Len(), 0)
	}
	if err := f.chol.SolveVecTo(dst, b); err != nil {
		// mat.Condition only flags ill-conditioning; dst is still the solution.
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return err
		}
	}
	return nil
}

// CholeskyFactor factorizes a square symmetric matrix with non-negative
// diagonal. If K is not numerically positive definite a diagonal jitter,
// relative to the mean diagonal, is added and grown tenfold per attempt. As a
// last resort the eigenvalues are clamped to a positive floor and the factor
// is rebuilt through a QR decomposition. It never fails for such input,
// including the all-zero matrix.
func CholeskyFactor(k mat.Symmetric) *Factor {
	n := k.SymmetricDim()
	f := &Factor{n: n, method: "cholesky"}
	if n == 0 {
		return f
	}
	if f.chol.Factorize(k) {
		return f
	}

	ref := meanDiag(k)
	shifted := mat.NewSymDense(n, nil)
	jitter := jitterBase * ref
	for attempt := 0; attempt < jitterAttempts; attempt++ {
		shifted.CopySym(k)
		for i := 0; i < n; i++ {
			shifted.SetSym(i, i, shifted.At(i, i)+jitter)
		}
		if f.chol.Factorize(shifted) {
			f.jitter = jitter
			f.method = "jitter"
			return f
		}
		jitter *= 10
	}

	f.factorizeEigen(k, jitterBase*ref)
	return f
}

func meanDiag(k mat.Symmetric) float64 {
	n := k.SymmetricDim()
	var s float64
	for i := 0; i < n; i++ {
		s += math.Abs(k.At(i, i))
	}
	s /= float64(n)
	if !(s > 0) || math.IsInf(s, 0) {
		return 1
	}
	return s
}

// factorizeEigen builds B = V·√max(Λ, floor) so that K' = B·Bᵀ, then uses
// Bᵀ = Q·R to obtain K' = Rᵀ·R with R upper triangular.
func (f *Factor) factorizeEigen(k mat.Symmetric, floor float64) {
	n := f.n
	f.method = "eigen"

	var es mat.EigenSym
	vecs := mat.NewDense(n, n, nil)
	vals := make([]float64, n)
	if es.Factorize(k, true) {
		es.Values(vals)
		es.VectorsTo(vecs)
	} else {
		// Degenerate input (e.g. NaNs): fall back to floor·I.
		for i := 0; i < n; i++ {
			vecs.Set(i, i, 1)
		}
	}
	maxVal := 0.0
	for _, v := range vals {
		if v > maxVal {
			maxVal = v
		}
	}
	if rel := 1e-12 * maxVal; rel > floor {
		floor = rel
	}

	bt := mat.NewDense(n, n, nil)
	for j := 0; j < n; j++ {
		lam := vals[j]
		if !(lam > floor) {
			lam = floor
		}
		s := math.Sqrt(lam)
		for i := 0; i < n; i++ {
			// Bᵀ[j,i] = V[i,j]·√λⱼ
			bt.Set(j, i, vecs.At(i, j)*s)
		}
	}

	var qr mat.QR
	qr.Factorize(bt)
	var r mat.Dense
	qr.RTo(&r)

	u := mat.NewTriDense(n, mat.Upper, nil)
	for i := 0; i < n; i++ {
		sign := 1.0
		if r.At(i, i) < 0 {
			sign = -1
		}
		for j := i; j < n; j++ {
			u.SetTri(i, j, sign*r.At(i, j))
		}
	}
	f.chol.SetFromU(u)
	f.jitter = floor
}
