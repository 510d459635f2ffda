// Package kernel builds RBF Gram matrices over instrument samples and
// factorizes them. Every estimator scores itself with these matrices, and
// Kernel-VMM and Neural-VMM also use them during training.
package kernel

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/apoorvalal/Functional-GEL/core/parallel"
	"github.com/apoorvalal/Functional-GEL/pkg/errors"
)

// BandwidthRule selects how the RBF bandwidth σ is chosen.
type BandwidthRule int

const (
	// BandwidthMedian sets σ to the median pairwise distance of the reference sample.
	BandwidthMedian BandwidthRule = iota
	// BandwidthFixed uses Config.Bandwidth as given.
	BandwidthFixed
)

// parallelThreshold is the row count above which Gram rows are filled concurrently.
const parallelThreshold = 256

// Config holds the RBF kernel arguments shared by all estimators.
//
// The kernel is k(a, b) = Scale · exp(−‖a − b‖² / (2σ²)).
type Config struct {
	Rule      BandwidthRule
	Bandwidth float64 // σ, used with BandwidthFixed
	Scale     float64 // output scale; 0 means 1
}

// DefaultConfig returns the median-heuristic kernel with unit scale.
func DefaultConfig() Config {
	return Config{Rule: BandwidthMedian, Scale: 1}
}

// Fixed returns a unit-scale kernel with bandwidth sigma.
func Fixed(sigma float64) Config {
	return Config{Rule: BandwidthFixed, Bandwidth: sigma, Scale: 1}
}

func (c Config) scale() (float64, error) {
	switch {
	case c.Scale == 0:
		return 1, nil
	case c.Scale < 0 || math.IsNaN(c.Scale):
		return 0, errors.NewValueError("kernel.Config", "scale must be positive")
	}
	return c.Scale, nil
}

// ResolveBandwidth returns σ for the given reference sample.
func (c Config) ResolveBandwidth(ref mat.Matrix) (float64, error) {
	switch c.Rule {
	case BandwidthFixed:
		if !(c.Bandwidth > 0) || math.IsInf(c.Bandwidth, 0) {
			return 0, errors.NewValueError("kernel.Config", "bandwidth must be positive and finite")
		}
		return c.Bandwidth, nil
	case BandwidthMedian:
		return MedianHeuristic(ref), nil
	default:
		return 0, errors.NewValueError("kernel.Config", "unknown bandwidth rule")
	}
}

// MedianHeuristic returns the median Euclidean distance between distinct rows
// of z. It returns 1 when z has fewer than two rows or all rows coincide.
func MedianHeuristic(z mat.Matrix) float64 {
	n, _ := z.Dims()
	if n < 2 {
		return 1
	}
	dists := make([]float64, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dists = append(dists, math.Sqrt(sqDist(z, i, z, j)))
		}
	}
	sort.Float64s(dists)
	med := stat.Quantile(0.5, stat.Empirical, dists, nil)
	if !(med > 0) {
		return 1
	}
	return med
}

func sqDist(a mat.Matrix, i int, b mat.Matrix, j int) float64 {
	_, d := a.Dims()
	var s float64
	for k := 0; k < d; k++ {
		diff := a.At(i, k) - b.At(j, k)
		s += diff * diff
	}
	return s
}

// RBF returns the cross kernel matrix K[i,j] = k(aᵢ, bⱼ). The median
// heuristic, when selected, is computed on a.
func RBF(a, b mat.Matrix, cfg Config) (*mat.Dense, error) {
	na, da := a.Dims()
	nb, db := b.Dims()
	if na == 0 || nb == 0 {
		return nil, errors.NewModelError("kernel.RBF", "empty data", errors.ErrEmptyData)
	}
	if da != db {
		return nil, errors.NewDimensionError("kernel.RBF", da, db, 1)
	}
	sigma, err := cfg.ResolveBandwidth(a)
	if err != nil {
		return nil, err
	}
	scale, err := cfg.scale()
	if err != nil {
		return nil, err
	}
	gamma := 1 / (2 * sigma * sigma)

	k := mat.NewDense(na, nb, nil)
	parallel.ParallelizeWithThreshold(na, parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			for j := 0; j < nb; j++ {
				k.Set(i, j, scale*math.Exp(-gamma*sqDist(a, i, b, j)))
			}
		}
	})
	return k, nil
}

// Gram returns the symmetric kernel matrix of z with itself. Only the upper
// triangle is evaluated, so the result is exactly symmetric and every
// diagonal entry equals the kernel scale.
func Gram(z mat.Matrix, cfg Config) (*mat.SymDense, error) {
	n, _ := z.Dims()
	if n == 0 {
		return nil, errors.NewModelError("kernel.Gram", "empty data", errors.ErrEmptyData)
	}
	sigma, err := cfg.ResolveBandwidth(z)
	if err != nil {
		return nil, err
	}
	scale, err := cfg.scale()
	if err != nil {
		return nil, err
	}
	gamma := 1 / (2 * sigma * sigma)

	k := mat.NewSymDense(n, nil)
	parallel.ParallelizeWithThreshold(n, parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			k.SetSym(i, i, scale)
			for j := i + 1; j < n; j++ {
				k.SetSym(i, j, scale*math.Exp(-gamma*sqDist(z, i, z, j)))
			}
		}
	})
	return k, nil
}
