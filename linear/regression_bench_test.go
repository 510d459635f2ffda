package linear

import (
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// createBenchmarkData はベンチマーク用の [t, y] 行列と真の係数を生成する
func createBenchmarkData(rows, cols int) (*mat.Dense, []float64) {
	// シードを固定して再現性を確保
	rng := rand.New(rand.NewPCG(42, 42))

	trueWeights := make([]float64, cols)
	for j := 0; j < cols; j++ {
		trueWeights[j] = float64(j+1) * 0.5
	}

	x := mat.NewDense(rows, cols+1, nil)
	for i := 0; i < rows; i++ {
		sum := 1.0 // 切片
		for j := 0; j < cols; j++ {
			v := rng.Float64()*2.0 - 1.0
			x.Set(i, j, v)
			sum += v * trueWeights[j]
		}
		// 小さなノイズを追加
		sum += (rng.Float64() - 0.5) * 0.1
		x.Set(i, cols, sum)
	}

	return x, trueWeights
}

// BenchmarkPsi は並列閾値の前後でPsiを測定する
func BenchmarkPsi(b *testing.B) {
	sizes := []struct {
		name string
		rows int
		cols int
	}{
		{"Sequential_900x10", 900, 10}, // 閾値(1000)未満
		{"Medium_2000x10", 2000, 10},
		{"Large_10000x20", 10000, 20},
	}

	for _, size := range sizes {
		b.Run(size.name, func(b *testing.B) {
			x, w := createBenchmarkData(size.rows, size.cols)
			m := NewMomentModel(size.cols, 1, WithInitialParameters(w))

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = m.Psi(x)
			}
		})
	}
}

// BenchmarkPsiVJP はPsiVJPのベンチマーク
func BenchmarkPsiVJP(b *testing.B) {
	x, w := createBenchmarkData(5000, 20)
	m := NewMomentModel(20, 1, WithInitialParameters(w))
	cot := m.Psi(x)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.PsiVJP(x, cot)
	}
}

// BenchmarkNormalEquations は正規方程式による参照解のベンチマーク
func BenchmarkNormalEquations(b *testing.B) {
	x, _ := createBenchmarkData(5000, 20)
	m := NewMomentModel(20, 1, WithIntercept(true))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.NormalEquations(x); err != nil {
			b.Fatal(err)
		}
	}
}
