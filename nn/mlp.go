// Package nn provides the small feed-forward network used as the learned
// dual function f(z) of the adversarial estimators, and the Adam optimizer
// that trains it.
package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/apoorvalal/Functional-GEL/pkg/errors"
)

// leakySlope is the negative-side slope of the LeakyReLU activation.
const leakySlope = 0.2

// MLP is a fully connected network with LeakyReLU hidden activations and a
// linear output layer.
type MLP struct {
	sizes   []int
	weights []*mat.Dense    // sizes[l] × sizes[l+1]
	biases  []*mat.VecDense // sizes[l+1]
}

// NewMLP builds a network in → hidden... → out with He-initialized weights
// and zero biases drawn from rng.
func NewMLP(in int, hidden []int, out int, rng *rand.Rand) (*MLP, error) {
	if in <= 0 || out <= 0 {
		return nil, errors.NewValueError("nn.NewMLP", "input and output sizes must be positive")
	}
	sizes := append([]int{in}, hidden...)
	sizes = append(sizes, out)
	for _, s := range sizes {
		if s <= 0 {
			return nil, errors.NewValueError("nn.NewMLP", "layer sizes must be positive")
		}
	}

	m := &MLP{sizes: sizes}
	for l := 0; l+1 < len(sizes); l++ {
		fanIn, fanOut := sizes[l], sizes[l+1]
		std := math.Sqrt(2 / float64(fanIn))
		w := mat.NewDense(fanIn, fanOut, nil)
		for i := 0; i < fanIn; i++ {
			for j := 0; j < fanOut; j++ {
				w.Set(i, j, rng.NormFloat64()*std)
			}
		}
		m.weights = append(m.weights, w)
		m.biases = append(m.biases, mat.NewVecDense(fanOut, nil))
	}
	return m, nil
}

// InDim returns the input width.
func (m *MLP) InDim() int { return m.sizes[0] }

// OutDim returns the output width.
func (m *MLP) OutDim() int { return m.sizes[len(m.sizes)-1] }

// NumParameters returns the length of the flat parameter vector.
func (m *MLP) NumParameters() int {
	var n int
	for l := range m.weights {
		r, c := m.weights[l].Dims()
		n += r*c + c
	}
	return n
}

// Parameters returns a flat copy of all weights and biases, layer by layer,
// each weight matrix row-major followed by its bias.
func (m *MLP) Parameters() []float64 {
	out := make([]float64, 0, m.NumParameters())
	for l, w := range m.weights {
		r, c := w.Dims()
		for i := 0; i < r; i++ {
			out = append(out, w.RawRowView(i)...)
		}
		for j := 0; j < c; j++ {
			out = append(out, m.biases[l].AtVec(j))
		}
	}
	return out
}

// SetParameters writes a flat vector in the layout of Parameters.
func (m *MLP) SetParameters(theta []float64) error {
	if len(theta) != m.NumParameters() {
		return errors.NewDimensionError("nn.MLP.SetParameters", m.NumParameters(), len(theta), 0)
	}
	k := 0
	for l, w := range m.weights {
		r, c := w.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				w.Set(i, j, theta[k])
				k++
			}
		}
		for j := 0; j < c; j++ {
			m.biases[l].SetVec(j, theta[k])
			k++
		}
	}
	return nil
}

// Trace holds the layer inputs and pre-activations of one forward pass.
type Trace struct {
	inputs []*mat.Dense // a_l, input to layer l
	pre    []*mat.Dense // h_l = a_l·W_l + b_l
}

// Forward evaluates the network on the rows of z.
func (m *MLP) Forward(z mat.Matrix) (*mat.Dense, error) {
	out, _, err := m.ForwardTrace(z)
	return out, err
}

// ForwardTrace evaluates the network and keeps what Backward needs.
func (m *MLP) ForwardTrace(z mat.Matrix) (*mat.Dense, *Trace, error) {
	n, c := z.Dims()
	if c != m.InDim() {
		return nil, nil, errors.NewDimensionError("nn.MLP.Forward", m.InDim(), c, 1)
	}
	tr := &Trace{}
	a := mat.DenseCopyOf(z)
	last := len(m.weights) - 1
	for l, w := range m.weights {
		tr.inputs = append(tr.inputs, a)
		_, width := w.Dims()
		h := mat.NewDense(n, width, nil)
		h.Mul(a, w)
		b := m.biases[l]
		for i := 0; i < n; i++ {
			row := h.RawRowView(i)
			for j := range row {
				row[j] += b.AtVec(j)
			}
		}
		tr.pre = append(tr.pre, h)
		if l == last {
			a = h
			break
		}
		act := mat.NewDense(n, width, nil)
		act.Apply(func(_, _ int, v float64) float64 { return leakyReLU(v) }, h)
		a = act
	}
	return a, tr, nil
}

// Backward returns ∂L/∂θ in the layout of Parameters, given the trace of a
// forward pass and gradOut = ∂L/∂output.
func (m *MLP) Backward(tr *Trace, gradOut *mat.Dense) ([]float64, error) {
	n, c := gradOut.Dims()
	if c != m.OutDim() {
		return nil, errors.NewDimensionError("nn.MLP.Backward", m.OutDim(), c, 1)
	}
	if r, _ := tr.inputs[0].Dims(); r != n {
		return nil, errors.NewDimensionError("nn.MLP.Backward", r, n, 0)
	}

	gw := make([]*mat.Dense, len(m.weights))
	gb := make([][]float64, len(m.weights))
	delta := mat.DenseCopyOf(gradOut)
	for l := len(m.weights) - 1; l >= 0; l-- {
		var g mat.Dense
		g.Mul(tr.inputs[l].T(), delta)
		gw[l] = &g

		_, width := delta.Dims()
		gb[l] = make([]float64, width)
		for i := 0; i < n; i++ {
			for j, v := range delta.RawRowView(i) {
				gb[l][j] += v
			}
		}

		if l == 0 {
			break
		}
		var next mat.Dense
		next.Mul(delta, m.weights[l].T())
		prev := tr.pre[l-1]
		next.Apply(func(i, j int, v float64) float64 {
			return v * leakyReLUGrad(prev.At(i, j))
		}, &next)
		delta = &next
	}

	out := make([]float64, 0, m.NumParameters())
	for l := range m.weights {
		r, _ := gw[l].Dims()
		for i := 0; i < r; i++ {
			out = append(out, gw[l].RawRowView(i)...)
		}
		out = append(out, gb[l]...)
	}
	return out, nil
}

func leakyReLU(v float64) float64 {
	if v > 0 {
		return v
	}
	return leakySlope * v
}

func leakyReLUGrad(v float64) float64 {
	if v > 0 {
		return 1
	}
	return leakySlope
}
