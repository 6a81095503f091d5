// Package nn implements the small feed-forward networks used for inference.
// Weights are fit offline and loaded from the artifact bundle; this package
// only evaluates them. Forward passes can additionally return the gradient
// of the summed output with respect to the input, which is how saliency
// capture shares a single pass with prediction.
package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Network is a one-hidden-layer perceptron with tanh activation:
// y = W2·tanh(W1·x + b1) + b2.
type Network struct {
	w1 *mat.Dense // hidden x in
	b1 []float64
	w2 *mat.Dense // out x hidden
	b2 []float64
}

// Weights is the serialized form of a Network.
type Weights struct {
	W1 [][]float64 `json:"w1"`
	B1 []float64   `json:"b1"`
	W2 [][]float64 `json:"w2"`
	B2 []float64   `json:"b2"`
}

// New validates weight shapes and builds a Network.
func New(w Weights) (*Network, error) {
	hidden := len(w.W1)
	if hidden == 0 || len(w.B1) != hidden {
		return nil, fmt.Errorf("nn: hidden layer has %d rows but %d biases", hidden, len(w.B1))
	}
	in := len(w.W1[0])
	if in == 0 {
		return nil, fmt.Errorf("nn: zero input width")
	}
	out := len(w.W2)
	if out == 0 || len(w.B2) != out {
		return nil, fmt.Errorf("nn: output layer has %d rows but %d biases", out, len(w.B2))
	}

	w1, err := dense(w.W1, in)
	if err != nil {
		return nil, fmt.Errorf("nn: w1: %w", err)
	}
	w2, err := dense(w.W2, hidden)
	if err != nil {
		return nil, fmt.Errorf("nn: w2: %w", err)
	}

	return &Network{
		w1: w1,
		b1: append([]float64(nil), w.B1...),
		w2: w2,
		b2: append([]float64(nil), w.B2...),
	}, nil
}

func dense(rows [][]float64, width int) (*mat.Dense, error) {
	flat := make([]float64, 0, len(rows)*width)
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has width %d, want %d", i, len(row), width)
		}
		flat = append(flat, row...)
	}
	return mat.NewDense(len(rows), width, flat), nil
}

// InputDim returns the expected input width.
func (n *Network) InputDim() int {
	_, c := n.w1.Dims()
	return c
}

// OutputDim returns the output width.
func (n *Network) OutputDim() int {
	r, _ := n.w2.Dims()
	return r
}

// Forward evaluates the network on one input vector.
func (n *Network) Forward(x []float64) ([]float64, error) {
	y, _, err := n.forward(x, false)
	return y, err
}

// ForwardWithGrad evaluates the network and returns, alongside the output,
// the gradient of sum(output) with respect to each input element. Both come
// from the same pass so the gradient always corresponds to the returned
// prediction.
func (n *Network) ForwardWithGrad(x []float64) (y, grad []float64, err error) {
	return n.forward(x, true)
}

func (n *Network) forward(x []float64, withGrad bool) (y, grad []float64, err error) {
	if len(x) != n.InputDim() {
		return nil, nil, fmt.Errorf("nn: input has %d elements, want %d", len(x), n.InputDim())
	}

	hidden, _ := n.w1.Dims()
	out, _ := n.w2.Dims()

	xv := mat.NewVecDense(len(x), append([]float64(nil), x...))

	// h = tanh(W1 x + b1)
	var pre mat.VecDense
	pre.MulVec(n.w1, xv)
	h := make([]float64, hidden)
	for i := range h {
		h[i] = math.Tanh(pre.AtVec(i) + n.b1[i])
	}

	// y = W2 h + b2
	var yv mat.VecDense
	yv.MulVec(n.w2, mat.NewVecDense(hidden, h))
	y = make([]float64, out)
	for i := range y {
		y[i] = yv.AtVec(i) + n.b2[i]
	}

	if !withGrad {
		return y, nil, nil
	}

	// d(sum y)/dx = W1ᵀ · (u ⊙ (1 - h²)), u_j = Σ_k W2[k][j]
	v := make([]float64, hidden)
	for j := 0; j < hidden; j++ {
		var u float64
		for k := 0; k < out; k++ {
			u += n.w2.At(k, j)
		}
		v[j] = u * (1 - h[j]*h[j])
	}

	var gv mat.VecDense
	gv.MulVec(n.w1.T(), mat.NewVecDense(hidden, v))
	grad = make([]float64, len(x))
	for i := range grad {
		grad[i] = gv.AtVec(i)
	}
	return y, grad, nil
}
