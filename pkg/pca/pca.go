// Package pca wraps a pre-fit linear projection used to re-encode raw
// prediction vectors as next-step model inputs. The component matrix and
// mean are fit offline and loaded from the artifact bundle; Reduce never
// fits anything at request time.
package pca

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Projection is a fixed linear map from InputDim-dimensional vectors down
// to OutputDim components: reduce(x) = (x - mean) · componentsᵀ.
type Projection struct {
	mean       []float64
	components *mat.Dense // OutputDim x InputDim
}

// New builds a Projection from its pre-fit parameters. components holds one
// row per output component, each of width len(mean).
func New(mean []float64, components [][]float64) (*Projection, error) {
	if len(mean) == 0 {
		return nil, fmt.Errorf("pca: empty mean vector")
	}
	if len(components) == 0 {
		return nil, fmt.Errorf("pca: no components")
	}
	flat := make([]float64, 0, len(components)*len(mean))
	for i, row := range components {
		if len(row) != len(mean) {
			return nil, fmt.Errorf("pca: component %d has width %d, want %d", i, len(row), len(mean))
		}
		flat = append(flat, row...)
	}
	return &Projection{
		mean:       append([]float64(nil), mean...),
		components: mat.NewDense(len(components), len(mean), flat),
	}, nil
}

// InputDim returns the expected input vector width.
func (p *Projection) InputDim() int {
	_, c := p.components.Dims()
	return c
}

// OutputDim returns the reduced width.
func (p *Projection) OutputDim() int {
	r, _ := p.components.Dims()
	return r
}

// Reduce projects each row of x (n x InputDim) into component space,
// returning an n x OutputDim matrix as row slices. It accepts single-row
// and batched input uniformly.
func (p *Projection) Reduce(rows [][]float64) ([][]float64, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("pca: no rows to reduce")
	}
	in := p.InputDim()
	centered := make([]float64, 0, len(rows)*in)
	for i, row := range rows {
		if len(row) != in {
			return nil, fmt.Errorf("pca: row %d has width %d, want %d", i, len(row), in)
		}
		for j, v := range row {
			centered = append(centered, v-p.mean[j])
		}
	}

	x := mat.NewDense(len(rows), in, centered)
	var out mat.Dense
	out.Mul(x, p.components.T())

	reduced := make([][]float64, len(rows))
	for i := range reduced {
		reduced[i] = append([]float64(nil), out.RawRowView(i)...)
	}
	return reduced, nil
}

// ReduceOne projects a single vector.
func (p *Projection) ReduceOne(row []float64) ([]float64, error) {
	out, err := p.Reduce([][]float64{row})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}
