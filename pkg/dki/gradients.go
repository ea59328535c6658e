package dki

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"dmritools/internal/models"
)

// GradientTable holds the b-value and unit direction of every diffusion
// weighted volume.
type GradientTable struct {
	BVals []float64
	BVecs [][3]float64
}

// NewGradientTable builds a table from .bval and .bvec contents. b-vectors
// may be stored as 3xN (FSL layout) or Nx3; a 3x3 table is read as 3xN.
func NewGradientTable(bvals, bvecs models.Array) (*GradientTable, error) {
	n := len(bvals.Data)
	if len(bvals.Shape) > 1 {
		return nil, fmt.Errorf("%w: bvals must be a vector, got shape %v", models.ErrShapeMismatch, bvals.Shape)
	}
	if len(bvecs.Shape) != 2 {
		return nil, fmt.Errorf("%w: bvecs must be a matrix, got shape %v", models.ErrShapeMismatch, bvecs.Shape)
	}

	if n == 0 || bvecs.Size() == 0 {
		return nil, fmt.Errorf("%w: empty gradient table", models.ErrShapeMismatch)
	}

	m, err := bvecs.Dense()
	if err != nil {
		return nil, err
	}
	rows, cols := m.Dims()
	var dirs mat.Matrix = m
	switch {
	case rows == 3 && cols == n:
		dirs = m.T()
	case cols == 3 && rows == n:
	default:
		return nil, fmt.Errorf("%w: %d bvals but bvecs shape %v", models.ErrShapeMismatch, n, bvecs.Shape)
	}

	g := &GradientTable{
		BVals: append([]float64(nil), bvals.Data...),
		BVecs: make([][3]float64, n),
	}
	for i := 0; i < n; i++ {
		for c := 0; c < 3; c++ {
			g.BVecs[i][c] = dirs.At(i, c)
		}
	}
	return g, nil
}

// Len returns the number of diffusion measurements.
func (g *GradientTable) Len() int {
	return len(g.BVals)
}
