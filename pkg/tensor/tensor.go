// Package tensor converts between diffusion tensor eigen-decompositions and
// the six unique tensor components.
package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"dmritools/internal/models"
)

// Components is the number of unique elements of a symmetric 3x3 tensor.
// They are stored in the order Dxx, Dxy, Dxz, Dyy, Dyz, Dzz.
const Components = 6

// Compose returns sum_i l[i] * v[i] v[i]^T.
func Compose(l [3]float64, v [3][3]float64) *mat.SymDense {
	d := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		d.SymRankOne(d, l[i], mat.NewVecDense(3, v[i][:]))
	}
	return d
}

// Unique returns the six unique elements of a symmetric tensor.
func Unique(d mat.Symmetric) [Components]float64 {
	return [Components]float64{
		d.At(0, 0), d.At(0, 1), d.At(0, 2),
		d.At(1, 1), d.At(1, 2),
		d.At(2, 2),
	}
}

// FromEigen builds a 4D tensor image from three eigenvalue volumes (L1..L3)
// and three 3-component eigenvector volumes (V1..V3). The result carries
// the affine of L1.
func FromEigen(l [3]*models.Volume, v [3]*models.Volume) (*models.Volume, error) {
	ref := l[0]
	nx, ny, nz := ref.SpatialDims()
	n := ref.SpatialLen()

	for i := 0; i < 3; i++ {
		if !l[i].SameGrid(ref) || l[i].Frames() != 1 {
			return nil, fmt.Errorf("%w: L%d has dims %v, L1 has %v", models.ErrShapeMismatch, i+1, l[i].Dims, ref.Dims)
		}
		if !v[i].SameGrid(ref) || v[i].Frames() != 3 {
			return nil, fmt.Errorf("%w: V%d has dims %v, expected %v x 3", models.ErrShapeMismatch, i+1, v[i].Dims, []int{nx, ny, nz})
		}
	}

	out := models.NewVolume([]int{nx, ny, nz, Components}, ref.Affine)
	var lam [3]float64
	var vec [3][3]float64
	for p := 0; p < n; p++ {
		for i := 0; i < 3; i++ {
			lam[i] = l[i].Data[p]
			for c := 0; c < 3; c++ {
				vec[i][c] = v[i].Data[c*n+p]
			}
		}
		u := Unique(Compose(lam, vec))
		for c := 0; c < Components; c++ {
			out.Data[c*n+p] = u[c]
		}
	}
	return out, nil
}
