package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Array is an n-dimensional numeric array stored in row-major order.
// Scalars have an empty shape, vectors a single dimension and matrices two.
type Array struct {
	// Shape holds the size of every dimension
	Shape []int

	// Data holds Size() elements in row-major order
	Data []float64
}

// Scalar wraps a single value as a zero-dimensional array
func Scalar(v float64) Array {
	return Array{Shape: []int{}, Data: []float64{v}}
}

// Vector wraps values as a one-dimensional array
func Vector(v []float64) Array {
	return Array{Shape: []int{len(v)}, Data: v}
}

// FromDense converts a gonum matrix into a two-dimensional array
func FromDense(m mat.Matrix) Array {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, m.At(i, j))
		}
	}
	return Array{Shape: []int{r, c}, Data: data}
}

// Size returns the number of elements implied by the shape
func (a Array) Size() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// SameShape reports whether two arrays have identical shapes
func (a Array) SameShape(b Array) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

// Dense returns a two-dimensional array as a gonum matrix. Vectors become a
// single row.
func (a Array) Dense() (*mat.Dense, error) {
	switch len(a.Shape) {
	case 1:
		return mat.NewDense(1, a.Shape[0], a.Data), nil
	case 2:
		return mat.NewDense(a.Shape[0], a.Shape[1], a.Data), nil
	default:
		return nil, fmt.Errorf("%w: cannot view %d-dimensional array as matrix", ErrShapeMismatch, len(a.Shape))
	}
}

// Volume represents an image volume decoded from a NIfTI file
type Volume struct {
	// Data holds the voxel values in file order (x varies fastest)
	Data []float64

	// Dims holds the size of every used dimension, e.g. [nx ny nz nt]
	Dims []int

	// VoxelSize is the physical size of a voxel along x, y and z in mm
	VoxelSize struct {
		X, Y, Z float64
	}

	// Affine maps voxel indices to scanner coordinates (4x4)
	Affine *mat.Dense
}

// NewVolume allocates a zero-filled volume with the given dimensions
func NewVolume(dims []int, affine *mat.Dense) *Volume {
	v := &Volume{
		Dims:   append([]int(nil), dims...),
		Affine: affine,
	}
	v.Data = make([]float64, v.Len())
	if affine != nil {
		v.VoxelSize.X = columnNorm(affine, 0)
		v.VoxelSize.Y = columnNorm(affine, 1)
		v.VoxelSize.Z = columnNorm(affine, 2)
	}
	return v
}

// Len returns the total number of values in the volume
func (v *Volume) Len() int {
	n := 1
	for _, d := range v.Dims {
		n *= d
	}
	return n
}

// SpatialLen returns the number of voxels in the first three dimensions
func (v *Volume) SpatialLen() int {
	n := 1
	for i := 0; i < 3 && i < len(v.Dims); i++ {
		n *= v.Dims[i]
	}
	return n
}

// Frames returns the number of volumes along the fourth dimension (1 for 3D data)
func (v *Volume) Frames() int {
	if len(v.Dims) < 4 {
		return 1
	}
	return v.Len() / v.SpatialLen()
}

// SpatialDims returns nx, ny and nz, padding missing dimensions with 1
func (v *Volume) SpatialDims() (int, int, int) {
	d := [3]int{1, 1, 1}
	for i := 0; i < 3 && i < len(v.Dims); i++ {
		d[i] = v.Dims[i]
	}
	return d[0], d[1], d[2]
}

// Frame returns a view of the t-th 3D volume
func (v *Volume) Frame(t int) []float64 {
	n := v.SpatialLen()
	return v.Data[t*n : (t+1)*n]
}

// SameGrid reports whether two volumes share the same spatial dimensions
func (v *Volume) SameGrid(o *Volume) bool {
	ax, ay, az := v.SpatialDims()
	bx, by, bz := o.SpatialDims()
	return ax == bx && ay == by && az == bz
}

func columnNorm(m *mat.Dense, j int) float64 {
	return mat.Norm(m.Slice(0, 3, j, j+1), 2)
}
