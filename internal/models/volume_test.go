package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestArray(t *testing.T) {
	s := Scalar(3)
	assert.Equal(t, 1, s.Size())
	assert.Empty(t, s.Shape)

	v := Vector([]float64{1, 2, 3})
	assert.Equal(t, 3, v.Size())
	assert.False(t, s.SameShape(v))
	assert.True(t, v.SameShape(Vector([]float64{4, 5, 6})))
	assert.False(t, v.SameShape(Vector([]float64{4, 5})))

	m := FromDense(mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6}))
	assert.Equal(t, []int{2, 3}, m.Shape)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, m.Data)

	d, err := m.Dense()
	require.NoError(t, err)
	assert.Equal(t, 6.0, d.At(1, 2))

	row, err := v.Dense()
	require.NoError(t, err)
	r, c := row.Dims()
	assert.Equal(t, []int{1, 3}, []int{r, c})

	_, err = s.Dense()
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestVolume(t *testing.T) {
	affine := mat.NewDense(4, 4, []float64{
		0, 2, 0, 0,
		-1.5, 0, 0, 0,
		0, 0, 3, 0,
		0, 0, 0, 1,
	})
	v := NewVolume([]int{4, 3, 2, 5}, affine)

	assert.Equal(t, 120, v.Len())
	assert.Len(t, v.Data, 120)
	assert.Equal(t, 24, v.SpatialLen())
	assert.Equal(t, 5, v.Frames())
	assert.Equal(t, 1.5, v.VoxelSize.X)
	assert.Equal(t, 2.0, v.VoxelSize.Y)
	assert.Equal(t, 3.0, v.VoxelSize.Z)

	v.Frame(2)[0] = 7
	assert.Equal(t, 7.0, v.Data[48])

	flat := NewVolume([]int{4, 3}, nil)
	nx, ny, nz := flat.SpatialDims()
	assert.Equal(t, []int{4, 3, 1}, []int{nx, ny, nz})
	assert.Equal(t, 1, flat.Frames())
	assert.False(t, v.SameGrid(flat))
	assert.True(t, v.SameGrid(NewVolume([]int{4, 3, 2}, nil)))
}
