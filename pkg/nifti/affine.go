package nifti

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// SForm returns the 4x4 matrix stored in the srow_* fields.
func (h *Header) SForm() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for j := 0; j < 4; j++ {
		m.Set(0, j, float64(h.SRowX[j]))
		m.Set(1, j, float64(h.SRowY[j]))
		m.Set(2, j, float64(h.SRowZ[j]))
	}
	m.Set(3, 3, 1)
	return m
}

// SetSForm stores the first three rows of m in the srow_* fields.
func (h *Header) SetSForm(m mat.Matrix, code int16) {
	for j := 0; j < 4; j++ {
		h.SRowX[j] = float32(m.At(0, j))
		h.SRowY[j] = float32(m.At(1, j))
		h.SRowZ[j] = float32(m.At(2, j))
	}
	h.SFormCode = code
}

// QForm builds the 4x4 matrix described by the quaternion fields.
// Refer to quatern_to_mat44 in nifti1_io.c.
func (h *Header) QForm() *mat.Dense {
	b := float64(h.QuaternB)
	c := float64(h.QuaternC)
	d := float64(h.QuaternD)

	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		// Special case: a is 0 and (b, c, d) need renormalising.
		a = 1 / math.Sqrt(b*b+c*c+d*d)
		b *= a
		c *= a
		d *= a
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	xd, yd, zd := positive(h.PixDim[1]), positive(h.PixDim[2]), positive(h.PixDim[3])
	if h.PixDim[0] < 0 {
		zd = -zd
	}

	return mat.NewDense(4, 4, []float64{
		(a*a + b*b - c*c - d*d) * xd, 2 * (b*c - a*d) * yd, 2 * (b*d + a*c) * zd, float64(h.QOffsetX),
		2 * (b*c + a*d) * xd, (a*a + c*c - b*b - d*d) * yd, 2 * (c*d - a*b) * zd, float64(h.QOffsetY),
		2 * (b*d - a*c) * xd, 2 * (c*d + a*b) * yd, (a*a + d*d - c*c - b*b) * zd, float64(h.QOffsetZ),
		0, 0, 0, 1,
	})
}

// BaseAffine is the fallback transform used when neither sform nor qform is
// set: voxel sizes on the diagonal, x flipped, origin at the volume centre.
func (h *Header) BaseAffine() *mat.Dense {
	zooms := [3]float64{positive(h.PixDim[1]), positive(h.PixDim[2]), positive(h.PixDim[3])}
	shape := [3]float64{1, 1, 1}
	for i := 0; i < 3 && i < int(h.Dim[0]); i++ {
		shape[i] = float64(h.Dim[i+1])
	}

	m := mat.NewDense(4, 4, nil)
	m.Set(0, 0, -zooms[0])
	m.Set(1, 1, zooms[1])
	m.Set(2, 2, zooms[2])
	m.Set(0, 3, (shape[0]-1)/2*zooms[0])
	m.Set(1, 3, -(shape[1]-1)/2*zooms[1])
	m.Set(2, 3, -(shape[2]-1)/2*zooms[2])
	m.Set(3, 3, 1)
	return m
}

// Affine returns the best available voxel-to-world transform: the sform when
// its code is set, else the qform, else the base affine.
func (h *Header) Affine() *mat.Dense {
	switch {
	case h.SFormCode > XFormUnknown:
		return h.SForm()
	case h.QFormCode > XFormUnknown:
		return h.QForm()
	default:
		return h.BaseAffine()
	}
}

func positive(v float32) float64 {
	if v <= 0 {
		return 1
	}
	return float64(v)
}
