// Package dki fits the diffusion kurtosis model to diffusion weighted images
// and derives tensor and kurtosis metrics from the fit.
//
// The signal model is
//
//	ln S = ln S0 - b sum(g_i g_j D_ij) + b^2/6 MD^2 sum(g_i g_j g_k g_l W_ijkl)
//
// which is linear in the 6 unique elements of D, the 15 unique elements of
// MD^2 W and ln S0.
package dki

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// NumParams is the number of unknowns of the linear model.
const NumParams = 22

// designMatrix returns the N x 22 matrix of the linearised model. Columns
// are D (xx, yy, zz, xy, xz, yz), W (1111, 2222, 3333, 1112, 1113, 1222,
// 2223, 1333, 2333, 1122, 1133, 2233, 1123, 1223, 1233) and ln S0.
func designMatrix(g *GradientTable) *mat.Dense {
	n := g.Len()
	a := mat.NewDense(n, NumParams, nil)
	for i := 0; i < n; i++ {
		b := g.BVals[i]
		x, y, z := g.BVecs[i][0], g.BVecs[i][1], g.BVecs[i][2]
		k := b * b / 6

		a.SetRow(i, []float64{
			-b * x * x, -b * y * y, -b * z * z,
			-b * 2 * x * y, -b * 2 * x * z, -b * 2 * y * z,

			k * x * x * x * x, k * y * y * y * y, k * z * z * z * z,
			k * 4 * x * x * x * y, k * 4 * x * x * x * z, k * 4 * x * y * y * y,
			k * 4 * y * y * y * z, k * 4 * x * z * z * z, k * 4 * y * z * z * z,
			k * 6 * x * x * y * y, k * 6 * x * x * z * z, k * 6 * y * y * z * z,
			k * 12 * x * x * y * z, k * 12 * x * y * y * z, k * 12 * x * y * z * z,

			1,
		})
	}
	return a
}

// Params is the fitted model of one voxel.
type Params struct {
	// Evals holds the diffusion tensor eigenvalues, largest first
	Evals [3]float64

	// Evecs holds the unit eigenvector of each eigenvalue
	Evecs [3][3]float64

	// Kt holds the 15 unique kurtosis tensor elements in design order
	Kt [15]float64

	// S0 is the estimated non-diffusion-weighted signal
	S0 float64
}

// minDiffusivity returns the smallest eigenvalue a fit may report for the
// given design: tol divided by the largest diffusion weighting in any column.
func minDiffusivity(design mat.Matrix) float64 {
	const tol = 1e-6
	low := mat.Min(design)
	if low >= 0 {
		return tol
	}
	return tol / -low
}

// paramsFromSolution converts a solution of the linear model into tensor
// eigen-decomposition and kurtosis tensor. Eigenvalues below minDiff are
// raised to minDiff before the kurtosis tensor is normalised.
func paramsFromSolution(beta []float64, minDiff float64) (Params, bool) {
	dt := mat.NewSymDense(3, []float64{
		beta[0], beta[3], beta[4],
		beta[3], beta[1], beta[5],
		beta[4], beta[5], beta[2],
	})

	var es mat.EigenSym
	if ok := es.Factorize(dt, true); !ok {
		return Params{}, false
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	var p Params
	// EigenSym returns ascending eigenvalues.
	for i := 0; i < 3; i++ {
		j := 2 - i
		p.Evals[i] = math.Max(vals[j], minDiff)
		for c := 0; c < 3; c++ {
			p.Evecs[i][c] = vecs.At(c, j)
		}
	}

	md := p.MD()
	if md != 0 {
		for i := range p.Kt {
			p.Kt[i] = beta[6+i] / (md * md)
		}
	}
	p.S0 = math.Exp(beta[21])
	return p, true
}

// MD returns the mean diffusivity.
func (p Params) MD() float64 {
	return stat.Mean(p.Evals[:], nil)
}

// AD returns the axial diffusivity.
func (p Params) AD() float64 {
	return p.Evals[0]
}

// RD returns the radial diffusivity.
func (p Params) RD() float64 {
	return (p.Evals[1] + p.Evals[2]) / 2
}

// FA returns the fractional anisotropy of the diffusion tensor.
func (p Params) FA() float64 {
	l1, l2, l3 := p.Evals[0], p.Evals[1], p.Evals[2]
	den := l1*l1 + l2*l2 + l3*l3
	if den == 0 {
		return 0
	}
	num := (l1-l2)*(l1-l2) + (l2-l3)*(l2-l3) + (l3-l1)*(l3-l1)
	return math.Sqrt(0.5 * num / den)
}

// KFA returns the kurtosis fractional anisotropy: the norm of the deviation
// of W from its isotropic part relative to the norm of W.
func (p Params) KFA() float64 {
	w := p.Kt
	wxxxx, wyyyy, wzzzz := w[0], w[1], w[2]
	wxxxy, wxxxz, wxyyy, wyyyz, wxzzz, wyzzz := w[3], w[4], w[5], w[6], w[7], w[8]
	wxxyy, wxxzz, wyyzz := w[9], w[10], w[11]
	wxxyz, wxyyz, wxyzz := w[12], w[13], w[14]

	mean := (wxxxx + wyyyy + wzzzz + 2*wxxyy + 2*wxxzz + 2*wyyzz) / 5

	four := wxxxy*wxxxy + wxxxz*wxxxz + wxyyy*wxyyy + wyyyz*wyyyz + wxzzz*wxzzz + wyzzz*wyzzz
	twelve := wxxyz*wxxyz + wxyyz*wxyyz + wxyzz*wxyzz

	dev := sq(wxxxx-mean) + sq(wyyyy-mean) + sq(wzzzz-mean) +
		4*four +
		6*(sq(wxxyy-mean/3)+sq(wxxzz-mean/3)+sq(wyyzz-mean/3)) +
		12*twelve
	norm := sq(wxxxx) + sq(wyyyy) + sq(wzzzz) +
		4*four +
		6*(sq(wxxyy)+sq(wxxzz)+sq(wyyzz)) +
		12*twelve

	if norm == 0 {
		return 0
	}
	return math.Sqrt(dev / norm)
}

func sq(x float64) float64 {
	return x * x
}
