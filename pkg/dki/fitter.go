package dki

import (
	"fmt"
	"math"
	"runtime"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"dmritools/internal/models"
)

// Method selects the least squares estimator.
type Method string

const (
	// OLS is ordinary least squares on the log signal.
	OLS Method = "OLS"

	// WLS re-solves the OLS problem weighted by the predicted signal.
	WLS Method = "WLS"
)

// ParseMethod accepts "ols" or "wls" in any case.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToUpper(s)) {
	case OLS:
		return OLS, nil
	case WLS:
		return WLS, nil
	}
	return "", fmt.Errorf("unknown fit method %q (expected OLS or WLS)", s)
}

// Options holds the fitting parameters.
type Options struct {
	// Method is the least squares estimator
	Method Method

	// MinSignal is the floor applied to signals before taking the log
	MinSignal float64

	// NumCores is the number of goroutines fitting voxels in parallel
	NumCores int
}

// DefaultOptions returns WLS fitting on all available cores
func DefaultOptions() Options {
	return Options{
		Method:    WLS,
		MinSignal: 1e-4,
		NumCores:  runtime.NumCPU(),
	}
}

// Fitter fits the kurtosis model for a fixed gradient table.
type Fitter struct {
	gtab   *GradientTable
	opts   Options
	design *mat.Dense

	// minDiff is the floor applied to fitted eigenvalues
	minDiff float64

	// pinv is the least squares pseudo-inverse of design, shared read-only
	// by all workers
	pinv *mat.Dense
}

// NewFitter prepares the design matrix and its pseudo-inverse. The gradient
// table needs at least 22 measurements spanning enough b-values and
// directions for the system to have full rank.
func NewFitter(gtab *GradientTable, opts Options) (*Fitter, error) {
	n := gtab.Len()
	if n < NumParams {
		return nil, fmt.Errorf("%w: %d measurements, need at least %d", models.ErrUnderdetermined, n, NumParams)
	}
	if opts.NumCores < 1 {
		opts.NumCores = 1
	}
	if opts.MinSignal <= 0 {
		opts.MinSignal = DefaultOptions().MinSignal
	}

	design := designMatrix(gtab)

	var qr mat.QR
	qr.Factorize(design)
	pinv := mat.NewDense(NumParams, n, nil)
	eye := mat.NewDiagDense(n, nil)
	for i := 0; i < n; i++ {
		eye.SetDiag(i, 1)
	}
	if err := qr.SolveTo(pinv, false, eye); err != nil {
		return nil, fmt.Errorf("%w: design matrix is rank deficient: %v", models.ErrUnderdetermined, err)
	}

	return &Fitter{
		gtab:    gtab,
		opts:    opts,
		design:  design,
		minDiff: minDiffusivity(design),
		pinv:    pinv,
	}, nil
}

// logSignal returns ln(max(s, MinSignal)).
func (f *Fitter) logSignal(signal []float64) *mat.VecDense {
	y := mat.NewVecDense(len(signal), nil)
	for i, s := range signal {
		y.SetVec(i, math.Log(math.Max(s, f.opts.MinSignal)))
	}
	return y
}

// FitVoxel fits one voxel's signal, one value per gradient.
func (f *Fitter) FitVoxel(signal []float64) (Params, error) {
	if len(signal) != f.gtab.Len() {
		return Params{}, fmt.Errorf("%w: %d signal values for %d gradients", models.ErrShapeMismatch, len(signal), f.gtab.Len())
	}

	y := f.logSignal(signal)
	beta := mat.NewVecDense(NumParams, nil)
	beta.MulVec(f.pinv, y)

	if f.opts.Method == WLS {
		if err := f.reweight(beta, y); err != nil {
			return Params{}, err
		}
	}

	p, ok := paramsFromSolution(beta.RawVector().Data, f.minDiff)
	if !ok {
		return Params{}, fmt.Errorf("eigen decomposition of diffusion tensor failed")
	}
	return p, nil
}

// reweight re-solves the system with every row scaled by the signal
// predicted from the current solution.
func (f *Fitter) reweight(beta, y *mat.VecDense) error {
	n := f.gtab.Len()
	pred := mat.NewVecDense(n, nil)
	pred.MulVec(f.design, beta)

	wa := mat.NewDense(n, NumParams, nil)
	wy := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		w := math.Exp(pred.AtVec(i))
		for j := 0; j < NumParams; j++ {
			wa.Set(i, j, w*f.design.At(i, j))
		}
		wy.SetVec(i, w*y.AtVec(i))
	}

	var qr mat.QR
	qr.Factorize(wa)
	if err := qr.SolveVecTo(beta, false, wy); err != nil {
		return fmt.Errorf("weighted least squares failed: %w", err)
	}
	return nil
}

// Maps holds the parameter and metric images of a fit.
type Maps struct {
	L   [3]*models.Volume
	V   [3]*models.Volume
	KFA *models.Volume
	FA  *models.Volume
	MD  *models.Volume
	AD  *models.Volume
	RD  *models.Volume
	S0  *models.Volume
}

func newMaps(nx, ny, nz int, affine *mat.Dense) *Maps {
	scalar := func() *models.Volume { return models.NewVolume([]int{nx, ny, nz}, affine) }
	m := &Maps{
		KFA: scalar(), FA: scalar(), MD: scalar(),
		AD: scalar(), RD: scalar(), S0: scalar(),
	}
	for i := 0; i < 3; i++ {
		m.L[i] = scalar()
		m.V[i] = models.NewVolume([]int{nx, ny, nz, 3}, affine)
	}
	return m
}

func (m *Maps) set(p int, n int, params Params) {
	for i := 0; i < 3; i++ {
		m.L[i].Data[p] = params.Evals[i]
		for c := 0; c < 3; c++ {
			m.V[i].Data[c*n+p] = params.Evecs[i][c]
		}
	}
	m.KFA.Data[p] = params.KFA()
	m.FA.Data[p] = params.FA()
	m.MD.Data[p] = params.MD()
	m.AD.Data[p] = params.AD()
	m.RD.Data[p] = params.RD()
	m.S0.Data[p] = params.S0
}

// FitVolume fits every voxel inside mask. Voxels outside the mask, and
// voxels whose fit fails, are left at zero. A nil mask fits every voxel.
func (f *Fitter) FitVolume(data, mask *models.Volume) (*Maps, error) {
	if data.Frames() != f.gtab.Len() {
		return nil, fmt.Errorf("%w: image has %d volumes, gradient table has %d", models.ErrShapeMismatch, data.Frames(), f.gtab.Len())
	}
	if mask != nil && (!mask.SameGrid(data) || mask.Frames() != 1) {
		return nil, fmt.Errorf("%w: mask dims %v do not match image dims %v", models.ErrShapeMismatch, mask.Dims, data.Dims)
	}

	nx, ny, nz := data.SpatialDims()
	n := data.SpatialLen()
	nvol := f.gtab.Len()
	maps := newMaps(nx, ny, nz, data.Affine)

	startTime := time.Now()
	cores := f.opts.NumCores
	chunkSize := (n + cores - 1) / cores

	var wg sync.WaitGroup
	var mutex sync.Mutex
	fitted, failed := 0, 0

	for start := 0; start < n; start += chunkSize {
		end := start + chunkSize
		if end > n {
			end = n
		}

		wg.Add(1)
		go func(startIdx, endIdx int) {
			defer wg.Done()

			signal := make([]float64, nvol)
			localFitted, localFailed := 0, 0
			for p := startIdx; p < endIdx; p++ {
				if mask != nil && mask.Data[p] == 0 {
					continue
				}
				for t := 0; t < nvol; t++ {
					signal[t] = data.Data[t*n+p]
				}
				params, err := f.FitVoxel(signal)
				if err != nil {
					localFailed++
					continue
				}
				maps.set(p, n, params)
				localFitted++
			}

			mutex.Lock()
			fitted += localFitted
			failed += localFailed
			mutex.Unlock()
		}(start, end)
	}
	wg.Wait()

	log.WithFields(log.Fields{
		"voxels":  fitted,
		"failed":  failed,
		"method":  f.opts.Method,
		"cores":   cores,
		"elapsed": time.Since(startTime).Round(time.Millisecond),
	}).Info("Kurtosis fit complete")

	return maps, nil
}
