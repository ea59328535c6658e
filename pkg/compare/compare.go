// Package compare checks that paired AP/PA diffusion acquisitions were
// acquired with matching parameters.
package compare

import (
	"fmt"
	"iter"
	"math"

	"gonum.org/v1/gonum/floats"

	"dmritools/internal/models"
	"dmritools/pkg/sidecar"
)

// Default tolerances for approximate equality.
const (
	DefaultRelativeTolerance = 1e-5
	DefaultAbsoluteTolerance = 1e-8
)

// Result is the outcome of comparing one field between two scans.
type Result struct {
	// Equal is true when every element matches exactly
	Equal bool

	// Close is true when every element is within tolerance
	Close bool

	// MaxDeviation is the largest absolute elementwise difference
	MaxDeviation float64
}

// FieldComparison pairs a field name with its comparison result.
type FieldComparison struct {
	Field string
	Result
}

// Field is one comparable piece of scan metadata.
type Field struct {
	Name  string
	Value func(*Record) (models.Array, error)
}

func sidecarField(key sidecar.Key) Field {
	return Field{
		Name: string(key),
		Value: func(r *Record) (models.Array, error) {
			return r.Sidecar.Array(key)
		},
	}
}

// Fields lists every comparable field in report order.
var Fields = []Field{
	{Name: "affines", Value: func(r *Record) (models.Array, error) { return models.FromDense(r.Affine), nil }},
	{Name: "bvals", Value: func(r *Record) (models.Array, error) { return r.BVals, nil }},
	{Name: "bvecs", Value: func(r *Record) (models.Array, error) { return r.BVecs, nil }},
	sidecarField(sidecar.ShimSetting),
	sidecarField(sidecar.SliceTiming),
	sidecarField(sidecar.EchoTime),
	sidecarField(sidecar.RepetitionTime),
	sidecarField(sidecar.FlipAngle),
	sidecarField(sidecar.TxRefAmp),
	sidecarField(sidecar.EchoTrainLength),
	sidecarField(sidecar.EffectiveEchoSpacing),
	sidecarField(sidecar.TotalReadoutTime),
	sidecarField(sidecar.PixelBandwidth),
	sidecarField(sidecar.DwellTime),
}

// differingFields are expected to differ between acquisitions with a
// different number of diffusion directions.
var differingFields = map[string]bool{
	"bvals":                     true,
	"bvecs":                     true,
	string(sidecar.SliceTiming): true,
}

// Options controls which fields are compared and how closely.
type Options struct {
	// Different excludes bvals, bvecs and SliceTiming
	Different bool

	RelativeTolerance float64
	AbsoluteTolerance float64
}

// DefaultOptions returns the default comparison options
func DefaultOptions() Options {
	return Options{
		RelativeTolerance: DefaultRelativeTolerance,
		AbsoluteTolerance: DefaultAbsoluteTolerance,
	}
}

// Comparator compares scan records field by field.
type Comparator struct {
	opts Options
}

// NewComparator creates a comparator with the given options
func NewComparator(opts Options) *Comparator {
	return &Comparator{opts: opts}
}

// Fields returns the fields this comparator will report, in order.
func (c *Comparator) Fields() []Field {
	fields := make([]Field, 0, len(Fields))
	for _, f := range Fields {
		if c.opts.Different && differingFields[f.Name] {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

// Compare lazily compares ap and pa one field at a time. Every call starts
// from scratch. Iteration stops after the first error is yielded.
func (c *Comparator) Compare(ap, pa *Record) iter.Seq2[FieldComparison, error] {
	return func(yield func(FieldComparison, error) bool) {
		for _, f := range c.Fields() {
			res, err := c.compareField(f, ap, pa)
			if err != nil {
				yield(FieldComparison{Field: f.Name}, err)
				return
			}
			if !yield(FieldComparison{Field: f.Name, Result: res}, nil) {
				return
			}
		}
	}
}

// Collect runs the comparison to completion. Either every field is returned
// or none is.
func (c *Comparator) Collect(ap, pa *Record) ([]FieldComparison, error) {
	var out []FieldComparison
	for fc, err := range c.Compare(ap, pa) {
		if err != nil {
			return nil, err
		}
		out = append(out, fc)
	}
	return out, nil
}

func (c *Comparator) compareField(f Field, ap, pa *Record) (Result, error) {
	a, err := f.Value(ap)
	if err != nil {
		return Result{}, fmt.Errorf("AP %s: %w", f.Name, err)
	}
	b, err := f.Value(pa)
	if err != nil {
		return Result{}, fmt.Errorf("PA %s: %w", f.Name, err)
	}

	res, err := CompareArrays(a, b, c.opts.RelativeTolerance, c.opts.AbsoluteTolerance)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", f.Name, err)
	}
	return res, nil
}

// CompareArrays compares two arrays elementwise. Arrays of different shapes
// are never equal and cannot be tested for closeness, so they fail with
// models.ErrShapeMismatch. Closeness follows |a-b| <= atol + rtol*|b|.
func CompareArrays(a, b models.Array, rtol, atol float64) (Result, error) {
	if !a.SameShape(b) || len(a.Data) != len(b.Data) {
		return Result{}, fmt.Errorf("%w: %v vs %v", models.ErrShapeMismatch, a.Shape, b.Shape)
	}

	res := Result{
		Equal: floats.Equal(a.Data, b.Data),
		Close: true,
	}
	if len(a.Data) == 0 {
		return res, nil
	}

	diff := make([]float64, len(a.Data))
	floats.SubTo(diff, a.Data, b.Data)
	for i, d := range diff {
		diff[i] = math.Abs(d)
		if !isClose(a.Data[i], b.Data[i], rtol, atol) {
			res.Close = false
		}
	}
	res.MaxDeviation = floats.Max(diff)
	for _, d := range diff {
		if math.IsNaN(d) {
			res.MaxDeviation = math.NaN()
			break
		}
	}

	return res, nil
}

func isClose(a, b, rtol, atol float64) bool {
	if a == b {
		return true
	}
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return false
	}
	return math.Abs(a-b) <= atol+rtol*math.Abs(b)
}
