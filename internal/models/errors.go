package models

import "errors"

// Sentinel errors shared by every tool. Callers distinguish failure kinds
// with errors.Is; missing files surface as fs.ErrNotExist.
var (
	// ErrMissingKey indicates a required sidecar key is absent or null.
	ErrMissingKey = errors.New("missing required key")

	// ErrInvalidValue indicates a sidecar key holds a value of the wrong
	// type, a null list element or an out of range number.
	ErrInvalidValue = errors.New("invalid value for key")

	// ErrShapeMismatch indicates two arrays cannot be combined elementwise.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrSliceOrderInconsistent indicates the slice timing groups do not
	// match the declared multiband acceleration factor.
	ErrSliceOrderInconsistent = errors.New("slice order inconsistent with multiband factor")

	// ErrInvalidImage indicates a file is not a readable NIfTI-1 image.
	ErrInvalidImage = errors.New("invalid nifti image")

	// ErrUnderdetermined indicates too few measurements for a model fit.
	ErrUnderdetermined = errors.New("too few measurements for model")

	// ErrInvalidConfig indicates the configuration failed validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)
