// Package affine makes the voxel-to-world transform of a PA image match its
// AP counterpart.
package affine

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"dmritools/pkg/nifti"
)

// Equal reports whether two headers have exactly the same best affine.
func Equal(ap, pa *nifti.Header) bool {
	return mat.Equal(ap.Affine(), pa.Affine())
}

// Fix stores the AP affine as the sform of the PA image when their affines
// differ and rewrites the PA file in place. The PA qform and voxel data are
// preserved. It reports whether the PA file was modified.
func Fix(apPath, paPath string) (bool, error) {
	apHeader, _, err := nifti.ReadHeader(apPath)
	if err != nil {
		return false, fmt.Errorf("failed to read AP image: %w", err)
	}
	pa, err := nifti.Read(paPath)
	if err != nil {
		return false, fmt.Errorf("failed to read PA image: %w", err)
	}

	if Equal(apHeader, pa.Header) {
		log.WithFields(log.Fields{
			"ap": apPath,
			"pa": paPath,
		}).Debug("Affines are equal")
		return false, nil
	}

	code := pa.Header.SFormCode
	if code == nifti.XFormUnknown {
		code = apHeader.SFormCode
	}
	if code == nifti.XFormUnknown {
		code = nifti.XFormAlignedAnat
	}
	pa.Header.SetSForm(apHeader.Affine(), code)

	if err := pa.Write(paPath); err != nil {
		return false, fmt.Errorf("failed to save PA image: %w", err)
	}

	log.WithFields(log.Fields{
		"pa":        paPath,
		"sformCode": code,
	}).Debug("Replaced sform")
	return true, nil
}
