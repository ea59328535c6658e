package compare

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"dmritools/internal/models"
	"dmritools/pkg/nifti"
	"dmritools/pkg/sidecar"
	"dmritools/pkg/textarray"
)

// Record holds the acquisition metadata of one scan: the image affine, the
// diffusion gradient table and the JSON sidecar.
type Record struct {
	// Basename is the path shared by the four sibling files
	Basename string

	// Affine is the best voxel-to-world transform of the image
	Affine *mat.Dense

	// BVals and BVecs are the gradient table as read from .bval and .bvec
	BVals models.Array
	BVecs models.Array

	// Sidecar holds the parsed JSON sidecar
	Sidecar *sidecar.Sidecar
}

// Paths of the sibling files that make up a scan.
func imagePath(basename string) string   { return basename + ".nii.gz" }
func bvalPath(basename string) string    { return basename + ".bval" }
func bvecPath(basename string) string    { return basename + ".bvec" }
func sidecarPath(basename string) string { return basename + ".json" }

// LoadRecord reads <basename>.nii.gz (header only), .bval, .bvec and .json.
func LoadRecord(basename string) (*Record, error) {
	h, _, err := nifti.ReadHeader(imagePath(basename))
	if err != nil {
		return nil, err
	}

	bvals, err := textarray.Load(bvalPath(basename))
	if err != nil {
		return nil, err
	}

	bvecs, err := textarray.Load(bvecPath(basename))
	if err != nil {
		return nil, err
	}

	sc, err := sidecar.Load(sidecarPath(basename))
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"basename": basename,
		"volumes":  bvals.Size(),
	}).Debug("Loaded scan metadata")

	return &Record{
		Basename: basename,
		Affine:   h.Affine(),
		BVals:    bvals,
		BVecs:    bvecs,
		Sidecar:  sc,
	}, nil
}

// LoadPair loads the AP and PA records concurrently. The first failure
// cancels the pair and is returned.
func LoadPair(ctx context.Context, apBasename, paBasename string) (*Record, *Record, error) {
	var ap, pa *Record
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r, err := LoadRecord(apBasename)
		if err != nil {
			return fmt.Errorf("failed to load AP scan: %w", err)
		}
		ap = r
		return ctx.Err()
	})
	g.Go(func() error {
		r, err := LoadRecord(paBasename)
		if err != nil {
			return fmt.Errorf("failed to load PA scan: %w", err)
		}
		pa = r
		return ctx.Err()
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return ap, pa, nil
}
