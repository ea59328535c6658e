package dki

import (
	"fmt"
	"os"
	"path/filepath"

	"dmritools/internal/models"
	"dmritools/pkg/nifti"
)

// Output is one image produced by a fit.
type Output struct {
	Name   string
	Volume *models.Volume
}

// Outputs lists the images in the order they are written: eigenvalues,
// eigenvectors, then the scalar metrics.
func (m *Maps) Outputs() []Output {
	out := make([]Output, 0, 12)
	for i := 0; i < 3; i++ {
		out = append(out, Output{Name: fmt.Sprintf("L%d", i+1), Volume: m.L[i]})
	}
	for i := 0; i < 3; i++ {
		out = append(out, Output{Name: fmt.Sprintf("V%d", i+1), Volume: m.V[i]})
	}
	return append(out,
		Output{Name: "KFA", Volume: m.KFA},
		Output{Name: "FA", Volume: m.FA},
		Output{Name: "MD", Volume: m.MD},
		Output{Name: "AD", Volume: m.AD},
		Output{Name: "RD", Volume: m.RD},
		Output{Name: "MODEL_S0", Volume: m.S0},
	)
}

// Save writes every output as <dir>/<name>.nii.gz, calling written after
// each file. The directory is created if needed.
func (m *Maps) Save(dir string, written func(path string)) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for _, o := range m.Outputs() {
		path := filepath.Join(dir, o.Name+".nii.gz")
		if err := nifti.SaveVolume(o.Volume, path); err != nil {
			return err
		}
		if written != nil {
			written(path)
		}
	}
	return nil
}
