package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dmritools/internal/models"
	"dmritools/pkg/nifti"
	"dmritools/pkg/tensor"
)

func newEigen2TensorCmd() *cobra.Command {
	var (
		eigenvalues  []string
		eigenvectors []string
		outputPath   string
	)

	cmd := &cobra.Command{
		Use:   "eigen2tensor",
		Short: "Build a tensor image from eigenvalue and eigenvector images",
		Long: `Combine L1, L2, L3 eigenvalue images and V1, V2, V3 eigenvector images into
a 4D image holding Dxx, Dxy, Dxz, Dyy, Dyz and Dzz. The output uses the
affine of L1.`,
		Example: "  dmritools eigen2tensor -l L1.nii.gz,L2.nii.gz,L3.nii.gz -v V1.nii.gz,V2.nii.gz,V3.nii.gz -o tensor.nii.gz",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(eigenvalues) != 3 {
				return newUsageError(fmt.Sprintf("--eigenvalues needs exactly 3 images, got %d", len(eigenvalues)))
			}
			if len(eigenvectors) != 3 {
				return newUsageError(fmt.Sprintf("--eigenvectors needs exactly 3 images, got %d", len(eigenvectors)))
			}

			var l, v [3]*models.Volume
			for i := 0; i < 3; i++ {
				var err error
				if l[i], err = nifti.LoadVolume(eigenvalues[i]); err != nil {
					return err
				}
				if v[i], err = nifti.LoadVolume(eigenvectors[i]); err != nil {
					return err
				}
			}

			t, err := tensor.FromEigen(l, v)
			if err != nil {
				return err
			}
			if err := nifti.SaveVolume(t, outputPath); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), ">>> %s\n", outputPath)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&eigenvalues, "eigenvalues", "l", nil, "L1, L2 and L3 eigenvalue images")
	cmd.Flags().StringSliceVarP(&eigenvectors, "eigenvectors", "v", nil, "V1, V2 and V3 eigenvector images")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output tensor file")
	for _, name := range []string{"eigenvalues", "eigenvectors", "output"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}
