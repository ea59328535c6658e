package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"dmritools/pkg/nifti"
	"dmritools/pkg/visualization"
)

func newSnapshotCmd() *cobra.Command {
	var (
		imagePath string
		outputDir string
		volume    int
		all       string
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Write mid-slice JPEG previews of an image",
		Long: `Write the central sagittal, coronal and axial slice of one volume of an
image as JPEG files named <image>_x.jpg, <image>_y.jpg and <image>_z.jpg.
With --all-slices AXIS every slice along AXIS is written instead.`,
		Example: "  dmritools snapshot -i FA.nii.gz -o qc/",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vol, err := nifti.LoadVolume(imagePath)
			if err != nil {
				return err
			}
			viewer, err := visualization.NewViewer(vol, volume)
			if err != nil {
				return newUsageError(err.Error())
			}

			prefix := imageStem(imagePath)
			if all != "" {
				dir := filepath.Join(outputDir, prefix+"_"+all)
				if err := viewer.SaveSliceSequence(all, dir); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), ">>> %s\n", dir)
				return nil
			}

			paths, err := viewer.SaveMidSlices(outputDir, prefix)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintf(cmd.OutOrStdout(), ">>> %s\n", p)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "Input NIfTI image")
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Output directory")
	cmd.Flags().IntVar(&volume, "volume", 0, "Index of the volume to render for 4D images")
	cmd.Flags().StringVar(&all, "all-slices", "", "Write every slice along this axis (x, y or z)")
	_ = cmd.MarkFlagRequired("image")

	return cmd
}

// imageStem strips the directory and NIfTI extensions from a path
func imageStem(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".gz")
	return strings.TrimSuffix(base, ".nii")
}
