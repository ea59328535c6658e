package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"dmritools/internal/models"
	"dmritools/pkg/dki"
	"dmritools/pkg/nifti"
	"dmritools/pkg/textarray"
	"dmritools/pkg/visualization"
)

func newDKIFitCmd() *cobra.Command {
	var (
		imagePath string
		maskPath  string
		bvalsPath string
		bvecsPath string
		outputDir string
		method    string
		snapshots bool
	)

	cmd := &cobra.Command{
		Use:   "dki-fit",
		Short: "Fit the diffusion kurtosis model",
		Long: `Fit the diffusion kurtosis model to preprocessed DWI data inside a mask and
write L1-L3, V1-V3, KFA, FA, MD, AD, RD and MODEL_S0 to the output directory.`,
		Example: "  dmritools dki-fit -i dwi.nii.gz -m mask.nii.gz -b dwi.bval -v dwi.bvec -o dki/",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("method") {
				method = cfg.DKI.Method
			}
			m, err := dki.ParseMethod(method)
			if err != nil {
				return newUsageError(err.Error())
			}

			var (
				data, mask   *models.Volume
				bvals, bvecs models.Array
			)
			g := new(errgroup.Group)
			g.Go(func() (err error) { data, err = nifti.LoadVolume(imagePath); return })
			g.Go(func() (err error) { mask, err = nifti.LoadVolume(maskPath); return })
			g.Go(func() (err error) { bvals, err = textarray.Load(bvalsPath); return })
			g.Go(func() (err error) { bvecs, err = textarray.Load(bvecsPath); return })
			if err := g.Wait(); err != nil {
				return err
			}

			gtab, err := dki.NewGradientTable(bvals, bvecs)
			if err != nil {
				return err
			}
			if data.Frames() != gtab.Len() {
				return fmt.Errorf("%w: image has %d volumes, %d bvals", models.ErrShapeMismatch, data.Frames(), gtab.Len())
			}

			fitter, err := dki.NewFitter(gtab, dki.Options{
				Method:    m,
				MinSignal: cfg.DKI.MinSignal,
				NumCores:  cfg.Processing.NumCores,
			})
			if err != nil {
				return err
			}

			maps, err := fitter.FitVolume(data, mask)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			err = maps.Save(outputDir, func(path string) {
				fmt.Fprintf(out, ">>> %s\n", path)
			})
			if err != nil {
				return err
			}

			if snapshots {
				return saveSnapshots(cmd, filepath.Join(outputDir, "snapshots"), []dki.Output{
					{Name: "FA", Volume: maps.FA},
					{Name: "MD", Volume: maps.MD},
					{Name: "KFA", Volume: maps.KFA},
				})
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "Preprocessed dwi data")
	cmd.Flags().StringVarP(&maskPath, "mask", "m", "", "Mask")
	cmd.Flags().StringVarP(&bvalsPath, "bvals", "b", "", "bvals")
	cmd.Flags().StringVarP(&bvecsPath, "bvecs", "v", "", "bvecs")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory")
	cmd.Flags().StringVar(&method, "method", string(dki.WLS), "Fit method: WLS or OLS")
	cmd.Flags().BoolVar(&snapshots, "snapshots", false, "Also write mid-slice JPEG previews of FA, MD and KFA")
	for _, name := range []string{"image", "mask", "bvals", "bvecs", "output"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

// saveSnapshots writes mid-slice previews of each volume, printing every
// written path.
func saveSnapshots(cmd *cobra.Command, dir string, outputs []dki.Output) error {
	for _, o := range outputs {
		viewer, err := visualization.NewViewer(o.Volume, 0)
		if err != nil {
			return err
		}
		paths, err := viewer.SaveMidSlices(dir, o.Name)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Fprintf(cmd.OutOrStdout(), ">>> %s\n", p)
		}
	}
	return nil
}
