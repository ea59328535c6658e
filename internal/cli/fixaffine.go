package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dmritools/pkg/affine"
)

func newFixAffineCmd() *cobra.Command {
	var apBasename, paBasename string

	cmd := &cobra.Command{
		Use:   "fix-affine",
		Short: "Make the affine of the PA image match the AP image",
		Long: `Replace the sform of <pa>.nii.gz with the affine of <ap>.nii.gz when the
two differ. The PA file is rewritten in place; voxel data and qform are kept.`,
		Example: "  dmritools fix-affine -a sub-01_dir-AP_dwi -p sub-01_dir-PA_dwi",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "fixing the affine matrix of %s to match %s ...\n", paBasename, apBasename)

			changed, err := affine.Fix(apBasename+".nii.gz", paBasename+".nii.gz")
			if err != nil {
				return err
			}
			if !changed {
				fmt.Fprintln(out, "image affines are equal. not modifying ...")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&apBasename, "ap-basename", "a", "", "Basename of the AP scan")
	cmd.Flags().StringVarP(&paBasename, "pa-basename", "p", "", "Basename of the PA scan")
	_ = cmd.MarkFlagRequired("ap-basename")
	_ = cmd.MarkFlagRequired("pa-basename")

	return cmd
}
