package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dmritools/pkg/sliceorder"
)

func newSliceOrderCmd() *cobra.Command {
	var (
		sidecarPath    string
		outputPath     string
		firstGroupOnly bool
	)

	cmd := &cobra.Command{
		Use:   "slice-order",
		Short: "Derive the multiband slice acquisition order from a JSON sidecar",
		Long: `Group slice indices by their SliceTiming value and write one row per
acquisition time, earliest first. Every group must contain exactly
MultibandAccelerationFactor slices; nothing is written when the check fails.`,
		Example: "  dmritools slice-order -s sub-01_dwi.json -o slice_order.txt",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := sliceorder.ModeStrict
			if !cfg.SliceOrder.Strict {
				mode = sliceorder.ModeFirstGroup
			}
			if cmd.Flags().Changed("first-group-only") {
				mode = sliceorder.ModeStrict
				if firstGroupOnly {
					mode = sliceorder.ModeFirstGroup
				}
			}

			order, err := sliceorder.FromSidecar(sidecarPath, mode)
			if err != nil {
				return err
			}
			if err := order.Save(outputPath); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), ">>> %s (%d groups)\n", outputPath, len(order.Groups))
			return nil
		},
	}

	cmd.Flags().StringVarP(&sidecarPath, "sidecar", "s", "", "JSON sidecar file")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output MB slice order file")
	cmd.Flags().BoolVar(&firstGroupOnly, "first-group-only", false, "Only check the size of the earliest timing group")
	_ = cmd.MarkFlagRequired("sidecar")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}
