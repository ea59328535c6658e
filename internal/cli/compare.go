package cli

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"dmritools/pkg/compare"
)

func newCompareCmd() *cobra.Command {
	var (
		apBasename string
		paBasename string
		different  bool
		color      string
		rtol       float64
		atol       float64
	)

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare acquisition metadata of an AP/PA scan pair",
		Long: `Compare the affine, gradient table and sidecar parameters of two scans.

Each basename names four sibling files: <basename>.nii.gz, .bval, .bvec and
.json. Use --different when the PA scan was acquired with fewer diffusion
directions; bvals, bvecs and SliceTiming are then skipped.`,
		Example: "  dmritools compare -a sub-01_dir-AP_dwi -p sub-01_dir-PA_dwi",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := compare.Options{
				Different:         different,
				RelativeTolerance: cfg.Comparison.RelativeTolerance,
				AbsoluteTolerance: cfg.Comparison.AbsoluteTolerance,
			}
			if cmd.Flags().Changed("rtol") {
				opts.RelativeTolerance = rtol
			}
			if cmd.Flags().Changed("atol") {
				opts.AbsoluteTolerance = atol
			}
			if !cmd.Flags().Changed("color") {
				color = cfg.Output.Color
			}
			useColor, err := colorEnabled(color, cmd)
			if err != nil {
				return err
			}

			ap, pa, err := compare.LoadPair(cmd.Context(), apBasename, paBasename)
			if err != nil {
				return err
			}

			results, err := compare.NewComparator(opts).Collect(ap, pa)
			if err != nil {
				return err
			}

			report := compare.NewReport(cmd.OutOrStdout(), compare.ReportOptions{
				NameWidth: cfg.Comparison.NameWidth,
				Color:     useColor,
			})
			return report.Write(apBasename, paBasename, results)
		},
	}

	cmd.Flags().StringVarP(&apBasename, "ap-basename", "a", "", "Basename of the AP scan")
	cmd.Flags().StringVarP(&paBasename, "pa-basename", "p", "", "Basename of the PA scan")
	cmd.Flags().BoolVarP(&different, "different", "d", false, "Scans have different diffusion directions; skip bvals, bvecs and SliceTiming")
	cmd.Flags().StringVar(&color, "color", "auto", "Highlight differing fields: auto, always or never")
	cmd.Flags().Float64Var(&rtol, "rtol", compare.DefaultRelativeTolerance, "Relative tolerance for approximate equality")
	cmd.Flags().Float64Var(&atol, "atol", compare.DefaultAbsoluteTolerance, "Absolute tolerance for approximate equality")
	_ = cmd.MarkFlagRequired("ap-basename")
	_ = cmd.MarkFlagRequired("pa-basename")

	return cmd
}

// colorEnabled resolves a color mode. "auto" colors only when writing to a
// terminal.
func colorEnabled(mode string, cmd *cobra.Command) (bool, error) {
	switch mode {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "auto":
		f, ok := cmd.OutOrStdout().(*os.File)
		return ok && term.IsTerminal(int(f.Fd())), nil
	}
	return false, newUsageError("invalid --color value " + mode + ": must be auto, always or never")
}
