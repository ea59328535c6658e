package cli

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dmritools/internal/models"
	"dmritools/pkg/config"
)

// DefaultConfigPath is read when --config is not given. A missing file
// yields the built-in defaults.
const DefaultConfigPath = "dmritools.yaml"

// cfg is loaded once per invocation before any subcommand runs
var cfg = config.DefaultConfig()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dmritools",
		Short: "Diffusion MRI preprocessing and quality control utilities",
		Long: `dmritools bundles small, independent diffusion MRI utilities:

  compare       compare acquisition metadata of an AP/PA scan pair
  slice-order   derive the multiband slice acquisition order from a sidecar
  fix-affine    make the PA image affine match the AP image
  dki-fit       fit the diffusion kurtosis model
  eigen2tensor  build a tensor image from eigenvalues and eigenvectors
  snapshot      write mid-slice JPEG previews of an image

Exit Codes:
  0  - Success
  1  - General error
  2  - CLI usage error
  3  - Panic or unexpected system error
  10 - Invalid configuration
  20 - Missing input file or unusable sidecar key
  21 - Array shape mismatch
  22 - Slice order consistency check failed`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
	}

	root.PersistentFlags().String("config", DefaultConfigPath, "Path to YAML configuration file")
	root.PersistentFlags().BoolP("verbose", "V", false, "Enable debug logging")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newCompareCmd(),
		newSliceOrderCmd(),
		newFixAffineCmd(),
		newDKIFitCmd(),
		newEigen2TensorCmd(),
		newSnapshotCmd(),
		newConfigCmd(),
	)
	return root
}

// loadConfig reads the configuration file and applies the global flags
func loadConfig(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	loaded, err := config.LoadConfig(path)
	if err != nil {
		return err
	}
	cfg = loaded

	if cmd.Flags().Changed("verbose") {
		cfg.Output.Verbose, _ = cmd.Flags().GetBool("verbose")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Output.LogLevel, _ = cmd.Flags().GetString("log-level")
	}

	return setupLogging(cmd.ErrOrStderr(), cfg.Output.LogLevel, cfg.Output.Verbose)
}

// setupLogging configures the global logrus logger
func setupLogging(w io.Writer, level string, verbose bool) error {
	log.SetOutput(w)
	log.SetFormatter(&log.TextFormatter{
		DisableTimestamp: true,
	})

	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	if verbose {
		lvl = log.DebugLevel
	}
	log.SetLevel(lvl)
	return nil
}

// Execute runs the root command and reports any error on stderr
func Execute() error {
	root := newRootCmd()
	err := root.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}
