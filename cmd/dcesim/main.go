package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set by the release build with -ldflags.
var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dcesim",
		Short: "Discrete-choice experiment simulator and HB-MNL fitting toolkit",
		Long: `dcesim simulates discrete-choice panels with known part-worths,
loads real survey panels, and fits hierarchical Bayesian multinomial logit
models to them with CmdStan.

Every simulated or loaded panel is registered as a run under
.dcesim/ in the project root, and every fit is recorded against its run
together with a parameter recovery report.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("root", ".", "Project root directory")

	rootCmd.AddCommand(
		newVersionCmd(),
		newSimulateCmd(),
		newLoadCmd(),
		newFitCmd(),
		newRunsCmd(),
		newArchiveCmd(),
		newConfigCmd(),
		newMCPServerCmd(),
	)
	return rootCmd
}
