// Package commands implements the gogpsr CLI command tree.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// configPath is the path to the YAML configuration file, shared by every
// subcommand that needs to load one.
var configPath string

// rootCmd is the top-level cobra command for gogpsr.
var rootCmd = &cobra.Command{
	Use:   "gogpsr",
	Short: "GPSR geographic routing node",
	Long:  "gogpsr runs a GPSR (Greedy Perimeter Stateless Routing) node, forwarding datagrams by neighbor position with perimeter recovery on dead ends.",

	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (YAML); defaults are used if empty")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
