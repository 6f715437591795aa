// Package cmd provides the meshdirsim command-line interface.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "meshdirsim",
	Short: "meshdirsim replays scripted traces through a directory controller.",
	Long: `meshdirsim replays scripted traces through a directory controller, ` +
		`printing the events it sends and the directory state it settles into. ` +
		`It exists for manual inspection of the protocol engine, not as a ` +
		`full discrete-event simulation.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(scenarioCmd)
}
