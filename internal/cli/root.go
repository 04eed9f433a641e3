// Package cli wires the flowgate commands.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "flowgate",
	Short: "Information-flow policy gateway for agent executions",
	Long: "Tracks how data flows through an agent execution and decides, at every\n" +
		"external effect boundary, whether the flow is allowed by a declarative\n" +
		"policy. Decisions are audited in a tamper-evident hash chain.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
