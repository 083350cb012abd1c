// Package cli implements the meshgate command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "meshgate",
	Short: "meshgate — peer admission control for decentralized overlays",
	Long: `meshgate runs a node in a decentralized peer overlay.
It discovers peers over UDP broadcast, scores candidates across weighted
admission criteria backed by a decaying reputation ledger, and records
every decision in a hash-chained audit log.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
