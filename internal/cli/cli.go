// Package cli provides the command-line interface for AurumGo
package cli

import (
	"fmt"
	"os"
)

// Version is reported by the version command.
const Version = "0.3.0"

// Run starts the CLI application
func Run() {
	rootCmd := NewRootCmd()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
