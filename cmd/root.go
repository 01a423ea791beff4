// Package cmd holds the docengine CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "docengine",
	Short: "Document retrieval and chat engine",
	Long: `docengine ingests workspace documents into a tenant-scoped vector
index and answers questions about them over a JSON HTTP API.

Run "docengine serve" to start the server.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
