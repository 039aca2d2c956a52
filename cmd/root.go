// Package cmd contains the strand CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "strand",
	Short: "strand - retrieval-augmented chat assistant service",
	Long: `strand runs the chat assistant behind /ask: it stores channel
messages, mirrors them into a pgvector similarity index, and answers
questions from recent history plus semantically similar messages.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
