package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:          "ontogen",
	Short:        "Generate scientific field ontologies with a local LLM",
	Long:         "Ontogen asks a locally served language model for an RDF Turtle ontology of each configured scientific field and stores every answer as a file.",
	Version:      Version,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
