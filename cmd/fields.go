package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/goosewin/ontogen/internal/backend"
	"github.com/goosewin/ontogen/internal/config"
	"github.com/goosewin/ontogen/internal/core"
	"github.com/goosewin/ontogen/internal/state"
)

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "List the fields a generate run would query",
	Args:  cobra.NoArgs,
	RunE:  runFields,
}

func init() {
	rootCmd.AddCommand(fieldsCmd)
}

func runFields(cmd *cobra.Command, args []string) error {
	if err := loadConfigForCwd(); err != nil {
		return err
	}

	backendName := config.GetString("defaults.backend", backend.DefaultName())
	outputDir := config.GetString("defaults.output_dir", config.DefaultOutputDir)
	fields := resolveFields(nil)

	writer := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tFIELD\tARTIFACT\tEXISTS\tLAST STATUS")
	fmt.Fprintln(writer, "-\t-----\t--------\t------\t-----------")
	for i, field := range fields {
		path := core.ArtifactPath(field, backendName, outputDir)
		exists := "no"
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			exists = "yes"
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\n", i+1, field, path, exists, lastStatus(path))
	}
	return writer.Flush()
}

// lastStatus reports the most recent recorded outcome for an artifact, or "-"
// when none was recorded or the state file is unreadable.
func lastStatus(path string) string {
	record, found, err := state.GetRecord(path)
	if err != nil || !found || record.Status == "" {
		return "-"
	}
	return record.Status
}
