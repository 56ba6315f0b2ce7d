package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goosewin/ontogen/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last recorded outcome of every ontology",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := state.InitState(); err != nil {
		return err
	}

	_, _ = state.Prune()

	records, err := state.ListRecords()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No ontologies recorded")
		fmt.Println("Generate some with: ontogen generate")
		return nil
	}

	headers := []string{"FIELD", "MODEL", "STATUS", "UPDATED", "PATH"}
	rows := make([][]string, 0, len(records))
	for _, record := range records {
		status := record.Status
		if record.Error != "" {
			status = status + " (" + truncateText(record.Error, 40) + ")"
		}
		rows = append(rows, []string{
			record.Field,
			record.Model,
			status,
			record.UpdatedAt.Local().Format("2006-01-02 15:04"),
			truncateDir(record.Path, 50),
		})
	}

	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = len(header)
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(widths, headers)
	dashes := make([]string, len(headers))
	for i, width := range widths {
		dashes[i] = strings.Repeat("-", width)
	}
	printRow(widths, dashes)
	for _, row := range rows {
		printRow(widths, row)
	}

	fmt.Println("")
	fmt.Println("Commands: ontogen logs [run-id], ontogen generate --field <name>")
	return nil
}

func printRow(widths []int, cells []string) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}
	fmt.Println(strings.TrimRight(strings.Join(parts, "  "), " "))
}

func truncateDir(dir string, max int) string {
	if max <= 0 {
		return dir
	}
	if len(dir) <= max {
		return dir
	}
	if max <= 3 {
		return dir[:max]
	}
	return "..." + dir[len(dir)-(max-3):]
}

func truncateText(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if max <= 3 || len(text) <= max {
		return text
	}
	return text[:max-3] + "..."
}
