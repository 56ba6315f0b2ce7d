package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/goosewin/ontogen/internal/backend"
	_ "github.com/goosewin/ontogen/internal/backend/ollama"
)

var backendsModels bool

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List available model backends",
	RunE:  runBackends,
}

func init() {
	backendsCmd.Flags().BoolVar(&backendsModels, "models", false, "List the models each reachable backend serves")
	rootCmd.AddCommand(backendsCmd)
}

func runBackends(cmd *cobra.Command, args []string) error {
	if err := loadConfigForCwd(); err != nil {
		return err
	}

	names := backend.Names()
	if len(names) == 0 {
		fmt.Println("No backends registered")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tREACHABLE\tMODELS")
	fmt.Fprintln(writer, "----\t---------\t------")

	for _, name := range names {
		reachable := "no"
		models := "-"
		instance, ok := backend.Get(name)
		if ok {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			list, err := instance.Models(ctx)
			cancel()
			if err == nil {
				reachable = "yes"
				models = fmt.Sprintf("%d", len(list))
				if backendsModels && len(list) > 0 {
					models = strings.Join(list, ", ")
				}
			}
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\n", name, reachable, models)
	}

	if err := writer.Flush(); err != nil {
		return err
	}

	fmt.Println("")
	fmt.Println("Usage: ontogen generate --backend <name> --model <model>")
	return nil
}
