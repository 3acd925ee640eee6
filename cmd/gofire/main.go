package main

import (
	"context"
	"fmt"
	"os"

	"github.com/RezaEskandarii/gofire-cluster/cmd/gofire/commands"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gofire",
	Short: "gofire - clustered job scheduler",
	Long: `gofire - clustered job scheduler over a shared SQL store.

Every node started with "gofire serve" against the same database joins the
cluster. Each trigger fires on exactly one node; work of a node that stops
checking in is taken over by the others.

Configuration is read from --config, ./.gofire.yaml or ~/.gofire.yaml and
GOFIRE_* environment variables (for example GOFIRE_STORAGE_POSTGRES_URL).

Examples:
  gofire migrate                          # Create or upgrade the schema
  gofire serve                            # Run a scheduler node
  gofire schedule --name nightly --job-type log --schedule "0 2 * * *"
  gofire nodes                            # List cluster members
  gofire due --window 10m                 # Triggers due in the next 10 minutes
  gofire events                           # Tail fire events from RabbitMQ`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&commands.ConfigFile, "config", "c", "", "config file (default ./.gofire.yaml or ~/.gofire.yaml)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.MigrateCmd)
	rootCmd.AddCommand(commands.ScheduleCmd)
	rootCmd.AddCommand(commands.NodesCmd)
	rootCmd.AddCommand(commands.DueCmd)
	rootCmd.AddCommand(commands.EventsCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
