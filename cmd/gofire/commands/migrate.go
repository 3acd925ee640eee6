package commands

import (
	"fmt"

	"github.com/RezaEskandarii/gofire-cluster/internal/db"
	"github.com/RezaEskandarii/gofire-cluster/internal/logger"
	"github.com/spf13/cobra"
)

var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		conn, dialect, err := db.Open(cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := db.Migrate(cmd.Context(), conn, dialect, dialect.DistributedLockManager(conn), logger.Component(log, "migrate")); err != nil {
			return err
		}
		fmt.Printf("schema of %s is up to date\n", dialect.Name)
		return nil
	},
}
