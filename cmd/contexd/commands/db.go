package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/junctive/contexd/config"
	"github.com/junctive/contexd/db"
	"github.com/junctive/contexd/errors"
	"github.com/junctive/contexd/logger"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.Path == "" {
			return errors.New("no database path configured")
		}

		conn, err := db.Open(cfg.Database.Path, logger.Logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		return db.Migrate(conn, logger.Logger)
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied migrations and row counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.Path == "" {
			return errors.New("no database path configured")
		}
		return printStatus(cmd, cfg)
	},
}

func printStatus(cmd *cobra.Command, cfg *config.Config) error {
	conn, err := db.Open(cfg.Database.Path, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	rows, err := conn.Query("SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return errors.Wrap(err, "read schema migrations")
	}
	defer rows.Close()

	fmt.Fprintln(cmd.OutOrStdout(), "applied migrations:")
	for rows.Next() {
		var version, appliedAt string
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s\n", version, appliedAt)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, table := range []string{"entities", "subscriptions"} {
		var count int
		if err := conn.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", table, count)
	}
	return nil
}

func init() {
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	rootCmd.AddCommand(dbCmd)
}
