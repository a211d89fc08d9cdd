package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"FlashLedger/internal/config"
	"FlashLedger/internal/observability"
	"FlashLedger/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back FlashLedger schema migrations",
		Long: `Reads postgres.dsn and postgres.migrations_dir from the config file
or FLASH_POSTGRES_DSN / FLASH_POSTGRES_MIGRATIONS_DIR.`,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./flashledger.yaml)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				if err := m.Up(ctx); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				fmt.Println("all migrations applied")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				if err := m.Down(ctx); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				fmt.Println("last migration rolled back")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations not yet applied",
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				pending, err := m.Pending(ctx)
				if err != nil {
					return fmt.Errorf("migrate status: %w", err)
				}
				if len(pending) == 0 {
					fmt.Println("up to date")
					return nil
				}
				for _, name := range pending {
					fmt.Println("pending:", name)
				}
				return nil
			}),
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withMigrator(fn func(context.Context, *persistence.Migrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		log := observability.NewLoggerWithLevel("migrate", observability.ParseLogLevel(cfg.Logging.Level))
		return fn(cmd.Context(), persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, log))
	}
}
