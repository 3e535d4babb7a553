package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rezonia/nfse-issuer/internal/adapters/postgres"
	"github.com/rezonia/nfse-issuer/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply PostgreSQL schema migrations",
	Long: `Apply every pending migration to the database named by store.postgres_url
(env: NFSE_STORE_POSTGRES_URL) and print the resulting schema version.

Examples:
  NFSE_STORE_POSTGRES_URL=postgres://nfse@localhost/nfse nfse migrate --store postgres`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if cfg.Store.Driver != config.DriverPostgres {
		return errors.New("migrate requires the postgres store driver")
	}

	db, err := postgres.Connect(cmd.Context(), cfg.Store.PostgresURL)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(cmd.Context()); err != nil {
		return err
	}
	version, err := db.MigrationVersion(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Schema at version %d\n", version)
	return nil
}
