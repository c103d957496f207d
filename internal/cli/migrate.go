package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/victornm/levelup/internal/server"
	"github.com/victornm/levelup/internal/store/postgres"
)

// newMigrateCmd applies the Postgres migrations. SQLite creates its schema when opened.
func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			if c.Store.Driver != server.StorePostgres {
				return fmt.Errorf("migrate: store driver is %q, migrations only apply to %q", c.Store.Driver, server.StorePostgres)
			}
			return postgres.Migrate(cmd.Context(), c.Store.Postgres.DSN())
		},
	}
}
