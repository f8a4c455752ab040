package cmd

import (
	"fmt"
	"io"

	"github.com/andrewhowdencom/drip/internal/kv"
	"github.com/andrewhowdencom/drip/internal/migration"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate stored data to a newer format.",
}

var migrateDbCmd = &cobra.Command{
	Use:   "db",
	Short: "Apply all pending database migrations.",
	Long:  `Apply all pending database migrations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := datastoreNewStore()
		if err != nil {
			return fmt.Errorf("failed to create datastore: %w", err)
		}
		defer store.Close()

		return doMigrateDB(store, cmd.OutOrStdout())
	},
}

func doMigrateDB(store kv.Storer, w io.Writer) error {
	pending, err := migration.Pending(store)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Fprintf(w, "Database is up to date at version %d.\n", migration.Latest())
		return nil
	}

	applied, err := migration.Apply(store)
	for _, m := range applied {
		fmt.Fprintf(w, "Applied migration %d: %s\n", m.Version(), m.Description())
	}
	return err
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateDbCmd)
}
