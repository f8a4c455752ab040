package migration

import (
	"log/slog"

	"github.com/andrewhowdencom/drip/internal/kv"
)

func init() {
	Register(&RebuildIndexMigration{})
}

// RebuildIndexMigration recreates the campaign subscription index.
type RebuildIndexMigration struct{}

// Version returns the migration version.
func (m *RebuildIndexMigration) Version() int {
	return 1
}

// Description returns the migration description.
func (m *RebuildIndexMigration) Description() string {
	return "Rebuild campaign subscription index"
}

// Up runs the migration.
func (m *RebuildIndexMigration) Up(store kv.Storer) error {
	slog.Info("rebuilding campaign subscription index")
	return store.RebuildIndex()
}
