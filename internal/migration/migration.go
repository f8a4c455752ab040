package migration

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/andrewhowdencom/drip/internal/kv"
)

// Migration is one schema upgrade. Up must be safe to run against a store
// that already holds some upgraded records.
type Migration interface {
	Version() int
	Description() string
	Up(store kv.Storer) error
}

var migrations []Migration

// Register adds m to the set of known migrations. Versions must be unique.
func Register(m Migration) {
	for _, existing := range migrations {
		if existing.Version() == m.Version() {
			panic(fmt.Sprintf("migration: version %d registered twice", m.Version()))
		}
	}
	migrations = append(migrations, m)
}

// Latest returns the highest registered migration version.
func Latest() int {
	latest := 0
	for _, m := range migrations {
		if m.Version() > latest {
			latest = m.Version()
		}
	}
	return latest
}

// Pending returns the migrations that have not yet been applied to store, in order.
func Pending(store kv.Storer) ([]Migration, error) {
	currentVersion, err := store.GetSchemaVersion()
	if err != nil {
		return nil, fmt.Errorf("failed to get schema version: %w", err)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version() < migrations[j].Version()
	})

	var pending []Migration
	for _, m := range migrations {
		if m.Version() > currentVersion {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// Apply runs the pending migrations in version order and returns the ones
// that completed. The schema version is advanced after each, so a failure
// leaves the store at the last good version.
func Apply(store kv.Storer) ([]Migration, error) {
	pending, err := Pending(store)
	if err != nil {
		return nil, err
	}

	var applied []Migration
	for _, m := range pending {
		log := slog.With("version", m.Version(), "description", m.Description())
		log.Info("running migration")
		if err := m.Up(store); err != nil {
			return applied, fmt.Errorf("migration %d failed: %w", m.Version(), err)
		}
		if err := store.SetSchemaVersion(m.Version()); err != nil {
			return applied, fmt.Errorf("failed to set schema version %d: %w", m.Version(), err)
		}
		applied = append(applied, m)
	}

	slog.Info("migrations are up to date", "applied", len(applied), "version", Latest())
	return applied, nil
}
