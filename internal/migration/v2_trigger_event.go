package migration

import (
	"log/slog"

	"github.com/andrewhowdencom/drip/internal/kv"
	"github.com/andrewhowdencom/drip/internal/model"
)

func init() {
	Register(&TriggerEventMigration{})
}

// TriggerEventMigration backfills the trigger event of campaigns created without one.
type TriggerEventMigration struct{}

// Version returns the migration version.
func (m *TriggerEventMigration) Version() int {
	return 2
}

// Description returns the migration description.
func (m *TriggerEventMigration) Description() string {
	return "Backfill default trigger event for campaigns"
}

// Up runs the migration.
func (m *TriggerEventMigration) Up(store kv.Storer) error {
	slog.Info("listing campaigns to backfill trigger events")
	campaigns, err := store.ListCampaigns()
	if err != nil {
		return err
	}

	for _, c := range campaigns {
		if c.Settings.TriggerEvent != "" {
			continue
		}
		_, err := store.UpdateCampaign(c.ID, func(c *model.Campaign) error {
			if c.Settings.TriggerEvent == "" {
				c.Settings.TriggerEvent = model.DefaultTriggerEvent
			}
			return nil
		})
		if err != nil {
			slog.Error("failed to update campaign", "id", c.ID, "error", err)
			continue
		}
	}

	return nil
}
