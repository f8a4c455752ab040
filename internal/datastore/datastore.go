package datastore

import (
	"fmt"

	"github.com/andrewhowdencom/drip/internal/kv"
	"github.com/andrewhowdencom/drip/internal/kv/bbolt"
	"github.com/andrewhowdencom/drip/internal/kv/firestore"
	"github.com/andrewhowdencom/drip/internal/kv/memory"
	"github.com/spf13/viper"
)

// NewStore creates the Store selected by datastore.type.
func NewStore() (kv.Storer, error) {
	datastoreType := viper.GetString("datastore.type")
	switch datastoreType {
	case "bbolt", "":
		return bbolt.NewStore(viper.GetString("datastore.path"))
	case "firestore":
		projectID := viper.GetString("datastore.project_id")
		if projectID == "" {
			return nil, fmt.Errorf("datastore.project_id must be set when using firestore")
		}
		return firestore.NewStore(projectID)
	case "memory":
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown datastore type: %s", datastoreType)
	}
}

// NewReadOnlyStore opens the configured store for inspection. Only the bbolt
// backend distinguishes read-only access; other backends are opened normally.
func NewReadOnlyStore() (kv.Storer, error) {
	if t := viper.GetString("datastore.type"); t == "bbolt" || t == "" {
		return bbolt.NewReadOnlyStore(viper.GetString("datastore.path"))
	}
	return NewStore()
}
