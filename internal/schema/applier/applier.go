// Package applier implements the deterministic consume-to-store
// function: given (offset, key, value-or-tombstone) from the log, it
// mutates a Store. It is used both when replaying the log from offset 0
// to populate a fresh Store, and immediately after a successful
// sequenced write on the coordinator.
package applier

import (
	"fmt"

	"github.com/nimbusdata/schema-registry/internal/schema/store"
	"github.com/nimbusdata/schema-registry/internal/schema/types"
)

// Applier is a pure function object bound to one Store replica.
type Applier struct {
	store *store.Store
}

// New binds an Applier to a Store.
func New(s *store.Store) *Applier {
	return &Applier{store: s}
}

// Apply mutates the Store for one (offset, key, value) record. value is
// nil for a tombstone.
func (a *Applier) Apply(offset int64, key *types.RecordKey, value *types.RecordValue) error {
	subject := key.Subject()
	a.store.RecordMarker(subject, key.Marker(offset))

	switch key.Type {
	case types.KeySchema:
		return a.applySchema(key.Schema, value)
	case types.KeyConfig:
		return a.applyConfig(key.Config, value)
	case types.KeyDeleteSubject:
		return a.applyDeleteSubject(key.DeleteSubject, value)
	default:
		return fmt.Errorf("applier: unknown key type %q at offset %d", key.Type, offset)
	}
}

func (a *Applier) applySchema(key *types.SchemaKey, value *types.RecordValue) error {
	if value == nil {
		a.store.RemoveSchemaVersion(key.Subject, key.Version)
		return nil
	}
	sv := value.Schema
	a.store.UpsertSchemaVersion(key.Subject, key.Version, sv.ID, sv.Type, sv.Schema, sv.Deleted)
	return nil
}

func (a *Applier) applyConfig(key *types.ConfigKey, value *types.RecordValue) error {
	if value == nil {
		if key.Subject == "" {
			// A tombstone of the global config key has no defined
			// recovery target; the registry falls back to the
			// implementation default, same as if it were never set.
			a.store.ClearGlobalCompatibility()
			return nil
		}
		a.store.ClearCompatibility(key.Subject)
		return nil
	}
	a.store.SetCompatibility(key.Subject, value.Config.Compatibility)
	return nil
}

func (a *Applier) applyDeleteSubject(key *types.DeleteSubjectKey, value *types.RecordValue) error {
	if value == nil {
		a.store.ClearSubjectDeleted(key.Subject)
		return nil
	}
	a.store.SetSubjectDeleted(key.Subject, value.DeleteSubject.Version)
	return nil
}
