package realm

import (
	"context"

	"realmdb/src/engine"
	"realmdb/src/schema"
)

// MigrationFunc moves data from the old schema to the new one. It runs inside
// the write transaction that updates the schema; returning an error rolls
// the whole update back.
type MigrationFunc func(ctx context.Context, m *Migration, oldVersion uint64) error

// Migration gives a migration routine two realms over the same transaction:
// Old, read-only with the schema found on disk, and New, writable with the
// target schema. Both are detached once the routine returns.
type Migration struct {
	old        *Realm
	new        *Realm
	oldVersion uint64
	newVersion uint64
}

func newMigration(c *Cache, thread *Thread, cfg Config, path string, before, after *engine.Group, target *schema.Schema) (*Migration, error) {
	oldCfg := cfg
	oldCfg.ReadOnly = true
	oldCfg.Dynamic = true
	oldCfg.Schema = nil
	oldCfg.Migration = nil
	old := newRealm(c, thread, oldCfg, path, nil, c.logger)
	old.view = before
	old.schema = before.DynamicSchema()

	newSchema := target.Clone()
	if err := alignToGroup(newSchema, after); err != nil {
		return nil, &Error{Kind: SchemaMigrationFailure, Path: path, Message: err.Error(), Err: err}
	}
	nw := newRealm(c, thread, cfg, path, nil, c.logger)
	nw.view = after
	nw.schema = newSchema

	return &Migration{
		old:        old,
		new:        nw,
		oldVersion: before.SchemaVersion(),
		newVersion: cfg.SchemaVersion,
	}, nil
}

// Old is the realm as it was before the migration.
func (m *Migration) Old() *Realm { return m.old }

// New is the realm being migrated to.
func (m *Migration) New() *Realm { return m.new }

func (m *Migration) OldSchemaVersion() uint64 { return m.oldVersion }
func (m *Migration) NewSchemaVersion() uint64 { return m.newVersion }

// Enumerate calls fn for every object of type className stored before the
// migration, with its old and new accessors. new is nil when the object type
// is not part of the new schema or the object was deleted.
func (m *Migration) Enumerate(className string, fn func(old, new *Object) error) error {
	before, err := m.old.group()
	if err != nil {
		return err
	}
	after, err := m.new.group()
	if err != nil {
		return err
	}

	table := before.Table(engine.TableNameForClass(className))
	if table == nil {
		return nil
	}
	inNew := m.new.schema.Object(className) != nil

	for _, key := range table.Keys() {
		var newObj *Object
		// fn may write to the new realm, so look the table up every time.
		if newTable := after.Table(engine.TableNameForClass(className)); inNew && newTable != nil {
			if _, ok := newTable.Get(key); ok {
				newObj = m.new.object(className, key)
			}
		}
		if err := fn(m.old.object(className, key), newObj); err != nil {
			return err
		}
	}
	return nil
}

// detach cuts both realms off the transaction.
func (m *Migration) detach() {
	for _, r := range []*Realm{m.old, m.new} {
		r.view = nil
		r.detached = true
		r.tokens = make(map[uint64]*NotificationToken)
		r.enumerators = make(map[uint64]*Enumerator)
	}
}
