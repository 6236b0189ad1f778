package engine

import (
	"fmt"

	"realmdb/src/schema"
)

// MigrationCallback is called from inside the schema update's write
// transaction. before is the snapshot the update started from, after is the
// write group with the new tables and columns already in place.
type MigrationCallback func(before, after *Group) error

// NeedsSchemaUpdate reports whether UpdateSchema(target, version, ...) would
// change anything.
func (c *Connection) NeedsSchemaUpdate(target *schema.Schema, version uint64) bool {
	g := c.Group()
	if g.SchemaVersion() != version {
		return true
	}
	for _, o := range target.Objects() {
		t := g.Table(TableNameForClass(o.ClassName))
		if t == nil || len(schema.Compare(o, t.columns)) > 0 {
			return true
		}
	}
	return false
}

// UpdateSchema brings the stored tables in line with target and sets the
// schema version, all in one write transaction.
//
// A versioned file can only move forward. Removing or changing columns needs
// a version bump; new tables and columns do not. migrate is only called when
// a versioned file moves to a new version. If it fails, nothing is changed and
// its error is returned as is, and a panic in migrate is
// passed on after the transaction is rolled back.
func (c *Connection) UpdateSchema(target *schema.Schema, version uint64, migrate MigrationCallback) error {
	if c.closed {
		return ErrClosed
	}
	if c.opts.ReadOnly {
		return ErrReadOnly
	}
	if c.write != nil {
		return ErrAlreadyInWriteTransaction
	}
	if version > schema.MaxVersion {
		return fmt.Errorf("%w: %d", ErrSchemaVersionTooLarge, version)
	}
	if err := target.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}

	if err := c.BeginWrite(); err != nil {
		return err
	}
	before, tx := c.read, c.write
	// Rolls back every early return and a panicking migrate. It is a no-op
	// once commit has ended the transaction.
	defer func() {
		if c.write == tx {
			c.CancelWrite()
		}
	}()

	stored := before.SchemaVersion()
	versioned := stored != schema.NotVersioned
	if versioned && version < stored {
		return fmt.Errorf("%w: %s is at version %d, requested %d", ErrSchemaVersionDecreased, c.opts.Path, stored, version)
	}
	bump := !versioned || version != stored

	changed, err := applySchema(tx, target, versioned && !bump)
	if err != nil {
		return err
	}

	if migrate != nil && versioned && bump {
		if err := migrate(before, tx); err != nil {
			return err
		}
	}

	if !changed && !bump {
		return nil
	}
	if err := tx.SetSchemaVersion(version); err != nil {
		return err
	}

	previous := "unversioned"
	if versioned {
		previous = fmt.Sprint(stored)
	}
	c.logger.Infow("Updating realm schema", "path", c.opts.Path, "from", previous, "to", version)
	return c.commit(JournalUpdateSchema, fmt.Sprintf("%s -> %d", previous, version))
}

// applySchema creates missing tables and applies column changes. With
// additiveOnly set, any change other than an added column or table fails
// with ErrMigrationRequired.
func applySchema(tx *Group, target *schema.Schema, additiveOnly bool) (bool, error) {
	changed := false
	for _, o := range target.Objects() {
		name := TableNameForClass(o.ClassName)
		t := tx.Table(name)
		if t == nil {
			if err := tx.CreateTable(name, o.Columns()); err != nil {
				return false, err
			}
			changed = true
			continue
		}

		changes := schema.Compare(o, t.columns)
		if additiveOnly {
			for _, ch := range changes {
				if !ch.Additive() {
					return false, fmt.Errorf("%w: %s: %s %s", ErrMigrationRequired, o.ClassName, ch.Kind, ch.Column)
				}
			}
		}

		for _, ch := range changes {
			if err := applyChange(tx, name, t.columns, ch); err != nil {
				return false, err
			}
			changed = true
		}
	}
	return changed, nil
}

func applyChange(tx *Group, table string, stored []schema.Column, ch schema.Change) error {
	switch ch.Kind {
	case schema.RemoveColumn:
		return tx.RemoveColumn(table, ch.Column)

	case schema.AddColumn:
		return tx.AddColumn(table, ch.Property.AsColumn(), ch.Property.DefaultValue())

	case schema.ChangeColumnType:
		p := ch.Property
		var old schema.Column
		for _, c := range stored {
			if c.Name == ch.Column {
				old = c
			}
		}
		if old.Type == p.Type {
			// Only optionality changed; keep the values.
			fill := p.DefaultValue()
			return tx.ReplaceColumn(table, p.AsColumn(), func(v interface{}) interface{} {
				if v == nil && !p.Optional {
					return fill
				}
				return v
			})
		}
		if err := tx.RemoveColumn(table, ch.Column); err != nil {
			return err
		}
		return tx.AddColumn(table, p.AsColumn(), p.DefaultValue())
	}
	return fmt.Errorf("unknown schema change %v", ch.Kind)
}
