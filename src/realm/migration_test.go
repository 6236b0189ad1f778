package realm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realmdb/src/schema"
)

func personSchemaV1() *schema.Schema {
	return schema.New(schema.NewObjectSchema("Person",
		schema.NewProperty("name", schema.String),
		schema.NewProperty("age", schema.Int),
		schema.NewProperty("count", schema.Int),
	))
}

// seedV0 creates a version 0 file holding two people and closes it.
func seedV0(t *testing.T, c *Cache) Config {
	t.Helper()
	ctx := context.Background()
	cfg := testConfig(t)
	r := openRealm(t, c, ctx, cfg)
	addPerson(t, r, ctx, "Ann", 3)
	addPerson(t, r, ctx, "Bob", 4)
	require.NoError(t, r.Close())
	return cfg
}

func TestMigrationAddsProperty(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	v1 := seedV0(t, c)
	v1.Schema = personSchemaV1()
	v1.SchemaVersion = 1

	calls := 0
	v1.Migration = func(ctx context.Context, m *Migration, oldVersion uint64) error {
		calls++
		assert.Equal(t, uint64(0), oldVersion)
		assert.Equal(t, uint64(0), m.OldSchemaVersion())
		assert.Equal(t, uint64(1), m.NewSchemaVersion())
		assert.Nil(t, m.Old().Schema().Object("Person").Property("count"))
		assert.NotNil(t, m.New().Schema().Object("Person").Property("count"))
		assert.True(t, m.Old().ReadOnly())
		assert.True(t, m.New().InWriteTransaction())
		assert.Equal(t, 2, countObjects(t, m.Old(), ctx, "Person"))
		return nil
	}

	r := openRealm(t, c, ctx, v1)
	assert.Equal(t, 1, calls)
	objects, err := mustResults(t, r, ctx, "Person").Snapshot()
	require.NoError(t, err)
	require.Len(t, objects, 2)
	for _, o := range objects {
		count, err := o.Get("count")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	}
	version, err := r.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
	require.NoError(t, r.Close())

	// The file is now at version 1; opening it again does not migrate.
	openRealm(t, c, ctx, v1)
	assert.Equal(t, 1, calls)
}

func TestMigrationEnumerate(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	v1 := seedV0(t, c)
	v1.Schema = personSchemaV1()
	v1.SchemaVersion = 1
	v1.Migration = func(ctx context.Context, m *Migration, _ uint64) error {
		return m.Enumerate("Person", func(old, new *Object) error {
			age, err := old.Get("age")
			if err != nil {
				return err
			}
			_, err = old.Get("count")
			assert.ErrorIs(t, err, ErrInvalidArgument)
			return new.Set(ctx, "count", age.(int64)*10)
		})
	}

	r := openRealm(t, c, ctx, v1)
	objects, err := mustResults(t, r, ctx, "Person").Snapshot()
	require.NoError(t, err)
	counts := map[interface{}]interface{}{}
	for _, o := range objects {
		name, err := o.Get("name")
		require.NoError(t, err)
		counts[name], err = o.Get("count")
		require.NoError(t, err)
	}
	assert.Equal(t, map[interface{}]interface{}{"Ann": int64(30), "Bob": int64(40)}, counts)
}

func TestMigrationFailureRollsBack(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	v0 := seedV0(t, c)
	before := readFile(t, v0.Path)

	boom := errors.New("boom")
	v1 := v0
	v1.Schema = personSchemaV1()
	v1.SchemaVersion = 1
	v1.Migration = func(ctx context.Context, m *Migration, _ uint64) error {
		assert.NoError(t, m.Enumerate("Person", func(_, new *Object) error {
			return new.Set(ctx, "count", 1)
		}))
		return boom
	}

	_, err := c.Open(ctx, v1)
	assert.ErrorIs(t, err, ErrSchemaMigration)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "Migration failed: boom")

	assert.Equal(t, before, readFile(t, v0.Path))
	version, err := c.SchemaVersionAtPath(v0.Path, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), version)

	r := openRealm(t, c, ctx, v0)
	assert.Equal(t, 2, countObjects(t, r, ctx, "Person"))
}

func TestMigrationPanicRollsBack(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	v0 := seedV0(t, c)
	before := readFile(t, v0.Path)

	v1 := v0
	v1.Schema = personSchemaV1()
	v1.SchemaVersion = 1
	v1.Migration = func(context.Context, *Migration, uint64) error {
		panic("migration bug")
	}
	assert.PanicsWithValue(t, "migration bug", func() { c.Open(ctx, v1) })

	assert.Equal(t, before, readFile(t, v0.Path))
	assert.Empty(t, c.live)

	r := openRealm(t, c, ctx, v0)
	require.NoError(t, r.BeginWrite(ctx))
	require.NoError(t, r.CancelWrite(ctx))
	require.NoError(t, r.Close())

	v1.Migration = nil
	r = openRealm(t, c, ctx, v1)
	version, err := r.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
}

func TestMigrationRealmsDetachedAfterwards(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	v1 := seedV0(t, c)
	v1.Schema = personSchemaV1()
	v1.SchemaVersion = 1

	var kept *Migration
	var oldObj, newObj *Object
	v1.Migration = func(ctx context.Context, m *Migration, _ uint64) error {
		kept = m
		assert.ErrorIs(t, m.New().BeginWrite(ctx), ErrTransaction)
		assert.ErrorIs(t, m.New().CommitWrite(ctx), ErrTransaction)
		_, err := m.Old().CreateObject(ctx, "Person", nil)
		assert.ErrorIs(t, err, ErrReadOnly)
		return m.Enumerate("Person", func(old, new *Object) error {
			oldObj, newObj = old, new
			return nil
		})
	}
	openRealm(t, c, ctx, v1)
	require.NotNil(t, kept)

	for _, r := range []*Realm{kept.Old(), kept.New()} {
		_, err := r.Objects(ctx, "Person", nil)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.ErrorIs(t, r.BeginWrite(ctx), ErrInvalidArgument)
		assert.False(t, r.InWriteTransaction())
		assert.NoError(t, r.Close())
	}
	for _, o := range []*Object{oldObj, newObj} {
		_, err := o.Get("name")
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.True(t, o.IsInvalidated())
	}
	assert.ErrorIs(t, kept.Enumerate("Person", func(_, _ *Object) error { return nil }), ErrInvalidArgument)
}

func TestMigrationErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("version decreased", func(t *testing.T) {
		c, _ := newTestCache(t)
		cfg := testConfig(t)
		cfg.SchemaVersion = 2
		r := openRealm(t, c, ctx, cfg)
		require.NoError(t, r.Close())

		cfg.SchemaVersion = 1
		_, err := c.Open(ctx, cfg)
		assert.ErrorIs(t, err, ErrSchemaMigration)
	})

	t.Run("removal needs a version bump", func(t *testing.T) {
		c, _ := newTestCache(t)
		cfg := seedV0(t, c)
		cfg.Schema = schema.New(schema.NewObjectSchema("Person", schema.NewProperty("name", schema.String)))
		_, err := c.Open(ctx, cfg)
		assert.ErrorIs(t, err, ErrSchemaMigration)
	})

	t.Run("additive change without a bump", func(t *testing.T) {
		c, _ := newTestCache(t)
		cfg := seedV0(t, c)
		called := false
		cfg.Schema = personSchemaV1()
		cfg.Migration = func(context.Context, *Migration, uint64) error {
			called = true
			return nil
		}
		r := openRealm(t, c, ctx, cfg)
		assert.False(t, called)
		assert.NotNil(t, r.Schema().Object("Person").Property("count"))
	})
}

func TestSecondThreadSharesSchema(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	worker := WithThread(ctx, NewThread("worker"))
	v1 := seedV0(t, c)
	v1.Schema = personSchemaV1()
	v1.SchemaVersion = 1
	calls := 0
	v1.Migration = func(context.Context, *Migration, uint64) error {
		calls++
		return nil
	}

	r := openRealm(t, c, ctx, v1)
	w := openRealm(t, c, worker, v1)
	assert.Equal(t, 1, calls)
	assert.NotSame(t, r.Schema(), w.Schema())
	assert.Equal(t, r.Schema().String(), w.Schema().String())

	v2 := v1
	v2.SchemaVersion = 2
	_, err := c.Open(WithThread(ctx, NewThread("late")), v2)
	assert.ErrorIs(t, err, ErrSchemaMigration)
	assert.Equal(t, 1, calls)
}

func TestMigrateWithoutOpening(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	v0 := seedV0(t, c)
	v1 := v0
	v1.Schema = personSchemaV1()
	v1.SchemaVersion = 1

	r := openRealm(t, c, ctx, v0)
	assert.ErrorIs(t, c.Migrate(ctx, v1), ErrSchemaMigration)
	require.NoError(t, r.Close())

	require.NoError(t, c.Migrate(ctx, v1))
	version, err := c.SchemaVersionAtPath(v1.Path, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
	assert.Empty(t, c.live)

	// Nothing left to do.
	require.NoError(t, c.Migrate(ctx, v1))

	r = openRealm(t, c, ctx, v1)
	assert.Equal(t, 2, countObjects(t, r, ctx, "Person"))
}
