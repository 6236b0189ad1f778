package realm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestCancelWriteLeavesFileUnchanged(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	cfg := testConfig(t)

	r := openRealm(t, c, ctx, cfg)
	ann := addPerson(t, r, ctx, "Ann", 30)
	before := readFile(t, cfg.Path)

	require.NoError(t, r.BeginWrite(ctx))
	assert.True(t, r.InWriteTransaction())
	_, err := r.CreateObject(ctx, "Person", map[string]interface{}{"name": "Bob"})
	require.NoError(t, err)
	require.NoError(t, ann.Set(ctx, "age", 31))
	require.NoError(t, r.CancelWrite(ctx))

	assert.False(t, r.InWriteTransaction())
	assert.Equal(t, before, readFile(t, cfg.Path))
	assert.Equal(t, 1, countObjects(t, r, ctx, "Person"))
	age, err := ann.Get("age")
	require.NoError(t, err)
	assert.Equal(t, int64(30), age)
}

func TestWrite(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	r := openRealm(t, c, ctx, testConfig(t))
	create := func() error {
		_, err := r.CreateObject(ctx, "Person", map[string]interface{}{"name": "Ann", "age": 1})
		return err
	}

	require.NoError(t, r.Write(ctx, create))
	assert.Equal(t, 1, countObjects(t, r, ctx, "Person"))

	boom := errors.New("boom")
	err := r.Write(ctx, func() error {
		require.NoError(t, create())
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, r.InWriteTransaction())
	assert.Equal(t, 1, countObjects(t, r, ctx, "Person"))

	err = r.Write(ctx, func() error {
		require.NoError(t, create())
		return r.CancelWrite(ctx)
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, countObjects(t, r, ctx, "Person"))

	assert.Panics(t, func() {
		r.Write(ctx, func() error {
			require.NoError(t, create())
			panic("write failed")
		})
	})
	assert.False(t, r.InWriteTransaction())
	assert.Equal(t, 1, countObjects(t, r, ctx, "Person"))
}

func TestTransactionErrors(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	cfg := testConfig(t)
	r := openRealm(t, c, ctx, cfg)

	assert.ErrorIs(t, r.CommitWrite(ctx), ErrTransaction)
	assert.ErrorIs(t, r.CancelWrite(ctx), ErrTransaction)
	_, err := r.CreateObject(ctx, "Person", nil)
	assert.ErrorIs(t, err, ErrTransaction)

	require.NoError(t, r.BeginWrite(ctx))
	assert.ErrorIs(t, r.BeginWrite(ctx), ErrTransaction)

	_, err = r.CreateObject(ctx, "Unknown", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = r.CreateObject(ctx, "Person", map[string]interface{}{"height": 2})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = r.CreateObject(ctx, "Person", map[string]interface{}{"age": "old"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// One writer per file across threads.
	worker := WithThread(ctx, NewThread("worker"))
	other := openRealm(t, c, worker, cfg)
	assert.ErrorIs(t, other.BeginWrite(worker), ErrTransaction)

	require.NoError(t, r.CommitWrite(ctx))
	require.NoError(t, other.BeginWrite(worker))
	require.NoError(t, other.CancelWrite(worker))

	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.BeginWrite(ctx), ErrInvalidArgument)
}

func TestDeleteObject(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	r := openRealm(t, c, ctx, testConfig(t))
	ann := addPerson(t, r, ctx, "Ann", 30)
	bob := addPerson(t, r, ctx, "Bob", 40)

	require.NoError(t, r.Write(ctx, func() error { return r.DeleteObject(ctx, ann) }))
	assert.True(t, ann.IsInvalidated())
	assert.False(t, bob.IsInvalidated())
	_, err := ann.Get("name")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = r.ObjectForKey("Person", ann.Key())
	assert.ErrorIs(t, err, ErrInvalidArgument)
	found, err := r.ObjectForKey("Person", bob.Key())
	require.NoError(t, err)
	values, err := found.Values()
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"name": "Bob", "age": int64(40)}, values)

	err = r.Write(ctx, func() error { return r.DeleteObject(ctx, ann) })
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCloseDuringWriteRollsBack(t *testing.T) {
	c, logs := newTestCache(t)
	ctx := context.Background()
	cfg := testConfig(t)

	r := openRealm(t, c, ctx, cfg)
	before := readFile(t, cfg.Path)
	require.NoError(t, r.BeginWrite(ctx))
	_, err := r.CreateObject(ctx, "Person", map[string]interface{}{"name": "Ann"})
	require.NoError(t, err)

	require.NoError(t, r.Close())
	assert.True(t, r.IsClosed())

	entries := logs.FilterMessageSnippet("during a write transaction").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, cfg.Path, entries[0].ContextMap()["path"])

	assert.Equal(t, before, readFile(t, cfg.Path))
	r = openRealm(t, c, ctx, cfg)
	assert.Equal(t, 0, countObjects(t, r, ctx, "Person"))
}

func TestThreadConfinement(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	r := openRealm(t, c, ctx, testConfig(t))
	ann := addPerson(t, r, ctx, "Ann", 30)

	token, err := r.AddNotification(ctx, func(Notification, *Realm) {})
	require.NoError(t, err)

	other := WithThread(ctx, NewThread("other"))
	calls := map[string]func(){
		"Stop":               func() { token.Stop(other) },
		"RemoveNotification": func() { r.RemoveNotification(other, token) },
		"BeginWrite":      func() { r.BeginWrite(other) },
		"Objects":         func() { r.Objects(other, "Person", nil) },
		"AddNotification": func() { r.AddNotification(other, func(Notification, *Realm) {}) },
		"Refresh":         func() { r.Refresh(other) },
		"Set":             func() { ann.Set(other, "age", 1) },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			requirePanicKind(t, ThreadConfinementViolation, call)
		})
	}

	// The owning thread is still fine.
	assert.Same(t, r, token.Realm())
	token.Stop(ctx)
	assert.Equal(t, 1, countObjects(t, r, ctx, "Person"))
	assert.Same(t, MainThread(), ThreadFrom(ctx))
	assert.Same(t, MainThread(), r.Thread())
}

func TestCrossThreadCommitVisibleAfterRefresh(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	cfg := testConfig(t)

	r := openRealm(t, c, ctx, cfg)
	assert.Equal(t, 0, countObjects(t, r, ctx, "Person"))

	done := make(chan error)
	go func() {
		worker := WithThread(context.Background(), NewThread("worker"))
		w, err := c.Open(worker, cfg)
		if err != nil {
			done <- err
			return
		}
		err = w.Write(worker, func() error {
			_, err := w.CreateObject(worker, "Person", map[string]interface{}{"name": "Bob", "age": 40})
			return err
		})
		done <- errors.Join(err, w.Close())
	}()
	require.NoError(t, <-done)

	// The view stays where it was until the realm refreshes.
	assert.True(t, r.HasPendingChanges())
	assert.Equal(t, 0, countObjects(t, r, ctx, "Person"))
	assert.True(t, r.Refresh(ctx))
	assert.False(t, r.HasPendingChanges())
	assert.Equal(t, 1, countObjects(t, r, ctx, "Person"))
	assert.False(t, r.Refresh(ctx))
}
