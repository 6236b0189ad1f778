package realm

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"realmdb/src/schema"
)

func TestMain(m *testing.M) {
	// Tests may run under a tracer; only the debugger tests turn detection on.
	debuggerAttached = func() bool { return false }
	os.Exit(m.Run())
}

func newTestCache(t *testing.T) (*Cache, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	c := NewCache(zap.New(core).Sugar())
	t.Cleanup(c.Reset)
	return c, logs
}

func personSchema() *schema.Schema {
	return schema.New(schema.NewObjectSchema("Person",
		schema.NewProperty("name", schema.String),
		schema.NewProperty("age", schema.Int),
	))
}

func testConfig(t *testing.T) Config {
	return Config{Path: filepath.Join(t.TempDir(), "test.realm"), Schema: personSchema()}
}

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, 64)
}

func openRealm(t *testing.T, c *Cache, ctx context.Context, cfg Config) *Realm {
	t.Helper()
	r, err := c.Open(ctx, cfg)
	require.NoError(t, err)
	return r
}

func addPerson(t *testing.T, r *Realm, ctx context.Context, name string, age int) *Object {
	t.Helper()
	var o *Object
	require.NoError(t, r.Write(ctx, func() error {
		var err error
		o, err = r.CreateObject(ctx, "Person", map[string]interface{}{"name": name, "age": age})
		return err
	}))
	return o
}

func countObjects(t *testing.T, r *Realm, ctx context.Context, class string) int {
	t.Helper()
	res, err := r.Objects(ctx, class, nil)
	require.NoError(t, err)
	n, err := res.Len()
	require.NoError(t, err)
	return n
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

// requirePanicKind runs fn and checks that it panics with an *Error of kind.
func requirePanicKind(t *testing.T, kind ErrorKind, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		err, ok := recover().(*Error)
		require.True(t, ok, "expected a panic with *Error")
		assert.Equal(t, kind, err.Kind)
	}()
	fn()
}
