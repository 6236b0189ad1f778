package helpers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "present")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	assert.True(t, FileExists(path, nil))
	assert.False(t, FileExists(filepath.Join(dir, "missing"), nil))
	assert.False(t, FileExists(dir, nil), "directories are not files")
}

func TestBSONCodec(t *testing.T) {
	type doc struct {
		Name  string `bson:"name"`
		Count int64  `bson:"count"`
	}

	data, err := EncodeBSON(doc{Name: "a", Count: 3})
	require.NoError(t, err)

	var out doc
	require.NoError(t, DecodeBSON(data, &out))
	assert.Equal(t, doc{Name: "a", Count: 3}, out)

	assert.Error(t, DecodeBSON([]byte{1, 2, 3}, &out))
}

func TestDeriveKey(t *testing.T) {
	salt := []byte("0123456789abcdef")

	k1, err := DeriveKey("correct horse", salt)
	require.NoError(t, err)
	assert.Len(t, k1, KeySize)

	k2, err := DeriveKey("correct horse", salt)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := DeriveKey("battery staple", salt)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	_, err = DeriveKey("", salt)
	assert.Error(t, err)
	_, err = DeriveKey("x", []byte("short"))
	assert.Error(t, err)
}

func TestNewSalt(t *testing.T) {
	a, err := NewSalt(16)
	require.NoError(t, err)
	assert.Len(t, a, 16)

	b, err := NewSalt(16)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = DeriveKey("correct horse", a)
	assert.NoError(t, err)
}

func TestStripQuotes(t *testing.T) {
	assert.Equal(t, "abc", StripQuotes(`"abc"`))
	assert.Equal(t, "abc", StripQuotes(" 'abc' "))
	assert.Equal(t, `"abc`, StripQuotes(`"abc`))
	assert.Equal(t, `"abc'`, StripQuotes(`"abc'`))
	assert.Equal(t, `"`, StripQuotes(`"`))
}
